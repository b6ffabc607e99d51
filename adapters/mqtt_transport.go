package adapters

import (
	"fmt"
	"sync/atomic"
	"time"

	"appliance-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout   = 30 * time.Second
	MQTTDefaultSubscribeTimeout = 10 * time.Second
	MQTTDefaultKeepAlive        = 60 * time.Second
	MQTTDefaultQoS              = byte(1)

	mqttDisconnectQuiesce = 250 // milliseconds

	// paho fails the connect token itself after ConnectTimeout; the local
	// wait only guards against a token that never completes.
	mqttConnectWaitMargin = 5 * time.Second
)

var (
	ErrMQTTSubscribeTimeout = fmt.Errorf("subscribe timeout")
	ErrMQTTNoHandler        = fmt.Errorf("transport handler is nil")
	ErrMQTTClosed           = fmt.Errorf("transport closed")
)

type MQTTTransportParams struct {
	Options application.TransportOptions
	Handler application.TransportHandler

	QoS              byte
	ConnectTimeout   time.Duration
	SubscribeTimeout time.Duration
	KeepAlive        time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTTransportParams) EnsureDefaults() {
	if m.QoS == 0 {
		m.QoS = MQTTDefaultQoS
	}

	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTTransport is a paho backed broker session. paho's own reconnect logic
// is disabled; losses are reported to the handler which decides what to do.
type MQTTTransport struct {
	params MQTTTransportParams

	client mqtt.Client
	closed atomic.Bool

	log zerolog.Logger
}

func NewMQTTTransport(params MQTTTransportParams) (*MQTTTransport, error) {
	if params.Handler == nil {
		return nil, ErrMQTTNoHandler
	}
	if params.Options.Host == "" || params.Options.Port == 0 {
		return nil, fmt.Errorf("broker host and port are required")
	}
	if params.Options.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	params.EnsureDefaults()

	m := &MQTTTransport{params: params, log: params.Log}
	m.client = m.newMqttClient()
	return m, nil
}

// NewMQTTTransportFunc adapts NewMQTTTransport to application.NewTransportFunc.
func NewMQTTTransportFunc(log zerolog.Logger) application.NewTransportFunc {
	return func(options application.TransportOptions, handler application.TransportHandler) (application.Transport, error) {
		return NewMQTTTransport(MQTTTransportParams{
			Options: options,
			Handler: handler,
			Log:     log,
		})
	}
}

// Connect starts a connection attempt and returns immediately. A failed
// attempt is reported through OnConnectionLost.
func (m *MQTTTransport) Connect() error {
	if m.closed.Load() {
		return ErrMQTTClosed
	}
	token := m.client.Connect()

	go func() {
		wait := m.params.ConnectTimeout + mqttConnectWaitMargin
		if !token.WaitTimeout(wait) {
			m.params.Handler.OnConnectionLost(fmt.Errorf("connect timeout after %v", wait))
			return
		}
		if err := token.Error(); err != nil {
			m.params.Handler.OnConnectionLost(err)
		}
	}()

	return nil
}

// Disconnect ends the session for good. A handshake still in flight is torn
// down when it completes and Connect fails afterwards.
func (m *MQTTTransport) Disconnect() {
	m.closed.Store(true)
	m.client.Disconnect(mqttDisconnectQuiesce)
}

func (m *MQTTTransport) Subscribe(topic string) error {
	token := m.client.Subscribe(topic, m.params.QoS, m.MessageHandler)

	tc := time.NewTimer(m.params.SubscribeTimeout)
	defer tc.Stop()

	select {
	case <-tc.C:
		return ErrMQTTSubscribeTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTTransport) MessageHandler(client mqtt.Client, msg mqtt.Message) {
	m.params.Handler.OnMessage(msg.Topic(), msg.Payload())
}

func (m *MQTTTransport) OnConnect(client mqtt.Client) {
	if m.closed.Load() {
		m.log.Info().Msg("connected after disconnect, closing session")
		client.Disconnect(mqttDisconnectQuiesce)
		return
	}
	m.log.Info().Msgf("connected")
	m.params.Handler.OnConnect()
}

func (m *MQTTTransport) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	m.params.Handler.OnConnectionLost(err)
}

func (m *MQTTTransport) newMqttClient() mqtt.Client {
	o := m.params.Options
	opts := mqtt.NewClientOptions()

	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(o.TLSPolicy.Config(o.Certificate))
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port))
	opts.SetClientID(o.ClientID)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetKeepAlive(m.params.KeepAlive)

	opts.SetDefaultPublishHandler(m.MessageHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

var _ application.Transport = &MQTTTransport{}
