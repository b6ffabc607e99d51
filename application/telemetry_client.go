package application

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"
)

type TelemetryClientParams struct {
	ClientID    string
	Credentials Credentials
	Gateway     Gateway
	Route       Route
	TLSPolicy   TLSPolicy

	Provisioner      Provisioner
	NewTransportFunc NewTransportFunc

	// OnStateChange is called synchronously on every state transition. It
	// must not call Connect, Disconnect or Close.
	OnStateChange func(prev, next ConnectionState)

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// for testing
	Sleep          func(time.Duration)
	NewKeyPairFunc func(clientID string) (*KeyPair, error)

	Log zerolog.Logger
}

func (p *TelemetryClientParams) EnsureDefaults() {
	if p.InitialReconnectDelay == 0 {
		p.InitialReconnectDelay = InitialReconnectDelay
	}

	if p.MaxReconnectDelay == 0 {
		p.MaxReconnectDelay = MaxReconnectDelay
	}

	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}

	if p.NewKeyPairFunc == nil {
		p.NewKeyPairFunc = NewKeyPair
	}
}

// IssuedCertificate is the client certificate granted at enrollment together
// with the topics this identity may subscribe to.
type IssuedCertificate struct {
	Certificate tls.Certificate
	Topics      []string
}

func (c *IssuedCertificate) release() {
	c.Certificate = tls.Certificate{}
	c.Topics = nil
}

type ClientStatus struct {
	State     ConnectionState
	Devices   int
	Router    RouterStatus
	Reconnect int
}

// TelemetryClient keeps a certificate authenticated broker session alive and
// routes monitoring messages to attached consumers.
//
// Connect must not be called twice without an intervening Disconnect.
type TelemetryClient struct {
	params TelemetryClientParams

	registry *SnapshotRegistry
	router   *MessageRouter
	backoff  *Backoff

	// gate serializes reconnect cycles against each other and against Disconnect.
	gate     *semaphore.Weighted
	cycles   conc.WaitGroup
	cyclesMu sync.Mutex

	state        atomic.Uint32
	transitionMu sync.Mutex

	disposed            atomic.Bool
	disconnectRequested atomic.Bool

	mu        sync.Mutex
	transport Transport
	options   *TransportOptions
	issued    *IssuedCertificate

	log zerolog.Logger
}

func NewTelemetryClient(params TelemetryClientParams) (*TelemetryClient, error) {
	if params.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if params.Provisioner == nil {
		return nil, fmt.Errorf("Provisioner is nil")
	}
	if params.NewTransportFunc == nil {
		return nil, fmt.Errorf("NewTransportFunc is nil")
	}
	if err := params.Route.Validate(); err != nil {
		return nil, err
	}
	params.EnsureDefaults()

	registry := NewSnapshotRegistry()
	return &TelemetryClient{
		params:   params,
		registry: registry,
		router: NewMessageRouter(MessageRouterParams{
			Registry: registry,
			Log:      params.Log.With().Str("module", "router").Logger(),
		}),
		backoff: NewBackoff(params.InitialReconnectDelay, params.MaxReconnectDelay),
		gate:    semaphore.NewWeighted(1),
		log:     params.Log,
	}, nil
}

// Connect enrolls a fresh certificate and starts a broker connection. It
// returns once the connection attempt is underway; the outcome is observed
// through state changes.
func (c *TelemetryClient) Connect(ctx context.Context) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	keys, err := c.params.NewKeyPairFunc(c.params.ClientID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	enrollment, err := c.params.Provisioner.Enroll(ctx, EnrollRequest{
		ClientID:    c.params.ClientID,
		Credentials: c.params.Credentials,
		Gateway:     c.params.Gateway,
		CSR:         keys.CSR,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	cert, err := keys.Certificate(enrollment.CertificatePEM)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	issued := &IssuedCertificate{
		Certificate: cert,
		Topics:      append([]string(nil), enrollment.Topics...),
	}
	options := TransportOptions{
		Host:        c.params.Route.Host,
		Port:        c.params.Route.Port,
		TLS:         true,
		ClientID:    c.params.ClientID,
		Certificate: cert,
		TLSPolicy:   c.params.TLSPolicy,
	}

	transport, err := c.params.NewTransportFunc(options, c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.issued != nil {
		c.issued.release()
	}
	c.issued = issued
	c.transport = transport
	c.options = &options
	c.mu.Unlock()

	c.disconnectRequested.Store(false)

	c.log.Info().
		Str("broker", c.params.Route.Endpoint()).
		Int("topics", len(issued.Topics)).
		Msg("connecting")

	if err := transport.Connect(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	return nil
}

// Disconnect stops the session. It waits for an in-flight reconnect cycle to
// finish, and no reconnect is attempted afterwards.
func (c *TelemetryClient) Disconnect() error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	c.disconnectRequested.Store(true)

	if err := c.gate.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	transport, ok := c.cachedTransport()
	if !ok {
		return nil
	}

	c.log.Info().Msg("disconnecting")
	transport.Disconnect()
	c.transitionFrom(StateConnected, StateDisconnected)
	return nil
}

// Close releases the certificate, the transport and all attached consumers.
// It is safe to call while a reconnect cycle is running; the cycle notices
// the released transport and stops.
func (c *TelemetryClient) Close() error {
	c.cyclesMu.Lock()
	swapped := c.disposed.CompareAndSwap(false, true)
	c.cyclesMu.Unlock()
	if !swapped {
		return ErrDisposed
	}
	c.disconnectRequested.Store(true)

	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.options = nil
	if c.issued != nil {
		c.issued.release()
		c.issued = nil
	}
	c.mu.Unlock()

	if transport != nil {
		transport.Disconnect()
	}
	c.registry.Clear()
	c.transitionFrom(StateConnected, StateDisconnected)

	c.log.Info().Msg("client closed")
	return nil
}

// Wait blocks until all running reconnect cycles have returned.
func (c *TelemetryClient) Wait() {
	c.cycles.Wait()
}

func (c *TelemetryClient) Attach(deviceID string, consumer Consumer) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	c.registry.Attach(deviceID, consumer)
	return nil
}

func (c *TelemetryClient) Detach(deviceID string) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	c.registry.Detach(deviceID)
	return nil
}

func (c *TelemetryClient) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *TelemetryClient) DeviceIDs() []string {
	return c.registry.DeviceIDs()
}

func (c *TelemetryClient) Status() ClientStatus {
	return ClientStatus{
		State:     c.State(),
		Devices:   c.registry.Len(),
		Router:    c.router.Status(),
		Reconnect: c.backoff.Attempts(),
	}
}

func (c *TelemetryClient) OnConnect() {
	c.transitionMu.Lock()
	if c.disposed.Load() || c.disconnectRequested.Load() {
		c.transitionMu.Unlock()
		c.dropLateSession()
		return
	}
	c.backoff.Reset()
	c.transitionLocked(StateConnected)
	c.transitionMu.Unlock()

	c.subscribe()
}

func (c *TelemetryClient) OnConnectionLost(err error) {
	c.cyclesMu.Lock()
	defer c.cyclesMu.Unlock()

	// Wait may already be running after teardown.
	if c.disposed.Load() {
		c.log.Debug().Err(err).Msg("connection lost after close")
		return
	}
	c.cycles.Go(func() {
		c.reconnect(err)
	})
}

func (c *TelemetryClient) OnMessage(topic string, payload []byte) {
	c.router.Route(topic, payload)
}

func (c *TelemetryClient) subscribe() {
	c.mu.Lock()
	transport := c.transport
	var topics []string
	if c.issued != nil {
		topics = c.issued.Topics
	}
	c.mu.Unlock()

	if transport == nil {
		return
	}

	if len(topics) == 0 {
		c.log.Error().Err(ErrNoSubscriptions).Msg("connected without subscriptions")
		return
	}

	for _, topic := range topics {
		if err := transport.Subscribe(topic); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("failed to subscribe")
			continue
		}
		c.log.Debug().Str("topic", topic).Msg("subscribed")
	}
}

func (c *TelemetryClient) reconnect(cause error) {
	if err := c.gate.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer c.gate.Release(1)

	switch prev := c.setState(StateDisconnected); prev {
	case StateNotConnected:
		c.log.Warn().Err(cause).Msg("initial connection failed")
	case StateConnected:
		c.log.Warn().Err(cause).Msg("connection lost")
	default:
		c.log.Debug().Err(cause).Msg("reconnect attempt failed")
	}

	if c.disconnectRequested.Load() {
		c.log.Info().Msg("disconnect requested, not reconnecting")
		return
	}

	if _, ok := c.cachedTransport(); !ok {
		c.log.Info().Msg("transport released, not reconnecting")
		return
	}

	delay := c.backoff.Next()
	c.log.Info().
		Dur("delay", delay).
		Int("attempt", c.backoff.Attempts()).
		Msg("reconnecting")
	c.params.Sleep(delay)

	transport, ok := c.cachedTransport()
	if !ok {
		c.log.Info().Msg("transport released during backoff, not reconnecting")
		return
	}

	// A failed attempt shows up as another OnConnectionLost.
	if err := transport.Connect(); err != nil {
		c.log.Debug().Err(err).Msg("reconnect attempt failed to start")
	}

	// Close sets disposed before it disconnects the transport.
	if c.disposed.Load() {
		c.log.Info().Msg("client closed during reconnect, dropping attempt")
		transport.Disconnect()
	}
}

// dropLateSession handles a handshake that completes after Disconnect or
// Close. The state stays Disconnected.
func (c *TelemetryClient) dropLateSession() {
	c.log.Info().Msg("session established after disconnect, dropping it")

	if transport, ok := c.cachedTransport(); ok {
		transport.Disconnect()
	}
}

func (c *TelemetryClient) cachedTransport() (Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil || c.options == nil {
		return nil, false
	}
	return c.transport, true
}

// setState moves to next and returns the previous state. Notifications fire
// only on actual changes.
func (c *TelemetryClient) setState(next ConnectionState) ConnectionState {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	return c.transitionLocked(next)
}

func (c *TelemetryClient) transitionFrom(from, next ConnectionState) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()
	if ConnectionState(c.state.Load()) != from {
		return
	}
	c.transitionLocked(next)
}

func (c *TelemetryClient) transitionLocked(next ConnectionState) ConnectionState {
	prev := ConnectionState(c.state.Load())
	if prev == next || next == StateNotConnected {
		return prev
	}

	c.state.Store(uint32(next))
	c.log.Info().Stringer("from", prev).Stringer("to", next).Msg("connection state changed")

	if c.params.OnStateChange != nil {
		c.params.OnStateChange(prev, next)
	}
	return prev
}

var _ TransportHandler = &TelemetryClient{}
