package application

import (
	"crypto/tls"
	"crypto/x509"
)

// TLSPolicy controls how the broker's certificate is validated.
//
// InsecureSkipVerify and AllowLegacyTLS weaken transport security and exist
// only to match brokers that cannot be validated otherwise.
type TLSPolicy struct {
	InsecureSkipVerify bool
	AllowLegacyTLS     bool
	RootCAs            *x509.CertPool
}

// Config builds a tls.Config presenting the given client certificate.
func (p TLSPolicy) Config(cert tls.Certificate) *tls.Config {
	cfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: p.InsecureSkipVerify,
		RootCAs:            p.RootCAs,
		MinVersion:         tls.VersionTLS12,
	}
	if p.AllowLegacyTLS {
		cfg.MinVersion = tls.VersionTLS10
	}
	return cfg
}

type TransportOptions struct {
	Host        string
	Port        int
	TLS         bool
	ClientID    string
	Certificate tls.Certificate
	TLSPolicy   TLSPolicy
}

// TransportHandler receives transport events. Calls may arrive concurrently
// and on goroutines owned by the transport.
type TransportHandler interface {
	OnConnect()
	OnConnectionLost(err error)
	OnMessage(topic string, payload []byte)
}

// Transport is a broker session. Connect is non-blocking: its outcome is
// reported through the TransportHandler.
type Transport interface {
	Connect() error
	Disconnect()
	Subscribe(topic string) error
}

type NewTransportFunc func(options TransportOptions, handler TransportHandler) (Transport, error)
