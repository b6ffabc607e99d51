package application

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Enroll(ctx context.Context, req EnrollRequest) (*Enrollment, error) {
	args := m.Called(ctx, req)

	var enrollment *Enrollment
	if v := args.Get(0); v != nil {
		enrollment = v.(*Enrollment)
	}
	return enrollment, args.Error(1)
}

var _ Provisioner = &MockProvisioner{}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect() error {
	return m.Called().Error(0)
}

func (m *MockTransport) Disconnect() {
	m.Called()
}

func (m *MockTransport) Subscribe(topic string) error {
	return m.Called(topic).Error(0)
}

// SubscribedTopics returns the topics passed to Subscribe in call order.
func (m *MockTransport) SubscribedTopics() []string {
	var topics []string
	for _, call := range m.Calls {
		if call.Method == "Subscribe" {
			topics = append(topics, call.Arguments.String(0))
		}
	}
	return topics
}

var _ Transport = &MockTransport{}

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockSession) Close() error {
	return m.Called().Error(0)
}

func (m *MockSession) Wait() {
	m.Called()
}

func (m *MockSession) Attach(deviceID string, consumer Consumer) error {
	return m.Called(deviceID, consumer).Error(0)
}

func (m *MockSession) Status() ClientStatus {
	return m.Called().Get(0).(ClientStatus)
}

var _ TelemetrySession = &MockSession{}

type recordingConsumer struct {
	mu     sync.Mutex
	merges []map[string]any
}

func (c *recordingConsumer) Merge(reported map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merges = append(c.merges, reported)
}

func (c *recordingConsumer) Merges() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.merges...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions [][2]ConnectionState
}

func (r *transitionRecorder) OnStateChange(prev, next ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]ConnectionState{prev, next})
}

func (r *transitionRecorder) Transitions() [][2]ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]ConnectionState(nil), r.transitions...)
}

// issueCertificate signs the key pair's CSR with a throwaway CA.
func issueCertificate(t *testing.T, keys *KeyPair) []byte {
	t.Helper()

	block, _ := pem.Decode(keys.CSR)
	require.NotNil(t, block)
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      csr.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, csr.PublicKey, caKey)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
