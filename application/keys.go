package application

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
)

// KeyPair is the locally held client key and the CSR derived from it.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	CSR        []byte
}

// NewKeyPair creates a P-256 key and a PEM encoded CSR with commonName set
// to the client id.
func NewKeyPair(clientID string) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: clientID},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("create csr: %w", err)
	}

	return &KeyPair{
		PrivateKey: key,
		CSR:        pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}),
	}, nil
}

// Certificate binds an issued PEM certificate to the local private key.
func (k *KeyPair) Certificate(certPEM []byte) (tls.Certificate, error) {
	der, err := x509.MarshalECPrivateKey(k.PrivateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	return cert, nil
}
