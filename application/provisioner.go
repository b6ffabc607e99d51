package application

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Credentials identify the account the client enrolls under.
type Credentials struct {
	AccessToken string
	UserNumber  string
}

// Gateway describes the regional enrollment endpoint.
type Gateway struct {
	BaseURL     string
	CountryCode string
	ServiceCode string
}

// Route is the broker endpoint the client connects to.
type Route struct {
	Host string
	Port int
}

func (r Route) Endpoint() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Route) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("route host is empty")
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("route port %d out of range", r.Port)
	}
	return nil
}

type EnrollRequest struct {
	ClientID    string
	Credentials Credentials
	Gateway     Gateway
	// CSR is the PEM encoded certificate signing request.
	CSR []byte
}

// Enrollment is what the provisioner hands back for a CSR.
type Enrollment struct {
	CertificatePEM []byte
	Topics         []string
}

type Provisioner interface {
	Enroll(ctx context.Context, req EnrollRequest) (*Enrollment, error)
}
