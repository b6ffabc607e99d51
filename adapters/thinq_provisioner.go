package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"appliance-telemetry/application"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ThinQDefaultTimeout    = 15 * time.Second
	ThinQDefaultDeviceType = "607"
	thinqResultOK          = "0000"
)

var (
	ErrThinQRequestFailed = fmt.Errorf("thinq request failed")
	ErrThinQResultCode    = fmt.Errorf("thinq unexpected result code")
	ErrThinQInvalidRoute  = fmt.Errorf("thinq invalid route")
)

type Response[T any] struct {
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
	Response  T      `json:"response"`
}

type RouteInfo struct {
	MQTTServer string `json:"mqttServer"`
}

type ClientRegisterRequest struct {
	Type        string `json:"type"`
	ServiceCode string `json:"service-code"`
	DeviceType  string `json:"device-type"`
	AllowExist  bool   `json:"allowExist"`
}

type Result[T any] struct {
	ResultCode string `json:"resultCode"`
	Result     T      `json:"result"`
}

type CertificateRequest struct {
	ServiceCode string `json:"service-code"`
	CSR         string `json:"csr"`
}

type CertificateInfo struct {
	CertificatePem string   `json:"certificatePem"`
	Subscriptions  []string `json:"subscriptions"`
	Publications   []string `json:"publications"`
}

type ThinQProvisionerParams struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	DeviceType string

	Log zerolog.Logger
}

func (p *ThinQProvisionerParams) EnsureDefaults() {
	if p.Timeout == 0 {
		p.Timeout = ThinQDefaultTimeout
	}

	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: p.Timeout}
	}

	if p.DeviceType == "" {
		p.DeviceType = ThinQDefaultDeviceType
	}
}

// ThinQProvisioner trades a CSR for a client certificate and topic grants
// over the cloud's HTTP API.
type ThinQProvisioner struct {
	params ThinQProvisionerParams

	log zerolog.Logger
}

func NewThinQProvisioner(params ThinQProvisionerParams) *ThinQProvisioner {
	params.EnsureDefaults()
	return &ThinQProvisioner{params: params, log: params.Log}
}

// ResolveRoute looks up the broker the account should connect to.
func (t *ThinQProvisioner) ResolveRoute(ctx context.Context, gateway application.Gateway) (application.Route, error) {
	var resp Response[RouteInfo]
	err := t.do(ctx, http.MethodGet, gateway.BaseURL+"/route", headers{gateway: gateway}, nil, &resp)
	if err != nil {
		return application.Route{}, err
	}

	route, err := parseMQTTServer(resp.Response.MQTTServer)
	if err != nil {
		return application.Route{}, err
	}

	t.log.Info().Str("broker", route.Endpoint()).Msg("resolved broker route")
	return route, nil
}

func (t *ThinQProvisioner) Enroll(ctx context.Context, req application.EnrollRequest) (*application.Enrollment, error) {
	h := headers{
		gateway:     req.Gateway,
		credentials: req.Credentials,
		clientID:    req.ClientID,
	}

	var registered Response[json.RawMessage]
	err := t.do(ctx, http.MethodPost, req.Gateway.BaseURL+"/service/users/client", h, ClientRegisterRequest{
		Type:        "MQTT",
		ServiceCode: req.Gateway.ServiceCode,
		DeviceType:  t.params.DeviceType,
		AllowExist:  true,
	}, &registered)
	if err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}

	var issued Response[Result[CertificateInfo]]
	err = t.do(ctx, http.MethodPost, req.Gateway.BaseURL+"/service/users/client/certificate", h, CertificateRequest{
		ServiceCode: req.Gateway.ServiceCode,
		CSR:         string(req.CSR),
	}, &issued)
	if err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}

	if issued.Response.ResultCode != thinqResultOK {
		return nil, fmt.Errorf("%w: %s", ErrThinQResultCode, issued.Response.ResultCode)
	}
	if issued.Response.Result.CertificatePem == "" {
		return nil, fmt.Errorf("issue certificate: empty certificate")
	}

	t.log.Info().
		Str("client_id", req.ClientID).
		Int("subscriptions", len(issued.Response.Result.Subscriptions)).
		Msg("client certificate issued")

	return &application.Enrollment{
		CertificatePEM: []byte(issued.Response.Result.CertificatePem),
		Topics:         issued.Response.Result.Subscriptions,
	}, nil
}

type headers struct {
	gateway     application.Gateway
	credentials application.Credentials
	clientID    string
}

func (h headers) apply(r *http.Request) {
	r.Header.Set("Accept", "application/json")
	r.Header.Set("x-message-id", uuid.NewString())
	r.Header.Set("x-country", h.gateway.CountryCode)
	r.Header.Set("x-service-code", h.gateway.ServiceCode)
	if h.clientID != "" {
		r.Header.Set("x-client-id", h.clientID)
	}
	if h.credentials.AccessToken != "" {
		r.Header.Set("Authorization", "Bearer "+h.credentials.AccessToken)
	}
	if h.credentials.UserNumber != "" {
		r.Header.Set("x-user-no", h.credentials.UserNumber)
	}
}

func (t *ThinQProvisioner) do(ctx context.Context, method, endpoint string, h headers, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	h.apply(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.params.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrThinQRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrThinQRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("request rejected")
		return fmt.Errorf("%w: %s %s: status %d", ErrThinQRequestFailed, method, endpoint, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrThinQRequestFailed, err)
	}
	return nil
}

func parseMQTTServer(server string) (application.Route, error) {
	if server == "" {
		return application.Route{}, fmt.Errorf("%w: empty mqtt server", ErrThinQInvalidRoute)
	}
	if !strings.Contains(server, "://") {
		server = "ssl://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return application.Route{}, fmt.Errorf("%w: %w", ErrThinQInvalidRoute, err)
	}

	port := 8883
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return application.Route{}, fmt.Errorf("%w: %w", ErrThinQInvalidRoute, err)
		}
	}

	route := application.Route{Host: u.Hostname(), Port: port}
	if err := route.Validate(); err != nil {
		return application.Route{}, fmt.Errorf("%w: %w", ErrThinQInvalidRoute, err)
	}
	return route, nil
}

var _ application.Provisioner = &ThinQProvisioner{}
