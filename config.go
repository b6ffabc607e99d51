package main

import (
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"appliance-telemetry/application"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ClientID    string            `yaml:"client_id"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Broker      string            `yaml:"broker"`
	TLS         TLSConfig         `yaml:"tls"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Redis       RedisConfig       `yaml:"redis"`
	Status      StatusConfig      `yaml:"status"`
	Devices     []string          `yaml:"devices"`
}

type GatewayConfig struct {
	BaseURL     string `yaml:"base_url"`
	Country     string `yaml:"country"`
	ServiceCode string `yaml:"service_code"`
}

type CredentialsConfig struct {
	AccessToken string `yaml:"access_token"`
	UserNumber  string `yaml:"user_number"`
}

type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	AllowLegacyTLS     bool   `yaml:"allow_legacy_tls"`
	CAFile             string `yaml:"ca_file"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type StatusConfig struct {
	Addr           string        `yaml:"addr"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LoadConfig reads the YAML file at path. An empty path yields an empty
// config that flags fill in.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// FlagSource is satisfied by *cli.Context.
type FlagSource interface {
	IsSet(name string) bool
	String(name string) string
	StringSlice(name string) []string
	Bool(name string) bool
	Int(name string) int
	Duration(name string) time.Duration
}

// ApplyFlags overrides file values with flags given on the command line or in
// the environment. Flag defaults only fill values the file left empty.
func (c *Config) ApplyFlags(f FlagSource) {
	str := func(dst *string, name string) {
		if f.IsSet(name) || *dst == "" {
			*dst = f.String(name)
		}
	}
	dur := func(dst *time.Duration, name string) {
		if f.IsSet(name) || *dst == 0 {
			*dst = f.Duration(name)
		}
	}

	str(&c.ClientID, FlagClientID.Name)
	str(&c.Gateway.BaseURL, FlagGatewayURL.Name)
	str(&c.Gateway.Country, FlagCountry.Name)
	str(&c.Gateway.ServiceCode, FlagServiceCode.Name)
	str(&c.Credentials.AccessToken, FlagAccessToken.Name)
	str(&c.Credentials.UserNumber, FlagUserNumber.Name)
	str(&c.Broker, FlagBroker.Name)
	str(&c.TLS.CAFile, FlagCAFile.Name)
	str(&c.Redis.Addr, FlagRedisAddr.Name)
	str(&c.Redis.Password, FlagRedisPassword.Name)
	str(&c.Status.Addr, FlagStatusAddr.Name)

	dur(&c.Reconnect.InitialDelay, FlagReconnectInitialDelay.Name)
	dur(&c.Reconnect.MaxDelay, FlagReconnectMaxDelay.Name)
	dur(&c.Redis.TTL, FlagRedisTTL.Name)
	dur(&c.Status.ReportInterval, FlagReportInterval.Name)

	if f.IsSet(FlagInsecureSkipVerify.Name) {
		c.TLS.InsecureSkipVerify = f.Bool(FlagInsecureSkipVerify.Name)
	}
	if f.IsSet(FlagAllowLegacyTLS.Name) {
		c.TLS.AllowLegacyTLS = f.Bool(FlagAllowLegacyTLS.Name)
	}
	if f.IsSet(FlagRedisDB.Name) {
		c.Redis.DB = f.Int(FlagRedisDB.Name)
	}
	if f.IsSet(FlagDevice.Name) {
		c.Devices = f.StringSlice(FlagDevice.Name)
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.ClientID == "" {
		errs = append(errs, "client_id is required")
	}
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.base_url is required")
	}
	if c.Credentials.AccessToken == "" {
		errs = append(errs, "credentials.access_token is required")
	}
	if c.Broker != "" {
		if _, err := c.BrokerRoute(); err != nil {
			errs = append(errs, fmt.Sprintf("broker: %v", err))
		}
	}
	if c.Reconnect.MaxDelay != 0 && c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		errs = append(errs, "reconnect.max_delay must not be below reconnect.initial_delay")
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for _, id := range c.Devices {
		if id == "" {
			errs = append(errs, "devices must not contain empty ids")
			continue
		}
		if _, ok := seen[id]; ok {
			errs = append(errs, fmt.Sprintf("device %s is listed twice", id))
		}
		seen[id] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BrokerRoute parses the host:port broker override.
func (c *Config) BrokerRoute() (application.Route, error) {
	host, port, err := net.SplitHostPort(c.Broker)
	if err != nil {
		return application.Route{}, err
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return application.Route{}, fmt.Errorf("invalid port %q", port)
	}

	route := application.Route{Host: host, Port: p}
	return route, route.Validate()
}

func (c *Config) TLSPolicy() (application.TLSPolicy, error) {
	policy := application.TLSPolicy{
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		AllowLegacyTLS:     c.TLS.AllowLegacyTLS,
	}
	if c.TLS.CAFile == "" {
		return policy, nil
	}

	data, err := os.ReadFile(c.TLS.CAFile)
	if err != nil {
		return policy, fmt.Errorf("reading ca file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return policy, fmt.Errorf("no certificates found in %s", c.TLS.CAFile)
	}
	policy.RootCAs = pool
	return policy, nil
}

func (c *Config) AccountCredentials() application.Credentials {
	return application.Credentials{
		AccessToken: c.Credentials.AccessToken,
		UserNumber:  c.Credentials.UserNumber,
	}
}

func (c *Config) AccountGateway() application.Gateway {
	return application.Gateway{
		BaseURL:     strings.TrimSuffix(c.Gateway.BaseURL, "/"),
		CountryCode: c.Gateway.Country,
		ServiceCode: c.Gateway.ServiceCode,
	}
}
