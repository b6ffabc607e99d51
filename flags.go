package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfigFile = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to a yaml config file",
	EnvVars:  []string{"CONFIG_FILE"},
	Required: false,
}

var FlagClientID = &cli.StringFlag{
	Name:        "client-id",
	Usage:       "mqtt client identity, generated when not set",
	EnvVars:     []string{"CLIENT_ID"},
	Value:       uuid.NewString(),
	DefaultText: "random uuid",
	Required:    false,
}

var FlagAccessToken = &cli.StringFlag{
	Name:     "access-token",
	Usage:    "cloud account access token",
	EnvVars:  []string{"THINQ_ACCESS_TOKEN"},
	Required: false,
}

var FlagUserNumber = &cli.StringFlag{
	Name:     "user-number",
	Usage:    "cloud account user number",
	EnvVars:  []string{"THINQ_USER_NUMBER"},
	Required: false,
}

var FlagGatewayURL = &cli.StringFlag{
	Name:     "gateway-url",
	Usage:    "base url of the enrollment api",
	EnvVars:  []string{"THINQ_GATEWAY_URL"},
	Required: false,
}

var FlagCountry = &cli.StringFlag{
	Name:     "country",
	Usage:    "account country code",
	EnvVars:  []string{"THINQ_COUNTRY"},
	Value:    "US",
	Required: false,
}

var FlagServiceCode = &cli.StringFlag{
	Name:     "service-code",
	EnvVars:  []string{"THINQ_SERVICE_CODE"},
	Value:    "SVC202",
	Required: false,
}

var FlagBroker = &cli.StringFlag{
	Name:     "broker",
	Usage:    "host:port, skips the route lookup when set",
	EnvVars:  []string{"MQTT_BROKER"},
	Required: false,
}

var FlagInsecureSkipVerify = &cli.BoolFlag{
	Name:     "insecure-skip-verify",
	Usage:    "do not verify the broker certificate",
	EnvVars:  []string{"TLS_INSECURE_SKIP_VERIFY"},
	Required: false,
}

var FlagAllowLegacyTLS = &cli.BoolFlag{
	Name:     "allow-legacy-tls",
	Usage:    "accept TLS versions below 1.2",
	EnvVars:  []string{"TLS_ALLOW_LEGACY"},
	Required: false,
}

var FlagCAFile = &cli.StringFlag{
	Name:     "ca-file",
	Usage:    "pem bundle used to verify the broker",
	EnvVars:  []string{"TLS_CA_FILE"},
	Required: false,
}

var FlagReconnectInitialDelay = &cli.DurationFlag{
	Name:     "reconnect-initial-delay",
	EnvVars:  []string{"RECONNECT_INITIAL_DELAY"},
	Value:    time.Second,
	Required: false,
}

var FlagReconnectMaxDelay = &cli.DurationFlag{
	Name:     "reconnect-max-delay",
	EnvVars:  []string{"RECONNECT_MAX_DELAY"},
	Value:    16 * time.Second,
	Required: false,
}

var FlagDevice = &cli.StringSliceFlag{
	Name:     "device",
	Usage:    "device id to follow, may be repeated",
	EnvVars:  []string{"DEVICES"},
	Required: false,
}

var FlagRedisAddr = &cli.StringFlag{
	Name:     "redis-addr",
	Usage:    "host:port, mirrors device snapshots when set",
	EnvVars:  []string{"REDIS_ADDR"},
	Required: false,
}

var FlagRedisPassword = &cli.StringFlag{
	Name:     "redis-password",
	EnvVars:  []string{"REDIS_PASSWORD"},
	Required: false,
}

var FlagRedisDB = &cli.IntFlag{
	Name:     "redis-db",
	EnvVars:  []string{"REDIS_DB"},
	Required: false,
}

var FlagRedisTTL = &cli.DurationFlag{
	Name:     "redis-ttl",
	Usage:    "snapshot expiry, 0 keeps snapshots",
	EnvVars:  []string{"REDIS_TTL"},
	Required: false,
}

var FlagStatusAddr = &cli.StringFlag{
	Name:     "status-addr",
	Usage:    "listen address of the status endpoints, disabled when empty",
	EnvVars:  []string{"STATUS_ADDR"},
	Required: false,
}

var FlagReportInterval = &cli.DurationFlag{
	Name:     "report-interval",
	EnvVars:  []string{"REPORT_INTERVAL"},
	Value:    30 * time.Second,
	Required: false,
}

var FlagMQTTDebug = &cli.BoolFlag{
	Name:     "mqtt-debug",
	Usage:    "log paho debug output",
	EnvVars:  []string{"MQTT_DEBUG"},
	Required: false,
}
