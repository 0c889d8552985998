package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	defaultModbusPort = 502
	defaultMQTTPort   = 1883
	defaultClientID   = "FranklinWH"
	defaultSleep      = 30
	defaultErrorSleep = 60
	defaultDumpPath   = "./data/agate_dump.json"
	defaultTimeout    = 10 * time.Second
	defaultAckTimeout = 30 * time.Second
)

// DeviceConfig holds the Modbus/TCP connection settings
type DeviceConfig struct {
	Address string
	Port    int
	Timeout time.Duration
}

// HostPort returns the device address in host:port form
func (c DeviceConfig) HostPort() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// BrokerConfig holds the MQTT connection settings
type BrokerConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ClientID       string
	Retain         bool
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
}

// URL returns the broker address in the form paho expects
func (c BrokerConfig) URL() string {
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasCredentials reports whether a username or password was supplied
func (c BrokerConfig) HasCredentials() bool {
	return c.Username != "" || c.Password != ""
}

// Config is built once at startup and never modified
type Config struct {
	Device     DeviceConfig
	Broker     BrokerConfig
	Sleep      time.Duration
	ErrorSleep time.Duration
	DumpJSON   bool
	DumpPath   string
	Console    bool
}

// envLookup returns the value of an environment variable, or "" if unset
type envLookup func(key string) string

// envString returns the env value or the fallback
func envString(getenv envLookup, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt parses an integer env value, falling back when unset
func envInt(getenv envLookup, key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Err: err}
	}
	return n, nil
}

// envDuration parses a duration env value, falling back when unset
func envDuration(getenv envLookup, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Err: err}
	}
	return d, nil
}

// envBool parses a boolean env value, falling back when unset
func envBool(getenv envLookup, key string, fallback bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Field: key, Err: err}
	}
	return b, nil
}

// loadConfig builds a Config from command line arguments. Every flag
// defaults to its environment variable so a .env file can stand in for flags.
func loadConfig(args []string, getenv envLookup) (Config, error) {
	ipPort, err := envInt(getenv, "SUNSPEC_IP_PORT", defaultModbusPort)
	if err != nil {
		return Config{}, err
	}
	modbusTimeout, err := envDuration(getenv, "SUNSPEC_TIMEOUT", defaultTimeout)
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := envInt(getenv, "MQTT_PORT", defaultMQTTPort)
	if err != nil {
		return Config{}, err
	}
	retain, err := envBool(getenv, "MQTT_RETAIN", false)
	if err != nil {
		return Config{}, err
	}
	ackTimeout, err := envDuration(getenv, "MQTT_ACK_TIMEOUT", defaultAckTimeout)
	if err != nil {
		return Config{}, err
	}
	sleep, err := envInt(getenv, "POLL_SLEEP", defaultSleep)
	if err != nil {
		return Config{}, err
	}
	errorSleep, err := envInt(getenv, "POLL_ERROR_SLEEP", defaultErrorSleep)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	fs := flag.NewFlagSet("agate2mqtt", flag.ContinueOnError)
	fs.StringVar(&cfg.Device.Address, "ip-addr", getenv("SUNSPEC_IP_ADDR"), "IP address of the SunSpec device")
	fs.IntVar(&cfg.Device.Port, "ip-port", ipPort, "TCP port of the SunSpec device")
	fs.DurationVar(&cfg.Device.Timeout, "modbus-timeout", modbusTimeout, "Modbus request timeout")
	fs.StringVar(&cfg.Broker.Host, "mqtt-host", getenv("MQTT_HOST"), "Hostname / IP of the MQTT broker")
	fs.IntVar(&cfg.Broker.Port, "mqtt-port", mqttPort, "Port of the MQTT broker")
	fs.StringVar(&cfg.Broker.Username, "mqtt-user", getenv("MQTT_USERNAME"), "MQTT username (optional)")
	fs.StringVar(&cfg.Broker.Password, "mqtt-pass", getenv("MQTT_PASSWORD"), "MQTT password (optional)")
	fs.StringVar(&cfg.Broker.ClientID, "client-id", envString(getenv, "MQTT_CLIENT_ID", defaultClientID), "Client ID used when connecting to MQTT")
	fs.BoolVar(&cfg.Broker.Retain, "retain", retain, "Publish with the MQTT retain flag")
	fs.DurationVar(&cfg.Broker.AckTimeout, "ack-timeout", ackTimeout, "Maximum wait for publish acknowledgements")
	sleepSecs := fs.Int("sleep", sleep, "Normal polling interval in seconds")
	errorSleepSecs := fs.Int("error-sleep", errorSleep, "Sleep time after an error before retrying, in seconds")
	fs.BoolVar(&cfg.DumpJSON, "dump-json", false, "Write a one-off JSON dump of the raw SunSpec data and exit")
	fs.StringVar(&cfg.DumpPath, "dump-path", defaultDumpPath, "Destination of the JSON dump")
	fs.BoolVar(&cfg.Console, "console", false, "Start the interactive debug console")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, &ConfigError{Field: "flags", Err: err}
	}

	cfg.Sleep = time.Duration(*sleepSecs) * time.Second
	cfg.ErrorSleep = time.Duration(*errorSleepSecs) * time.Second
	cfg.Broker.ConnectTimeout = defaultTimeout

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// validate checks required settings and ranges
func (c Config) validate() error {
	if c.Device.Address == "" {
		return &ConfigError{Field: "ip-addr", Err: errors.New("required (flag or SUNSPEC_IP_ADDR)")}
	}
	if !validPort(c.Device.Port) {
		return &ConfigError{Field: "ip-port", Err: fmt.Errorf("%d out of range", c.Device.Port)}
	}
	if c.Device.Timeout <= 0 {
		return &ConfigError{Field: "modbus-timeout", Err: errors.New("must be positive")}
	}

	// Dump mode never touches the broker
	if c.DumpJSON {
		if c.DumpPath == "" {
			return &ConfigError{Field: "dump-path", Err: errors.New("required with -dump-json")}
		}
		return nil
	}

	if c.Broker.Host == "" {
		return &ConfigError{Field: "mqtt-host", Err: errors.New("required (flag or MQTT_HOST)")}
	}
	if !validPort(c.Broker.Port) {
		return &ConfigError{Field: "mqtt-port", Err: fmt.Errorf("%d out of range", c.Broker.Port)}
	}
	if c.Broker.ClientID == "" {
		return &ConfigError{Field: "client-id", Err: errors.New("must not be empty")}
	}
	if c.Broker.AckTimeout <= 0 {
		return &ConfigError{Field: "ack-timeout", Err: errors.New("must be positive")}
	}
	if c.Sleep <= 0 {
		return &ConfigError{Field: "sleep", Err: errors.New("must be positive")}
	}
	if c.ErrorSleep <= 0 {
		return &ConfigError{Field: "error-sleep", Err: errors.New("must be positive")}
	}
	return nil
}
