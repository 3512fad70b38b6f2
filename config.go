package main

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/acd/actronneo/internal/nimbus"
	"github.com/acd/actronneo/neo"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// duration lets TOML files spell durations as "90s" or "2m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	Serial          string   `toml:"serial"`
	BaseURL         string   `toml:"base_url"`
	RefreshInterval duration `toml:"refresh_interval"`
	APITimeout      duration `toml:"api_timeout"`
	ZoneControl     bool     `toml:"zone_control"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerReset    duration `toml:"breaker_reset"`

	HTTPPort int `toml:"http_port"`

	MQTTServer   string `toml:"mqtt_server"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTUsername string `toml:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"`
	MQTTPrefix   string `toml:"mqtt_prefix"`
	HassPrefix   string `toml:"hass_prefix"`

	LogLevel string `toml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		BaseURL:         nimbus.DefaultBaseURL,
		RefreshInterval: duration{neo.DefaultRefreshInterval},
		APITimeout:      duration{nimbus.DefaultTimeout},
		BreakerFailures: 3,
		BreakerReset:    duration{2 * time.Minute},
		HTTPPort:        8080,
		MQTTClientID:    "actronneo",
		MQTTPrefix:      "actronneo",
		HassPrefix:      "homeassistant",
		LogLevel:        "info",
	}
}

// parseConfig reads the command line. Values from the -config file are
// applied first; flags given explicitly on the command line win.
func parseConfig(args []string, output io.Writer) (*Config, error) {
	cfg := defaultConfig()
	flags := cfg

	fs := flag.NewFlagSet("actronneo", flag.ContinueOnError)
	fs.SetOutput(output)
	path := fs.String("config", "", "path to a TOML config file")
	fs.StringVar(&flags.Username, "username", cfg.Username, "ActronAir account username")
	fs.StringVar(&flags.Password, "password", cfg.Password, "ActronAir account password")
	fs.StringVar(&flags.Serial, "serial", cfg.Serial, "system serial; the first system on the account if empty")
	fs.StringVar(&flags.BaseURL, "api", cfg.BaseURL, "Nimbus API base URL")
	fs.DurationVar(&flags.RefreshInterval.Duration, "interval", cfg.RefreshInterval.Duration, "refresh interval")
	fs.DurationVar(&flags.APITimeout.Duration, "timeout", cfg.APITimeout.Duration, "API request timeout")
	fs.BoolVar(&flags.ZoneControl, "zonecontrol", cfg.ZoneControl, "accept zone commands")
	fs.IntVar(&flags.BreakerFailures, "breakerfailures", cfg.BreakerFailures, "consecutive API failures before it is considered down")
	fs.DurationVar(&flags.BreakerReset.Duration, "breakerreset", cfg.BreakerReset.Duration, "how long the API is considered down")
	fs.IntVar(&flags.HTTPPort, "httpport", cfg.HTTPPort, "HTTP port to listen on")
	fs.StringVar(&flags.MQTTServer, "mqtt", cfg.MQTTServer, "MQTT broker URL; bridge disabled if empty")
	fs.StringVar(&flags.MQTTClientID, "mqttclientid", cfg.MQTTClientID, "MQTT client id")
	fs.StringVar(&flags.MQTTUsername, "mqttuser", cfg.MQTTUsername, "MQTT username")
	fs.StringVar(&flags.MQTTPassword, "mqttpass", cfg.MQTTPassword, "MQTT password")
	fs.StringVar(&flags.MQTTPrefix, "mqttprefix", cfg.MQTTPrefix, "MQTT topic prefix")
	fs.StringVar(&flags.HassPrefix, "hassprefix", cfg.HassPrefix, "Home Assistant discovery prefix")
	fs.StringVar(&flags.LogLevel, "loglevel", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		if err := loadConfigFile(*path, &cfg); err != nil {
			return nil, err
		}
	}

	overrides := map[string]func(){
		"username":        func() { cfg.Username = flags.Username },
		"password":        func() { cfg.Password = flags.Password },
		"serial":          func() { cfg.Serial = flags.Serial },
		"api":             func() { cfg.BaseURL = flags.BaseURL },
		"interval":        func() { cfg.RefreshInterval = flags.RefreshInterval },
		"timeout":         func() { cfg.APITimeout = flags.APITimeout },
		"zonecontrol":     func() { cfg.ZoneControl = flags.ZoneControl },
		"breakerfailures": func() { cfg.BreakerFailures = flags.BreakerFailures },
		"breakerreset":    func() { cfg.BreakerReset = flags.BreakerReset },
		"httpport":        func() { cfg.HTTPPort = flags.HTTPPort },
		"mqtt":            func() { cfg.MQTTServer = flags.MQTTServer },
		"mqttclientid":    func() { cfg.MQTTClientID = flags.MQTTClientID },
		"mqttuser":        func() { cfg.MQTTUsername = flags.MQTTUsername },
		"mqttpass":        func() { cfg.MQTTPassword = flags.MQTTPassword },
		"mqttprefix":      func() { cfg.MQTTPrefix = flags.MQTTPrefix },
		"hassprefix":      func() { cfg.HassPrefix = flags.HassPrefix },
		"loglevel":        func() { cfg.LogLevel = flags.LogLevel },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer f.Close()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(cfg); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	log.Debugf("loaded config from %s", path)
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Username == "" || c.Password == "":
		return errors.New("username and password are required")
	case c.RefreshInterval.Duration <= 0:
		return errors.New("refresh interval must be positive")
	case c.APITimeout.Duration <= 0:
		return errors.New("API timeout must be positive")
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return errors.Errorf("invalid HTTP port %d", c.HTTPPort)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) nimbusConfig() nimbus.Config {
	return nimbus.Config{
		BaseURL:         c.BaseURL,
		Username:        c.Username,
		Password:        c.Password,
		Serial:          c.Serial,
		Timeout:         c.APITimeout.Duration,
		BreakerFailures: c.BreakerFailures,
		BreakerReset:    c.BreakerReset.Duration,
	}
}
