// Package config loads platform configuration from TOML, .env files and
// MTS_* environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/payload"
)

// Scheme names a platform may install, in no particular order.
const (
	SchemeMemory = "memory"
	SchemeNATS   = "nats"
	SchemeWS     = "ws"
)

var knownSchemes = map[string]bool{SchemeMemory: true, SchemeNATS: true, SchemeWS: true}

// Config is the full platform configuration.
type Config struct {
	Platform  PlatformConfig  `toml:"platform"`
	Log       LogConfig       `toml:"log"`
	NATS      NATSConfig      `toml:"nats"`
	WS        WSConfig        `toml:"ws"`
	Payload   PayloadConfig   `toml:"payload"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type PlatformConfig struct {
	Name string `toml:"name"`

	// Schemes to install; install order is the address order of every AID.
	Schemes []string `toml:"schemes"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type NATSConfig struct {
	URL             string        `toml:"url"`
	SubjectPrefix   string        `toml:"subject_prefix"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	DirectoryBucket string        `toml:"directory_bucket"`

	// Heartbeat is the platform heartbeat interval; zero disables
	// heartbeats and peer liveness tracking.
	Heartbeat time.Duration `toml:"heartbeat"`
}

type WSConfig struct {
	// Listen is the local address of the HTTP listener.
	Listen string `toml:"listen"`

	// PublicHost is what peers dial; it goes into ws:// addresses.
	PublicHost     string        `toml:"public_host"`
	Path           string        `toml:"path"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

type PayloadConfig struct {
	// Format names the parser used for envelope content.
	Format   string `toml:"format"`
	Encoding string `toml:"encoding"`
}

type TelemetryConfig struct {
	// Protocol selects the delivery event exporter: noop, file or http.
	Protocol string `toml:"protocol"`
	Endpoint string `toml:"endpoint"`

	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint string `toml:"otlp_endpoint"`
	OTLPProtocol string `toml:"otlp_protocol"`
	Debug        bool   `toml:"debug"`

	// SampleRatio below 1 samples that share of traces started here.
	SampleRatio float64 `toml:"sample_ratio"`
}

// Default returns a single-process configuration using only the memory
// scheme.
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			Name:    "platform1",
			Schemes: []string{SchemeMemory},
		},
		Log: LogConfig{Level: "info"},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			SubjectPrefix:   "acl",
			RequestTimeout:  5 * time.Second,
			DirectoryBucket: "ams-directory",
			Heartbeat:       5 * time.Second,
		},
		WS: WSConfig{
			Listen:         ":7070",
			PublicHost:     "localhost:7070",
			Path:           "/acl",
			RequestTimeout: 5 * time.Second,
		},
		Payload:   PayloadConfig{Format: payload.FormatJSON, Encoding: "utf-8"},
		Telemetry: TelemetryConfig{Protocol: "noop", OTLPProtocol: "grpc"},
	}
}

// Load reads a TOML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, fmt.Sprintf("parse %s", path))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("%s: unknown keys %s", path, strings.Join(keys, ", ")))
	}
	return cfg, nil
}

// LoadEnv loads the first readable .env file among files (".env" when none
// are given) without overriding variables already set. Missing files are
// not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, fmt.Sprintf("load %s", f))
		}
		return nil
	}
	return nil
}

// ApplyEnv overrides cfg from MTS_* environment variables.
func (c *Config) ApplyEnv() {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	set("MTS_PLATFORM_NAME", &c.Platform.Name)
	set("MTS_LOG_LEVEL", &c.Log.Level)
	set("MTS_NATS_URL", &c.NATS.URL)
	set("MTS_WS_LISTEN", &c.WS.Listen)
	set("MTS_WS_PUBLIC_HOST", &c.WS.PublicHost)
	set("MTS_PAYLOAD_FORMAT", &c.Payload.Format)
	set("MTS_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	set("MTS_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	set("MTS_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if v := os.Getenv("MTS_SCHEMES"); v != "" {
		var schemes []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				schemes = append(schemes, s)
			}
		}
		c.Platform.Schemes = schemes
	}
}

// Validate reports every problem found, joined in one INVALID_CONFIG error.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Platform.Name) == "" {
		problems = append(problems, "platform.name is empty")
	} else if strings.ContainsAny(c.Platform.Name, "@ /") {
		problems = append(problems, fmt.Sprintf("platform.name %q may not contain '@', '/' or spaces", c.Platform.Name))
	}

	if len(c.Platform.Schemes) == 0 {
		problems = append(problems, "platform.schemes is empty")
	}
	seen := make(map[string]bool)
	for _, s := range c.Platform.Schemes {
		switch {
		case !knownSchemes[s]:
			problems = append(problems, fmt.Sprintf("unknown scheme %q (known: %s)", s, strings.Join(Schemes(), ", ")))
		case seen[s]:
			problems = append(problems, fmt.Sprintf("scheme %q listed twice", s))
		}
		seen[s] = true
	}

	if seen[SchemeNATS] && c.NATS.URL == "" {
		problems = append(problems, "nats.url is required for the nats scheme")
	}
	if c.NATS.Heartbeat < 0 {
		problems = append(problems, "nats.heartbeat must not be negative")
	}
	if seen[SchemeWS] {
		if c.WS.Listen == "" || c.WS.PublicHost == "" {
			problems = append(problems, "ws.listen and ws.public_host are required for the ws scheme")
		}
		if !strings.HasPrefix(c.WS.Path, "/") {
			problems = append(problems, fmt.Sprintf("ws.path %q must start with '/'", c.WS.Path))
		}
	}

	if _, err := payload.Lookup(c.Payload.Format); err != nil {
		problems = append(problems, fmt.Sprintf("unknown payload.format %q", c.Payload.Format))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log.level %q", c.Log.Level))
	}

	switch c.Telemetry.Protocol {
	case "", "noop", "file", "http":
	default:
		problems = append(problems, fmt.Sprintf("unknown telemetry.protocol %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, fmt.Sprintf("telemetry.sample_ratio %v outside [0,1]", c.Telemetry.SampleRatio))
	}
	if (c.Telemetry.Protocol == "file" || c.Telemetry.Protocol == "http") && c.Telemetry.Endpoint == "" {
		problems = append(problems, fmt.Sprintf("telemetry.endpoint is required for %s", c.Telemetry.Protocol))
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrCodeInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LogLevel returns the configured level for the logging package.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// Uses reports whether scheme is configured.
func (c *Config) Uses(scheme string) bool {
	for _, s := range c.Platform.Schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// Schemes lists the schemes a platform can install.
func Schemes() []string {
	out := make([]string, 0, len(knownSchemes))
	for s := range knownSchemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
