package heartbeat

import (
	"encoding/json"
	"time"

	"github.com/vinayprograms/aclmts/bus"
	"github.com/vinayprograms/aclmts/errors"
)

// SubjectAll matches every platform's heartbeat subject.
const SubjectAll = "heartbeat.*"

// Subject returns the subject platform publishes its heartbeats on.
func Subject(platform string) string {
	return "heartbeat." + bus.SubjectToken(platform)
}

// Heartbeat is one "still alive" signal from a platform.
type Heartbeat struct {
	// Platform is the sender's platform (hap) name.
	Platform string `json:"platform"`

	Timestamp time.Time `json:"timestamp"`

	// State is the platform life-cycle state.
	State string `json:"state"`

	// Agents is the number of agents the platform hosts.
	Agents int `json:"agents"`

	// Schemes are the installed transfer schemes, in install order.
	Schemes []string `json:"schemes,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "decode heartbeat")
	}
	if h.Platform == "" {
		return nil, errors.New(errors.ErrCodeCodec, "heartbeat without platform")
	}
	return &h, nil
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// Platform is the name announced in every heartbeat.
	Platform string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil {
		return errors.New(errors.ErrCodeInvalidConfig, "heartbeat sender needs a bus")
	}
	if c.Platform == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "heartbeat sender needs a platform name")
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: 5 * time.Second,
	}
}

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Bus is the message bus for subscribing to heartbeats.
	Bus bus.MessageBus

	// Self is the local platform; its own heartbeats are ignored.
	Self string

	// Timeout for considering a platform dead.
	// Should be 2-3x the expected heartbeat interval.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the dead platform checker.
	// Default: 1 second
	CheckInterval time.Duration
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Bus == nil {
		return errors.New(errors.ErrCodeInvalidConfig, "heartbeat monitor needs a bus")
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}

func errAlreadyStarted() error {
	return errors.New(errors.ErrCodeInvalidState, "heartbeat already started")
}

func errNotStarted() error {
	return errors.New(errors.ErrCodeInvalidState, "heartbeat not started")
}
