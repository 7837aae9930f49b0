package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// Transport kinds accepted in the configuration.
const (
	TransportSerial = "serial"
	TransportUSB    = "usb"
)

// Validation errors.
var (
	ErrUnknownTransport = errors.New("config: unknown transport kind")
	ErrBadValue         = errors.New("config: value out of range")
)

// Duration wraps time.Duration for YAML fields written as Go duration
// strings ("6s", "250ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full device configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Control   ControlConfig   `yaml:"control"`
	Queues    QueueConfig     `yaml:"queues"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig selects the binding and its device path.
type TransportConfig struct {
	// Kind is "serial" or "usb".
	Kind string `yaml:"kind"`

	// Path is the character device or unix socket to open. Empty
	// selects stdin/stdout, for driving the device from a pipe.
	Path string `yaml:"path"`
}

// EndpointConfig shapes the emulated endpoint.
type EndpointConfig struct {
	// MTU is the per-packet payload capacity in bytes.
	MTU int `yaml:"mtu"`

	// MaxMessageSize caps a reassembled message in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// ReassemblyTimeout expires stalled multi-packet messages.
	ReassemblyTimeout Duration `yaml:"reassembly_timeout"`
}

// ControlConfig bounds requester-role control transactions.
type ControlConfig struct {
	// RetryAttempts is the total send budget per transaction.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryTimeout is the initial per-attempt response deadline.
	RetryTimeout Duration `yaml:"retry_timeout"`

	// DiscoveryNotify enables the discovery announcement sent while
	// unassigned at startup.
	DiscoveryNotify bool `yaml:"discovery_notify"`
}

// QueueConfig sizes the bounded queues between the I/O actor and the
// rest of the stack.
type QueueConfig struct {
	// Outbound is the packet queue drained by the writer goroutine.
	Outbound int `yaml:"outbound"`

	// Handler is the per-handler inbound message queue.
	Handler int `yaml:"handler"`
}

// LoggingConfig selects capture destinations.
type LoggingConfig struct {
	// CaptureFile receives CBOR capture events when non-empty.
	CaptureFile string `yaml:"capture_file"`

	// Console mirrors capture events to slog at debug level.
	Console bool `yaml:"console"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			Kind: TransportSerial,
		},
		Endpoint: EndpointConfig{
			MTU:               mctp.BaselineMTU,
			MaxMessageSize:    64 * 1024,
			ReassemblyTimeout: Duration(6 * time.Second),
		},
		Control: ControlConfig{
			RetryAttempts:   3,
			RetryTimeout:    Duration(2 * time.Second),
			DiscoveryNotify: true,
		},
		Queues: QueueConfig{
			Outbound: 64,
			Handler:  16,
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field ranges and relationships.
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case TransportSerial, TransportUSB:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport.Kind)
	}

	if c.Endpoint.MTU < mctp.BaselineMTU {
		return fmt.Errorf("%w: mtu %d below baseline %d", ErrBadValue, c.Endpoint.MTU, mctp.BaselineMTU)
	}
	if c.Endpoint.MaxMessageSize < c.Endpoint.MTU {
		return fmt.Errorf("%w: max_message_size %d below mtu", ErrBadValue, c.Endpoint.MaxMessageSize)
	}
	if c.Endpoint.ReassemblyTimeout.Std() <= 0 {
		return fmt.Errorf("%w: reassembly_timeout must be positive", ErrBadValue)
	}
	if c.Control.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry_attempts %d", ErrBadValue, c.Control.RetryAttempts)
	}
	if c.Control.RetryTimeout.Std() <= 0 {
		return fmt.Errorf("%w: retry_timeout must be positive", ErrBadValue)
	}
	if c.Queues.Outbound < 1 || c.Queues.Handler < 1 {
		return fmt.Errorf("%w: queue sizes must be at least 1", ErrBadValue)
	}
	return nil
}
