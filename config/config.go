// Package config loads dunit.toml, the settings shared by the controller
// and the worker processes of a distributed test.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/vinayprograms/dunitkit/bus"
	"github.com/vinayprograms/dunitkit/heartbeat"
	"github.com/vinayprograms/dunitkit/invoke"
	"github.com/vinayprograms/dunitkit/logging"
	"github.com/vinayprograms/dunitkit/telemetry"
)

// FileName is the config file looked up in the standard locations.
const FileName = "dunit.toml"

// EnvPath names the environment variable that overrides the lookup.
const EnvPath = "DUNIT_CONFIG"

// Config is the complete process configuration.
type Config struct {
	Worker    Worker
	Bus       Bus
	Invoke    Invoke
	Heartbeat Heartbeat
	Telemetry Telemetry
	Log       Log
}

// Worker identifies this process in the worker set.
type Worker struct {
	// ID defaults to "worker-" plus a random suffix.
	ID string

	// Index is the VM index. The controller uses -1.
	Index int

	// VMCount is the number of workers the controller expects.
	VMCount int
}

// Controller reports whether this process drives the test.
func (w Worker) Controller() bool {
	return w.Index == invoke.ControllerIndex
}

// Bus configures the NATS connection.
type Bus struct {
	URL            string
	Name           string
	Token          string
	ConnectTimeout time.Duration
}

// Invoke configures the teardown broadcast.
type Invoke struct {
	Timeout  time.Duration
	FailFast bool
	SkipDead bool
}

// Heartbeat configures liveness.
type Heartbeat struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Telemetry configures OTLP tracing. An empty Endpoint disables it unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
type Telemetry struct {
	Endpoint    string
	Protocol    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// Log configures the console logger.
type Log struct {
	Level string
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Worker: Worker{
			ID:      "worker-" + uuid.NewString()[:8],
			Index:   0,
			VMCount: invoke.DefaultVMCount,
		},
		Bus: Bus{
			URL:            bus.DefaultNATSConfig().URL,
			ConnectTimeout: bus.DefaultNATSConfig().ConnectTimeout,
		},
		Invoke: Invoke{
			Timeout: invoke.DefaultTimeout,
		},
		Heartbeat: Heartbeat{
			Interval: heartbeat.DefaultSenderConfig().Interval,
			Timeout:  heartbeat.DefaultMonitorConfig().Timeout,
		},
		Telemetry: Telemetry{
			Protocol:    "grpc",
			ServiceName: "dunit",
		},
		Log: Log{
			Level: string(logging.LevelInfo),
		},
	}
}

// StandardPaths returns the config locations in order of priority.
func StandardPaths() []string {
	paths := []string{}
	if p := os.Getenv(EnvPath); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, FileName)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dunit", FileName))
	}
	return paths
}

// Load reads the first config file found in StandardPaths. With no file it
// returns Default and an empty path.
func Load() (Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// LoadFile reads one config file over the defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// fileConfig mirrors dunit.toml. Durations are strings such as "30s".
type fileConfig struct {
	Worker struct {
		ID      string `toml:"id"`
		Index   int    `toml:"index"`
		VMCount int    `toml:"vm_count"`
	} `toml:"worker"`

	Bus struct {
		URL            string `toml:"url"`
		Name           string `toml:"name"`
		Token          string `toml:"token"`
		ConnectTimeout string `toml:"connect_timeout"`
	} `toml:"bus"`

	Invoke struct {
		Timeout  string `toml:"timeout"`
		FailFast bool   `toml:"fail_fast"`
		SkipDead bool   `toml:"skip_dead"`
	} `toml:"invoke"`

	Heartbeat struct {
		Interval string `toml:"interval"`
		Timeout  string `toml:"timeout"`
	} `toml:"heartbeat"`

	Telemetry struct {
		Endpoint    string  `toml:"endpoint"`
		Protocol    string  `toml:"protocol"`
		Insecure    bool    `toml:"insecure"`
		ServiceName string  `toml:"service_name"`
		SampleRatio float64 `toml:"sample_ratio"`
	} `toml:"telemetry"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Parse decodes TOML text over the defaults. Keys absent from the text keep
// their default values.
func Parse(text string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if s := strings.TrimSpace(raw.Worker.ID); meta.IsDefined("worker", "id") && s != "" {
		cfg.Worker.ID = s
	}
	if meta.IsDefined("worker", "index") {
		cfg.Worker.Index = raw.Worker.Index
	}
	if meta.IsDefined("worker", "vm_count") {
		cfg.Worker.VMCount = raw.Worker.VMCount
	}

	if meta.IsDefined("bus", "url") {
		cfg.Bus.URL = strings.TrimSpace(raw.Bus.URL)
	}
	if meta.IsDefined("bus", "name") {
		cfg.Bus.Name = strings.TrimSpace(raw.Bus.Name)
	}
	if meta.IsDefined("bus", "token") {
		cfg.Bus.Token = raw.Bus.Token
	}

	if meta.IsDefined("invoke", "fail_fast") {
		cfg.Invoke.FailFast = raw.Invoke.FailFast
	}
	if meta.IsDefined("invoke", "skip_dead") {
		cfg.Invoke.SkipDead = raw.Invoke.SkipDead
	}

	if meta.IsDefined("telemetry", "endpoint") {
		cfg.Telemetry.Endpoint = strings.TrimSpace(raw.Telemetry.Endpoint)
	}
	if meta.IsDefined("telemetry", "protocol") {
		cfg.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(raw.Telemetry.Protocol))
	}
	if meta.IsDefined("telemetry", "insecure") {
		cfg.Telemetry.Insecure = raw.Telemetry.Insecure
	}
	if meta.IsDefined("telemetry", "service_name") {
		cfg.Telemetry.ServiceName = strings.TrimSpace(raw.Telemetry.ServiceName)
	}

	if meta.IsDefined("telemetry", "sample_ratio") {
		cfg.Telemetry.SampleRatio = raw.Telemetry.SampleRatio
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"bus", "connect_timeout"}, raw.Bus.ConnectTimeout, &cfg.Bus.ConnectTimeout},
		{[]string{"invoke", "timeout"}, raw.Invoke.Timeout, &cfg.Invoke.Timeout},
		{[]string{"heartbeat", "interval"}, raw.Heartbeat.Interval, &cfg.Heartbeat.Interval},
		{[]string{"heartbeat", "timeout"}, raw.Heartbeat.Timeout, &cfg.Heartbeat.Timeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would break the process at startup.
func (c Config) Validate() error {
	switch {
	case c.Worker.ID == "":
		return fmt.Errorf("worker.id is empty")
	case c.Worker.Index < invoke.ControllerIndex:
		return fmt.Errorf("worker.index %d is below %d", c.Worker.Index, invoke.ControllerIndex)
	case c.Worker.VMCount <= 0:
		return fmt.Errorf("worker.vm_count must be positive, got %d", c.Worker.VMCount)
	case c.Invoke.Timeout <= 0:
		return fmt.Errorf("invoke.timeout must be positive")
	case c.Heartbeat.Interval <= 0:
		return fmt.Errorf("heartbeat.interval must be positive")
	case c.Heartbeat.Timeout < c.Heartbeat.Interval:
		return fmt.Errorf("heartbeat.timeout %s is shorter than heartbeat.interval %s",
			c.Heartbeat.Timeout, c.Heartbeat.Interval)
	case c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1:
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1], got %v", c.Telemetry.SampleRatio)
	case c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http":
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	return nil
}

// NATS returns the bus connection settings. The worker ID is the client
// name unless bus.name is set.
func (c Config) NATS() bus.NATSConfig {
	nc := bus.DefaultNATSConfig()
	nc.URL = c.Bus.URL
	nc.Name = c.Bus.Name
	if nc.Name == "" {
		nc.Name = c.Worker.ID
	}
	nc.Token = c.Bus.Token
	nc.ConnectTimeout = c.Bus.ConnectTimeout
	return nc
}

// Provider returns the telemetry provider settings.
func (c Config) Provider() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: c.Telemetry.ServiceName,
		WorkerID:    c.Worker.ID,
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    c.Telemetry.Protocol,
		Insecure:    c.Telemetry.Insecure,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}

// Logger builds the console logger at the configured level, tagged with the
// worker ID.
func (c Config) Logger() *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.ParseLevel(c.Log.Level))
	return l.WithWorker(c.Worker.ID)
}
