package cfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rusq/printcore"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
	"github.com/rusq/printcore/sim"
	"github.com/rusq/printcore/stream"
)

// Config is the layout of the YAML config file.
type Config struct {
	Stream StreamConfig `yaml:"stream"`
	Job    JobConfig    `yaml:"job"`
	Sim    SimConfig    `yaml:"sim"`
	Flash  FlashConfig  `yaml:"flash"`
}

// ---- STREAM ----

type StreamConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"` // 0 retries forever
}

// ---- JOB ----

type JobConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Extruders   int           `yaml:"extruders"`
	Tick        time.Duration `yaml:"tick"`
}

// ---- SIMULATOR ----

type SimConfig struct {
	Capacity     int           `yaml:"capacity"`      // engine buffer, bytes
	StepInterval time.Duration `yaml:"step_interval"` // one batch executed per interval
	DropEvery    int           `yaml:"drop_every"`
}

// ---- FLASH ----

type FlashConfig struct {
	Image string `yaml:"image"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			BatchSize: stream.DefaultBatchSize,
			Timeout:   stream.DefaultTimeout,
		},
		Job: JobConfig{
			IdleTimeout: printjob.DefaultIdleTimeout,
			Extruders:   printjob.DefaultExtruders,
			Tick:        printcore.DefaultTickInterval,
		},
		Sim: SimConfig{
			Capacity:     sim.DefaultCapacity,
			StepInterval: 5 * time.Millisecond,
		},
	}
}

// Load reads the config file at path over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := Validate(&c); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks configuration correctness.  It does not modify c.
func Validate(c *Config) error {
	if c.Stream.BatchSize <= 0 || c.Stream.BatchSize > sacp.MaxBatchData {
		return fmt.Errorf("stream: batch_size %d out of range 1..%d", c.Stream.BatchSize, sacp.MaxBatchData)
	}
	if c.Stream.Timeout <= 0 {
		return fmt.Errorf("stream: timeout must be positive, got %s", c.Stream.Timeout)
	}
	if c.Stream.MaxRetries < 0 {
		return fmt.Errorf("stream: max_retries must not be negative, got %d", c.Stream.MaxRetries)
	}
	if c.Job.IdleTimeout <= 0 {
		return fmt.Errorf("job: idle_timeout must be positive, got %s", c.Job.IdleTimeout)
	}
	if c.Job.Extruders <= 0 {
		return fmt.Errorf("job: extruders must be positive, got %d", c.Job.Extruders)
	}
	if c.Job.Tick <= 0 {
		return fmt.Errorf("job: tick must be positive, got %s", c.Job.Tick)
	}
	// the engine must hold at least one full batch, otherwise the stream
	// waits for buffer space forever.
	if c.Sim.Capacity < c.Stream.BatchSize {
		return fmt.Errorf("sim: capacity %d smaller than stream batch_size %d", c.Sim.Capacity, c.Stream.BatchSize)
	}
	if c.Sim.StepInterval <= 0 {
		return fmt.Errorf("sim: step_interval must be positive, got %s", c.Sim.StepInterval)
	}
	if c.Sim.DropEvery < 0 || c.Sim.DropEvery == 1 {
		return fmt.Errorf("sim: drop_every must be 0 or at least 2, got %d", c.Sim.DropEvery)
	}
	return nil
}

// Options returns the controller options for c.
func (c Config) Options() []printcore.Option {
	return []printcore.Option{
		printcore.WithBatchSize(c.Stream.BatchSize),
		printcore.WithRequestTimeout(c.Stream.Timeout),
		printcore.WithMaxRetries(c.Stream.MaxRetries),
		printcore.WithIdleTimeout(c.Job.IdleTimeout),
		printcore.WithExtruders(c.Job.Extruders),
		printcore.WithTickInterval(c.Job.Tick),
	}
}
