package cfg

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/sacp"
)

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	assert.NoError(t, Validate(&c))
}

func TestValidate_LargestBatch(t *testing.T) {
	c := Default()
	c.Stream.BatchSize = sacp.MaxBatchData
	c.Sim.Capacity = 2 * sacp.MaxBatchData
	assert.NoError(t, Validate(&c))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero batch", func(c *Config) { c.Stream.BatchSize = 0 }, "batch_size"},
		{"batch too large", func(c *Config) { c.Stream.BatchSize = 4096 }, "batch_size"},
		{"batch exceeds event", func(c *Config) { c.Stream.BatchSize = sacp.MaxPayload }, "batch_size"},
		{"no timeout", func(c *Config) { c.Stream.Timeout = 0 }, "timeout"},
		{"negative retries", func(c *Config) { c.Stream.MaxRetries = -1 }, "max_retries"},
		{"no idle timeout", func(c *Config) { c.Job.IdleTimeout = 0 }, "idle_timeout"},
		{"no extruders", func(c *Config) { c.Job.Extruders = 0 }, "extruders"},
		{"no tick", func(c *Config) { c.Job.Tick = 0 }, "tick"},
		{"capacity below batch", func(c *Config) { c.Sim.Capacity = 100 }, "capacity"},
		{"no step interval", func(c *Config) { c.Sim.StepInterval = 0 }, "step_interval"},
		{"drop every request", func(c *Config) { c.Sim.DropEvery = 1 }, "drop_every"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			before := c
			err := Validate(&c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, before, c, "validate must not modify the config")
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(t *testing.T, body string) string {
		t.Helper()
		p := filepath.Join(dir, t.Name()+".yaml")
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	t.Run("overrides defaults", func(t *testing.T) {
		p := write(t, "stream:\n  batch_size: 200\n  timeout: 500ms\njob:\n  extruders: 1\nflash:\n  image: /tmp/x.bin\n")
		c, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, 200, c.Stream.BatchSize)
		assert.Equal(t, 500*time.Millisecond, c.Stream.Timeout)
		assert.Equal(t, 1, c.Job.Extruders)
		assert.Equal(t, "/tmp/x.bin", c.Flash.Image)
		assert.Equal(t, Default().Sim, c.Sim, "untouched sections keep defaults")
	})
	t.Run("invalid", func(t *testing.T) {
		p := write(t, "sim:\n  capacity: 10\n")
		_, err := Load(p)
		assert.ErrorContains(t, err, "capacity")
	})
	t.Run("malformed", func(t *testing.T) {
		p := write(t, "stream: [\n")
		_, err := Load(p)
		assert.ErrorContains(t, err, "failed to parse")
	})
	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestOptions(t *testing.T) {
	assert.Len(t, Default().Options(), 6)
}

func TestSigInfo(t *testing.T) {
	var buf bytes.Buffer
	RegisterSigInfoReporter(nil)
	RegisterSigInfoReporter(func(w io.Writer) { io.WriteString(w, "one\n") })
	SigInfo(&buf)
	SigInfo(nil)
	assert.Equal(t, "one\n", buf.String())
}

func TestAtExit(t *testing.T) {
	var order []int
	AtExit(func() { order = append(order, 1) })
	AtExit(func() { order = append(order, 2) })
	RunAtExit()
	RunAtExit()
	assert.Equal(t, []int{2, 1}, order)
}
