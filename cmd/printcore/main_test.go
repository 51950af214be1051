package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
)

func TestInitLog(t *testing.T) {
	tests := []struct {
		name string
		file bool
		json bool
		want string
	}{
		{"text to file", true, false, "level=INFO msg=hello"},
		{"json to file", true, true, `"msg":"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := slog.Default()
			t.Cleanup(func() {
				slog.SetDefault(prev)
				log.SetOutput(os.Stderr)
			})
			name := filepath.Join(t.TempDir(), "printcore.log")

			lg, err := initLog(name, tt.json, false)
			require.NoError(t, err)
			lg.Info("hello")
			lg.Debug("not shown")
			cfg.RunAtExit()

			b, err := os.ReadFile(name)
			require.NoError(t, err)
			assert.Contains(t, string(b), tt.want)
			assert.NotContains(t, string(b), "not shown")
		})
	}
	t.Run("stderr keeps the default logger", func(t *testing.T) {
		prev := slog.Default()
		lg, err := initLog("", false, false)
		require.NoError(t, err)
		assert.Same(t, prev, lg)
	})
	t.Run("unwritable file", func(t *testing.T) {
		_, err := initLog(filepath.Join(t.TempDir(), "missing", "x.log"), false, false)
		assert.Error(t, err)
	})
}

func TestInitTrace(t *testing.T) {
	ctx := context.Background()
	t.Run("disabled", func(t *testing.T) {
		got, err := initTrace(ctx, "", "simulate")
		require.NoError(t, err)
		assert.Equal(t, ctx, got)
	})
	t.Run("to file", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "trace.out")
		got, err := initTrace(ctx, name, "simulate")
		require.NoError(t, err)
		assert.NotEqual(t, ctx, got, "command runs inside a trace task")
		cfg.RunAtExit()

		fi, err := os.Stat(name)
		require.NoError(t, err)
		assert.NotZero(t, fi.Size())
	})
	t.Run("bad file", func(t *testing.T) {
		_, err := initTrace(ctx, filepath.Join(t.TempDir(), "missing", "trace.out"), "simulate")
		assert.Error(t, err)
	})
}
