package cmdsim

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore"
	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/powerloss"
)

func program(lines int) []byte {
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&sb, "G1 X%d.0 Y%d.0 F1800\n", i%200, i%150)
	}
	return []byte(sb.String())
}

func fastSettings(t *testing.T, step time.Duration) {
	t.Helper()
	old := cfg.Settings
	t.Cleanup(func() { cfg.Settings = old })
	cfg.Settings = cfg.Default()
	cfg.Settings.Job.Tick = time.Millisecond
	cfg.Settings.Sim.StepInterval = step
	cfg.Settings.Stream.Timeout = 50 * time.Millisecond
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		name       string
		r          run
		wantPauses int
	}{
		{"plain", run{}, 0},
		{"pause and resume", run{PauseAt: 100, PauseFor: 10 * time.Millisecond}, 1},
		{"filament runout", run{RunoutAt: 150, PauseFor: 10 * time.Millisecond}, 1},
		{"lossy host", run{DropEvery: 4}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fastSettings(t, time.Millisecond)
			const lines = 400
			r := tt.r
			r.Program = program(lines)
			r.Name = "test.gcode"
			r.Dev = flash.NewMemory()

			var seen []printcore.Status
			r.Progress = func(st printcore.Status) { seen = append(seen, st) }

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sum, err := simulate(ctx, r)
			require.NoError(t, err)
			assert.False(t, sum.Interrupted)
			assert.Equal(t, lines, sum.Lines)
			assert.Equal(t, uint32(lines), sum.LastLine)
			assert.Equal(t, tt.wantPauses, sum.Pauses)
			assert.NotEmpty(t, seen)
			if r.DropEvery > 0 {
				assert.Greater(t, sum.Dropped, 0)
			}

			rec := powerloss.New(r.Dev)
			require.NoError(t, rec.Load())
			_, ok := rec.Get()
			assert.False(t, ok, "completed print leaves no record")
		})
	}
}

func TestSimulate_InterruptAndResume(t *testing.T) {
	fastSettings(t, 2*time.Millisecond)
	const lines = 4000
	dev := flash.NewMemory()
	prog := program(lines)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	sum, err := simulate(ctx, run{Program: prog, Name: "long.gcode", Dev: dev})
	require.NoError(t, err)
	require.True(t, sum.Interrupted)

	rec := powerloss.New(dev)
	require.NoError(t, rec.Load())
	id, ok := rec.Get()
	require.True(t, ok)
	assert.Equal(t, fileHash(prog), id.Hash)
	assert.Equal(t, "long.gcode", id.Name)
	require.NotZero(t, id.Line)

	fastSettings(t, 100*time.Microsecond)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel2()
	sum, err = simulate(ctx2, run{Program: prog, Name: "long.gcode", Dev: dev, Resume: true})
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, id.Line, sum.FirstLine)
	assert.Equal(t, uint32(lines), sum.LastLine)
}

func TestSimulate_ResumeOtherProgram(t *testing.T) {
	fastSettings(t, time.Millisecond)
	dev := flash.NewMemory()
	rec := powerloss.New(dev)
	require.NoError(t, rec.Set("0123", "other.gcode"))
	require.NoError(t, rec.SaveLine(10))

	sum, err := simulate(context.Background(), run{Program: program(50), Name: "a.gcode", Dev: dev, Resume: true})
	require.NoError(t, err)
	assert.Zero(t, sum.FirstLine, "record of another program is not resumed")
}

func TestSimulate_EmptyProgram(t *testing.T) {
	_, err := simulate(context.Background(), run{Dev: flash.NewMemory()})
	assert.ErrorIs(t, err, ErrEmptyProgram)
}

func TestLineCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"G28\n", 1},
		{"G28\nG1 X1", 2},
		{"\n\n", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lineCount([]byte(tt.in)), "%q", tt.in)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, Summary{Lines: 10, LastLine: 10, Interrupted: true}))
	assert.Contains(t, buf.String(), "interrupted")
	assert.Contains(t, buf.String(), "0..10 of 10")
}
