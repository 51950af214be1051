package sim

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
)

const program = "G28\nG1 X10 Y10\nG1 X20 Y20\nM104 S0\n"

func TestHost_Batch(t *testing.T) {
	h, err := NewHost(strings.NewReader(program))
	require.NoError(t, err)
	require.Equal(t, 4, h.Lines())

	tests := []struct {
		name string
		req  sacp.BatchRequest
		want sacp.Batch
	}{
		{
			"whole program",
			sacp.BatchRequest{Line: 0, MaxSize: 450},
			sacp.Batch{Flag: sacp.BatchDone, StartLine: 0, EndLine: 3, Data: []byte(program)},
		},
		{
			"limited by size",
			sacp.BatchRequest{Line: 0, MaxSize: 20},
			sacp.Batch{StartLine: 0, EndLine: 1, Data: []byte("G28\nG1 X10 Y10\n")},
		},
		{
			"line longer than max size",
			sacp.BatchRequest{Line: 1, MaxSize: 2},
			sacp.Batch{StartLine: 1, EndLine: 1, Data: []byte("G1 X10 Y10\n")},
		},
		{
			"tail",
			sacp.BatchRequest{Line: 3, MaxSize: 450},
			sacp.Batch{Flag: sacp.BatchDone, StartLine: 3, EndLine: 3, Data: []byte("M104 S0\n")},
		},
		{
			"past the end",
			sacp.BatchRequest{Line: 9, MaxSize: 450},
			sacp.Batch{Flag: sacp.BatchDone, StartLine: 9, EndLine: 9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.Batch(tt.req)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHost_DropEvery(t *testing.T) {
	h, err := NewHost(strings.NewReader(program))
	require.NoError(t, err)
	h.DropEvery(2)
	var answered int
	for i := 0; i < 6; i++ {
		if _, ok := h.Batch(sacp.BatchRequest{MaxSize: 10}); ok {
			answered++
		}
	}
	assert.Equal(t, 3, answered)
	req, dropped := h.Stats()
	assert.Equal(t, 6, req)
	assert.Equal(t, 3, dropped)
}

func TestEngine_Buffer(t *testing.T) {
	e := NewEngine(100, 2)
	require.NoError(t, e.Start(5))
	assert.Equal(t, uint32(5), e.NextRequestedLine())
	assert.True(t, e.Empty())

	require.NoError(t, e.Push(5, 9, make([]byte, 60)))
	assert.Equal(t, 40, e.FreeSpace())
	assert.Equal(t, uint32(10), e.NextRequestedLine())
	assert.ErrorIs(t, e.Push(10, 12, make([]byte, 41)), ErrOverflow)

	require.NoError(t, e.Pause())
	assert.Zero(t, e.Step(1), "paused engine executes nothing")
	require.NoError(t, e.Resume())
	assert.Equal(t, 1, e.Step(5))
	assert.True(t, e.Empty())
	assert.Equal(t, uint32(10), e.CurrentLine())
	assert.Equal(t, 100, e.FreeSpace())
	assert.Equal(t, [][2]uint32{{5, 9}}, e.Pushed())
}

func TestEngine_Faults(t *testing.T) {
	e := NewEngine(0, 0)
	assert.ErrorIs(t, e.Pause(), ErrNotStarted)
	boom := errors.New("boom")
	e.InjectFault(OpStart, boom)
	assert.ErrorIs(t, e.Start(0), boom)
	e.InjectFault(OpStart, nil)
	assert.NoError(t, e.Start(0))
}

func TestEngine_Settings(t *testing.T) {
	e := NewEngine(0, 2)
	assert.False(t, e.Duplicating())
	require.NoError(t, e.SetMode(printjob.ModeMirror))
	assert.True(t, e.Duplicating())

	assert.True(t, e.DuplicationEnabled(1))
	e.SetDuplication(1, false)
	assert.False(t, e.DuplicationEnabled(1))
	e.LockTemperature(0, true)
	assert.True(t, e.TemperatureLocked(0))
	assert.False(t, e.TemperatureLocked(5))
	e.SetFeedrate(50)
	assert.Equal(t, float32(50), e.Feedrate())
}

func TestLink(t *testing.T) {
	h, err := NewHost(strings.NewReader(program))
	require.NoError(t, err)
	var other []sacp.Event
	l := NewLink(h, 1, func(ev sacp.Event) { other = append(other, ev) })

	o := sacp.Origin{Source: sacp.SourceHost}
	require.NoError(t, l.Send(sacp.NewRequest(o, sacp.CmdBatch, sacp.BatchRequest{MaxSize: 450}.Encode())))
	assert.ErrorIs(t, l.Send(sacp.NewRequest(o, sacp.CmdBatch, sacp.BatchRequest{MaxSize: 450}.Encode())), ErrCongested)

	ev := <-l.C
	assert.Equal(t, sacp.AttrAck, ev.Attr)
	b, err := sacp.DecodeBatch(ev.Payload)
	require.NoError(t, err)
	assert.True(t, b.Last())

	require.NoError(t, l.Send(sacp.NewAck(o, sacp.CmdStart, sacp.ResultPayload(sacp.ResultSuccess))))
	require.Len(t, other, 1)
	assert.Equal(t, sacp.CmdStart, other[0].Command)
}
