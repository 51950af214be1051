package cmdpowerloss

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
)

func TestPrintRecord(t *testing.T) {
	rec := powerloss.New(flash.NewMemory())

	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, rec, nil))
	assert.Equal(t, "no interrupted job\n", buf.String())

	require.NoError(t, rec.Set("ab12", "part.gcode"))
	require.NoError(t, rec.SaveLine(99))
	buf.Reset()
	require.NoError(t, printRecord(&buf, rec, nil))
	out := buf.String()
	assert.Contains(t, out, "part.gcode")
	assert.Contains(t, out, "99")
	assert.Contains(t, out, printjob.JobID(sacp.FileInfo{Hash: "ab12", Name: "part.gcode"}).String())
}
