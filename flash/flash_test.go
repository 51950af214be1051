package flash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", nil, 0},
		{"single byte", []byte{0x12}, ^uint32(0x12)},
		{"one word", []byte{0x12, 0x34}, ^uint32(0x1234)},
		{"two words", []byte{0x00, 0x01, 0x00, 0x02}, ^uint32(3)},
		{"odd tail added as is", []byte{0x01, 0x00, 0x05}, ^uint32(0x0100 + 0x05)},
		{"all ones", []byte{0xff, 0xff, 0xff, 0xff}, ^uint32(0x1fffe)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.data))
		})
	}
}

func TestPageGeometry(t *testing.T) {
	assert.Equal(t, AppPageSize, PageSize(Base))
	assert.Equal(t, AppPageSize, PageSize(DataStart-1))
	assert.Equal(t, DataPageSize, PageSize(DataStart))
	assert.True(t, PageStart(Base+2*AppPageSize))
	assert.False(t, PageStart(Base+AppPageSize/2))
	assert.True(t, PageStart(PowerLossAddr))
	assert.True(t, PageStart(UpdateInfoAddr))
	assert.NotEqual(t, PowerLossAddr, UpdateInfoAddr)
	assert.GreaterOrEqual(t, UpdateInfoAddr-PowerLossAddr, DataPageSize, "records must not share a page")
}

func TestMemory_WriteRequiresErase(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Write(UpdateInfoAddr, []byte{1, 2, 3, 4}))

	err := m.Write(UpdateInfoAddr, []byte{0, 0})
	assert.ErrorIs(t, err, ErrNotErased)

	require.NoError(t, m.Erase(UpdateInfoAddr, 1))
	require.NoError(t, m.Write(UpdateInfoAddr, []byte{9, 8}))
	got, err := m.Read(UpdateInfoAddr, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, Erased, Erased}, got)
}

func TestMemory_OddWritePadsHalfword(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Write(PowerLossAddr, []byte{0xaa, 0xbb, 0xcc}))
	got, err := m.Read(PowerLossAddr, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, Erased}, got)
	// the padded halfword is consumed.
	assert.ErrorIs(t, m.Write(PowerLossAddr+2, []byte{0x00}), ErrNotErased)
}

func TestMemory_EraseStepsByGeometry(t *testing.T) {
	m := NewMemory()
	start := DataStart - AppPageSize
	require.NoError(t, m.Write(start, []byte{0, 0}))
	require.NoError(t, m.Write(DataStart+DataPageSize-2, []byte{0, 0}))
	require.NoError(t, m.Write(DataStart+DataPageSize, []byte{0, 0}))

	// one app page followed by one data page.
	require.NoError(t, m.Erase(start, 2))

	b, _ := m.Read(start, 2)
	assert.Equal(t, []byte{Erased, Erased}, b)
	b, _ = m.Read(DataStart+DataPageSize-2, 2)
	assert.Equal(t, []byte{Erased, Erased}, b)
	b, _ = m.Read(DataStart+DataPageSize, 2)
	assert.Equal(t, []byte{0, 0}, b, "third page must not be erased")
}

func TestMemory_Errors(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.Erase(Base+1, 1), ErrUnaligned)
	assert.ErrorIs(t, m.Write(Base+1, []byte{0}), ErrUnaligned)
	assert.ErrorIs(t, m.Write(Base+Size-1, []byte{0, 0}), ErrUnaligned)
	assert.ErrorIs(t, m.Write(Base+Size-2, []byte{0, 0, 0}), ErrOutOfRange)
	_, err := m.Read(Base-2, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestMemory_FlipBit(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.FlipBit(Base, 0))
	b, _ := m.Read(Base, 1)
	assert.Equal(t, byte(0xfe), b[0])
}

func TestFile_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	f, err := OpenFile(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "image must not be created until modified")

	require.NoError(t, f.Write(UpdateInfoAddr, []byte{1, 2}))

	g, err := OpenFile(path)
	require.NoError(t, err)
	b, err := g.Read(UpdateInfoAddr, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)
}

func TestFile_InvalidImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))
	_, err := OpenFile(path)
	assert.Error(t, err)
}
