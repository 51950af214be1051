package cmdupdate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/update"
)

func TestPrintDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, dev *flash.Memory, st *update.Store)
		want    []string
	}{
		{
			"requested",
			func(t *testing.T, _ *flash.Memory, st *update.Store) {
				d := update.Descriptor{AppStartAddr: flash.Base + update.BootSize}.Sealed()
				require.NoError(t, st.Request(d, 2, 7))
			},
			[]string{"update_start", "0x08010000", "yes"},
		},
		{
			"corrupt",
			func(t *testing.T, dev *flash.Memory, st *update.Store) {
				require.NoError(t, st.Commit(update.Descriptor{AppStartAddr: flash.Base + update.BootSize}))
				require.NoError(t, dev.FlipBit(flash.UpdateInfoAddr, 0))
			},
			[]string{"app_normal", "no, checksum"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := flash.NewMemory()
			st := update.NewStore(dev)
			tt.prepare(t, dev, st)

			var buf bytes.Buffer
			require.NoError(t, printDescriptor(&buf, st))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
