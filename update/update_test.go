package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/flash"
)

var good = Descriptor{AppStartAddr: flash.Base + BootSize, Status: StatusAppNormal, UsartNum: 1, ReceiverID: 2}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr error
	}{
		{"valid", good.Sealed(), nil},
		{"valid high address", Descriptor{AppStartAddr: flash.Base + 256*1024}.Sealed(), nil},
		{"checksum not embedded", good, ErrChecksumMismatch},
		{"misaligned", Descriptor{AppStartAddr: flash.Base + BootSize + 0x100}.Sealed(), ErrAddressMisaligned},
		{"inside boot region", Descriptor{AppStartAddr: flash.Base + BootSize - flash.AppPageSize}.Sealed(), ErrAddressTooLow},
		{"zero address", Descriptor{}.Sealed(), ErrAddressTooLow},
		// checksum is checked first.
		{"misaligned and bad checksum", Descriptor{AppStartAddr: 3, Checksum: 1}, ErrChecksumMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.d)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_RejectsAnyBitFlip(t *testing.T) {
	sealed := good.Sealed()
	b := sealed.Encode()
	for i := 0; i < offChecksum; i++ {
		for bit := 0; bit < 8; bit++ {
			c := append([]byte(nil), b...)
			c[i] ^= 1 << bit
			d, err := Decode(c)
			require.NoError(t, err)
			assert.ErrorIs(t, Validate(d), ErrChecksumMismatch, "byte %d bit %d", i, bit)
		}
	}
}

func TestChecksum_ContentOnly(t *testing.T) {
	// the checksum depends on bytes only, not on how they were produced.
	a := Descriptor{AppStartAddr: 0x08010000, Status: StatusUpdateStart, UsartNum: 1, ReceiverID: 2}
	b := Descriptor{ReceiverID: 2, UsartNum: 1, Status: StatusUpdateStart, AppStartAddr: 0x08010000}
	assert.Equal(t, a.Sum(), b.Sum())
	assert.Equal(t, Checksum(a.Encode()[:offChecksum]), a.Sum())
	assert.Equal(t, uint32(0), Checksum(nil))
}

func TestStore_CommitRoundTrip(t *testing.T) {
	dev := flash.NewMemory()
	s := NewStore(dev)
	require.NoError(t, s.Commit(good))

	d, err := s.Load()
	require.NoError(t, err)
	assert.NoError(t, Validate(d))
	assert.Equal(t, good.Sealed(), d)

	erases, writes := dev.Stats()
	assert.Equal(t, 1, erases)
	assert.Equal(t, 1, writes)

	// a second commit must erase again, as flash cannot be reprogrammed.
	require.NoError(t, s.Commit(Descriptor{AppStartAddr: flash.Base + 128*1024}))
	d, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, flash.Base+128*1024, d.AppStartAddr)
}

func TestStore_LoadCorrupt(t *testing.T) {
	dev := flash.NewMemory()
	s := NewStore(dev)
	require.NoError(t, s.Commit(good))
	require.NoError(t, dev.FlipBit(flash.UpdateInfoAddr+6, 0))

	d, err := s.Load()
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, uint8(0), d.UsartNum, "raw value is returned")

	// not healed.
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestStore_SetStatus(t *testing.T) {
	s := NewStore(flash.NewMemory())
	require.NoError(t, s.Commit(good))
	require.NoError(t, s.SetStatus(StatusUpdateStart))
	d, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, StatusUpdateStart, d.Status)
	assert.Equal(t, good.AppStartAddr, d.AppStartAddr)
	assert.Equal(t, good.ReceiverID, d.ReceiverID)
}

func TestStore_InitializeAtBoot(t *testing.T) {
	t.Run("erased flash", func(t *testing.T) {
		s := NewStore(flash.NewMemory())
		require.NoError(t, s.InitializeAtBoot())
		d, err := s.Load()
		require.NoError(t, err)
		assert.Equal(t, StatusAppNormal, d.Status)
	})
	t.Run("after update", func(t *testing.T) {
		dev := flash.NewMemory()
		s := NewStore(dev)
		require.NoError(t, s.Commit(Descriptor{AppStartAddr: good.AppStartAddr, Status: StatusUpdateStart}))
		require.NoError(t, s.InitializeAtBoot())
		d, err := s.Load()
		require.NoError(t, err)
		assert.Equal(t, StatusAppNormal, d.Status)
		assert.Equal(t, good.AppStartAddr, d.AppStartAddr)
	})
	t.Run("already normal", func(t *testing.T) {
		dev := flash.NewMemory()
		s := NewStore(dev)
		require.NoError(t, s.Commit(good))
		require.NoError(t, s.InitializeAtBoot())
		erases, _ := dev.Stats()
		assert.Equal(t, 1, erases, "no rewrite when already normal")
	})
	t.Run("corrupt normal", func(t *testing.T) {
		dev := flash.NewMemory()
		s := NewStore(dev)
		require.NoError(t, s.Commit(good))
		require.NoError(t, dev.FlipBit(flash.UpdateInfoAddr+7, 1))
		assert.ErrorIs(t, s.InitializeAtBoot(), ErrChecksumMismatch)
	})
}

func TestStore_Request(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr error
	}{
		{"valid", good.Sealed(), nil},
		{"bad checksum", good, ErrChecksumMismatch},
		{"too low", Descriptor{AppStartAddr: flash.Base}.Sealed(), ErrAddressTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := flash.NewMemory()
			s := NewStore(dev)
			err := s.Request(tt.d, 3, 4)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				erases, writes := dev.Stats()
				assert.Zero(t, erases+writes, "refused update must not touch flash")
				return
			}
			require.NoError(t, err)
			d, err := s.Load()
			require.NoError(t, err)
			assert.Equal(t, StatusUpdateStart, d.Status)
			assert.Equal(t, uint8(3), d.UsartNum)
			assert.Equal(t, uint8(4), d.ReceiverID)
		})
	}
}

// faultyDevice corrupts every write.
type faultyDevice struct {
	*flash.Memory
}

func (f faultyDevice) Write(addr uint32, data []byte) error {
	if err := f.Memory.Write(addr, data); err != nil {
		return err
	}
	return f.Memory.FlipBit(addr, 0)
}

func TestStore_CommitVerifies(t *testing.T) {
	s := NewStore(faultyDevice{flash.NewMemory()})
	assert.ErrorIs(t, s.Commit(good), ErrStorageFault)
}

func TestDecode_Short(t *testing.T) {
	_, err := Decode(make([]byte, DescriptorSize-1))
	assert.ErrorIs(t, err, ErrShortDescriptor)
}
