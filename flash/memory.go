package flash

import (
	"fmt"
	"sync"
)

// Memory is an in-memory flash device.  The zero value is unusable,
// initialise with [NewMemory].
type Memory struct {
	mu   sync.Mutex
	data []byte

	erases int
	writes int
}

var _ Device = (*Memory)(nil)

// NewMemory returns a fully erased device.
func NewMemory() *Memory {
	m := &Memory{data: make([]byte, Size)}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

// NewMemoryFrom returns a device initialised from an image.  The image must
// be exactly [Size] bytes long.
func NewMemoryFrom(image []byte) (*Memory, error) {
	if uint32(len(image)) != Size {
		return nil, fmt.Errorf("flash: image size %d, want %d", len(image), Size)
	}
	m := &Memory{data: make([]byte, Size)}
	copy(m.data, image)
	return m, nil
}

func (m *Memory) Erase(addr uint32, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < count; i++ {
		if !PageStart(addr) {
			return fmt.Errorf("%w: erase at 0x%08x", ErrUnaligned, addr)
		}
		size := PageSize(addr)
		if err := checkRange(addr, int(size)); err != nil {
			return err
		}
		off := addr - Base
		for j := off; j < off+size; j++ {
			m.data[j] = Erased
		}
		addr += size
	}
	m.erases++
	return nil
}

func (m *Memory) Write(addr uint32, data []byte) error {
	if addr%2 != 0 {
		return fmt.Errorf("%w: write at 0x%08x", ErrUnaligned, addr)
	}
	n := len(data) + len(data)%2
	if err := checkRange(addr, n); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	off := addr - Base
	// check first, so that a rejected write leaves the device untouched.
	for i := uint32(0); i < uint32(n); i += 2 {
		if m.data[off+i] != Erased || m.data[off+i+1] != Erased {
			return fmt.Errorf("%w: 0x%08x", ErrNotErased, addr+i)
		}
	}
	copy(m.data[off:], data)
	if len(data)%2 != 0 {
		m.data[off+uint32(len(data))] = Erased
	}
	m.writes++
	return nil
}

func (m *Memory) Read(addr uint32, n int) ([]byte, error) {
	if err := checkRange(addr, n); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	copy(out, m.data[addr-Base:])
	return out, nil
}

// Image returns a copy of the whole device.
func (m *Memory) Image() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// FlipBit inverts one bit at addr, bypassing the programming rules.  It is
// used to inject corruption.
func (m *Memory) FlipBit(addr uint32, bit uint) error {
	if err := checkRange(addr, 1); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[addr-Base] ^= 1 << (bit % 8)
	return nil
}

// Stats returns the number of successful erase and write operations.
func (m *Memory) Stats() (erases, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.erases, m.writes
}
