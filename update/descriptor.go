package update

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rusq/printcore/flash"
)

// BootSize is the size of the boot region at the start of flash.  No
// application may be placed inside it.
const BootSize uint32 = 64 * 1024

// DescriptorSize is the encoded size of a [Descriptor].
const DescriptorSize = 12

var (
	ErrChecksumMismatch  = errors.New("update: descriptor checksum mismatch")
	ErrAddressMisaligned = errors.New("update: application address is not page aligned")
	ErrAddressTooLow     = errors.New("update: application address inside the boot region")
	ErrShortDescriptor   = errors.New("update: descriptor too short")
)

// Status is the update lifecycle flag.
type Status uint16

const (
	StatusAppNormal   Status = 0x0000 // application booted normally
	StatusUpdateStart Status = 0x0001 // bootloader must receive a new image
)

func (s Status) String() string {
	switch s {
	case StatusAppNormal:
		return "app_normal"
	case StatusUpdateStart:
		return "update_start"
	}
	return fmt.Sprintf("status(0x%04x)", uint16(s))
}

// Descriptor is the persisted record describing a firmware update.
//
// Layout, little-endian:
//
//	app_start_addr u32 | status u16 | usart_num u8 | receiver_id u8 | checksum u32
//
// The checksum covers every preceding byte.
type Descriptor struct {
	AppStartAddr uint32
	Status       Status
	UsartNum     uint8
	ReceiverID   uint8
	Checksum     uint32
}

const offChecksum = 8

// Encode returns the packed descriptor with the checksum as stored in d.
func (d Descriptor) Encode() []byte {
	b := make([]byte, DescriptorSize)
	binary.LittleEndian.PutUint32(b[0:], d.AppStartAddr)
	binary.LittleEndian.PutUint16(b[4:], uint16(d.Status))
	b[6] = d.UsartNum
	b[7] = d.ReceiverID
	binary.LittleEndian.PutUint32(b[offChecksum:], d.Checksum)
	return b
}

// Decode unpacks a descriptor without verifying it.
func Decode(b []byte) (Descriptor, error) {
	if len(b) < DescriptorSize {
		return Descriptor{}, fmt.Errorf("%w: %d bytes", ErrShortDescriptor, len(b))
	}
	return Descriptor{
		AppStartAddr: binary.LittleEndian.Uint32(b[0:]),
		Status:       Status(binary.LittleEndian.Uint16(b[4:])),
		UsartNum:     b[6],
		ReceiverID:   b[7],
		Checksum:     binary.LittleEndian.Uint32(b[offChecksum:]),
	}, nil
}

// Checksum computes the record checksum of b.
func Checksum(b []byte) uint32 {
	return flash.Checksum(b)
}

// Sum computes the checksum over every field of d except the checksum.
func (d Descriptor) Sum() uint32 {
	return Checksum(d.Encode()[:offChecksum])
}

// Sealed returns d with its checksum recomputed.
func (d Descriptor) Sealed() Descriptor {
	d.Checksum = d.Sum()
	return d
}

// Validate checks that d may drive an update.
func Validate(d Descriptor) error {
	if sum := d.Sum(); sum != d.Checksum {
		return fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, d.Checksum, sum)
	}
	if d.AppStartAddr%flash.AppPageSize != 0 {
		return fmt.Errorf("%w: 0x%08x", ErrAddressMisaligned, d.AppStartAddr)
	}
	if d.AppStartAddr < flash.Base+BootSize {
		return fmt.Errorf("%w: 0x%08x", ErrAddressTooLow, d.AppStartAddr)
	}
	return nil
}
