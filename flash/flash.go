// Package flash describes the reserved non-volatile storage of the controller
// board and provides devices that emulate it.
//
// The flash is NOR: erase sets every byte of a page to 0xFF, programming can
// only clear bits and works on halfwords.  Pages below [DataStart] are
// [AppPageSize] long, pages from [DataStart] onwards are [DataPageSize] long.
package flash

import (
	"errors"
	"fmt"
)

// Flash geometry of the controller board.
const (
	Base         uint32 = 0x08000000
	Size         uint32 = 1024 * 1024
	AppPageSize  uint32 = 2 * 1024
	DataPageSize uint32 = 4 * 1024
	DataStart           = Base + 512*1024
)

// Reserved pages.  Each record sits on its own page so that it can be erased
// independently.
const (
	PowerLossAddr  = Base + 1008*1024 // crash-recovery file identity
	UpdateInfoAddr = Base + 1012*1024 // firmware update descriptor
)

// Erased is the value of every byte of an erased page.
const Erased byte = 0xFF

var (
	ErrOutOfRange = errors.New("flash: address out of range")
	ErrUnaligned  = errors.New("flash: address is not aligned")
	ErrNotErased  = errors.New("flash: programming a halfword that is not erased")
)

// Device is the flash driver.  Erase and Write are all-or-nothing with
// respect to the operation they perform.
type Device interface {
	// Erase erases count pages starting at addr, which must be the start of
	// a page.
	Erase(addr uint32, count int) error
	// Write programs data at addr, halfword by halfword.  An odd trailing
	// byte is padded with 0xFF.
	Write(addr uint32, data []byte) error
	// Read returns a copy of n bytes at addr.
	Read(addr uint32, n int) ([]byte, error)
}

// PageSize returns the size of the page containing addr.
func PageSize(addr uint32) uint32 {
	if addr < DataStart {
		return AppPageSize
	}
	return DataPageSize
}

// PageStart reports whether addr is the first byte of a page.
func PageStart(addr uint32) bool {
	if addr < DataStart {
		return (addr-Base)%AppPageSize == 0
	}
	return (addr-DataStart)%DataPageSize == 0
}

// Checksum computes the record checksum used by every persisted structure:
// the sum of big-endian 16-bit words, an odd trailing byte added as is, then
// complemented.  Empty input yields 0.
func Checksum(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 != 0 {
		sum += uint32(b[len(b)-1])
	}
	return ^sum
}

func checkRange(addr uint32, n int) error {
	if addr < Base || n < 0 || uint64(addr)+uint64(n) > uint64(Base)+uint64(Size) {
		return fmt.Errorf("%w: 0x%08x+%d", ErrOutOfRange, addr, n)
	}
	return nil
}
