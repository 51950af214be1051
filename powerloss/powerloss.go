// Package powerloss keeps the identity of the job in progress in flash, so
// that an interrupted job can be reported to a reconnecting host and
// resumed.
package powerloss

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rusq/printcore/flash"
)

const (
	MaxHashLen = 32
	MaxNameLen = 128
)

var (
	ErrHashTooLong     = errors.New("powerloss: hash too long")
	ErrNameTooLong     = errors.New("powerloss: name too long")
	ErrCorrupt         = errors.New("powerloss: record checksum mismatch")
	ErrMissingIdentity = errors.New("powerloss: no file identity")
)

// FileIdentity identifies a print file and the progress made on it.
type FileIdentity struct {
	Hash string
	Name string
	Line uint32 // last line executed at a pause
}

// record layout, little-endian:
//
//	hash_len u8 | hash [MaxHashLen] | name_len u8 | name [MaxNameLen] | line u32 | checksum u32
const (
	offHash     = 1
	offNameLen  = offHash + MaxHashLen
	offName     = offNameLen + 1
	offLine     = offName + MaxNameLen
	offChecksum = offLine + 4
	recordSize  = offChecksum + 4
)

// Record is the crash-recovery record.  It caches the persisted identity;
// every change rewrites the whole page.
type Record struct {
	dev  flash.Device
	addr uint32

	id    FileIdentity
	valid bool
}

// New returns an empty record stored on dev.  Call [Record.Load] to read the
// persisted identity.
func New(dev flash.Device) *Record {
	return &Record{dev: dev, addr: flash.PowerLossAddr}
}

// Load reads the persisted identity.  An erased page is an absent record.  A
// record failing its checksum is treated as absent and reported with
// [ErrCorrupt].
func (r *Record) Load() error {
	r.id, r.valid = FileIdentity{}, false
	b, err := r.dev.Read(r.addr, recordSize)
	if err != nil {
		return fmt.Errorf("powerloss: read: %w", err)
	}
	if bytes.Count(b, []byte{flash.Erased}) == len(b) {
		return nil
	}
	id, err := decode(b)
	if err != nil {
		slog.Warn("crash-recovery record rejected", "error", err)
		return err
	}
	r.id, r.valid = id, true
	return nil
}

func decode(b []byte) (FileIdentity, error) {
	want := binary.LittleEndian.Uint32(b[offChecksum:])
	if got := flash.Checksum(b[:offChecksum]); got != want {
		return FileIdentity{}, fmt.Errorf("%w: stored %08x, computed %08x", ErrCorrupt, want, got)
	}
	hashLen, nameLen := int(b[0]), int(b[offNameLen])
	if hashLen > MaxHashLen || nameLen > MaxNameLen {
		return FileIdentity{}, fmt.Errorf("%w: field lengths %d/%d", ErrCorrupt, hashLen, nameLen)
	}
	return FileIdentity{
		Hash: string(b[offHash : offHash+hashLen]),
		Name: string(b[offName : offName+nameLen]),
		Line: binary.LittleEndian.Uint32(b[offLine:]),
	}, nil
}

func encode(id FileIdentity) []byte {
	b := make([]byte, recordSize)
	b[0] = byte(len(id.Hash))
	copy(b[offHash:], id.Hash)
	b[offNameLen] = byte(len(id.Name))
	copy(b[offName:], id.Name)
	binary.LittleEndian.PutUint32(b[offLine:], id.Line)
	binary.LittleEndian.PutUint32(b[offChecksum:], flash.Checksum(b[:offChecksum]))
	return b
}

// Set stores the identity of a new job.  The progress line is reset.
func (r *Record) Set(hash, name string) error {
	if len(hash) > MaxHashLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrHashTooLong, len(hash), MaxHashLen)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(name), MaxNameLen)
	}
	return r.store(FileIdentity{Hash: hash, Name: name})
}

// SaveLine records the progress of the current job.
func (r *Record) SaveLine(line uint32) error {
	if !r.valid {
		return ErrMissingIdentity
	}
	if r.id.Line == line {
		return nil
	}
	id := r.id
	id.Line = line
	return r.store(id)
}

func (r *Record) store(id FileIdentity) error {
	if err := r.dev.Erase(r.addr, 1); err != nil {
		return fmt.Errorf("powerloss: erase: %w", err)
	}
	// the cache is invalid until the new record is written.
	r.valid = false
	if err := r.dev.Write(r.addr, encode(id)); err != nil {
		return fmt.Errorf("powerloss: write: %w", err)
	}
	r.id, r.valid = id, true
	return nil
}

// Get returns the persisted identity, if any.
func (r *Record) Get() (FileIdentity, bool) {
	return r.id, r.valid
}

// Clear erases the record.
func (r *Record) Clear() error {
	if err := r.dev.Erase(r.addr, 1); err != nil {
		return fmt.Errorf("powerloss: erase: %w", err)
	}
	r.id, r.valid = FileIdentity{}, false
	return nil
}
