// Package update manages the firmware update descriptor: a checksum guarded
// record in a reserved flash page that tells the bootloader whether to wait
// for a new application image.
//
// The descriptor is never edited in place.  Every change erases the page and
// writes the whole record again, then reads it back to verify it.
package update

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rusq/printcore/flash"
)

var ErrStorageFault = errors.New("update: descriptor verification failed")

// Rebooter resets the board into the bootloader.
type Rebooter interface {
	RebootToBootloader() error
}

// RebooterFunc adapts a function to [Rebooter].
type RebooterFunc func() error

func (f RebooterFunc) RebootToBootloader() error { return f() }

// Observer is notified about descriptor activity.
type Observer interface {
	DescriptorCommitted()
	ChecksumFailed()
}

type nopObserver struct{}

func (nopObserver) DescriptorCommitted() {}
func (nopObserver) ChecksumFailed()      {}

// Store is the descriptor page.
type Store struct {
	dev  flash.Device
	addr uint32
	obs  Observer
	lg   *slog.Logger
}

// Option configures a [Store].
type Option func(*Store)

func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.obs = o
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(s *Store) {
		if lg != nil {
			s.lg = lg
		}
	}
}

// NewStore returns the descriptor store on dev.
func NewStore(dev flash.Device, opt ...Option) *Store {
	s := &Store{
		dev:  dev,
		addr: flash.UpdateInfoAddr,
		obs:  nopObserver{},
		lg:   slog.Default(),
	}
	for _, o := range opt {
		o(s)
	}
	return s
}

// Raw reads the persisted descriptor without verifying it.
func (s *Store) Raw() (Descriptor, error) {
	b, err := s.dev.Read(s.addr, DescriptorSize)
	if err != nil {
		return Descriptor{}, fmt.Errorf("update: read: %w", err)
	}
	return Decode(b)
}

// Load reads the persisted descriptor and verifies its checksum.  A
// mismatch is reported with [ErrChecksumMismatch] along with the raw
// descriptor; nothing is repaired.
func (s *Store) Load() (Descriptor, error) {
	d, err := s.Raw()
	if err != nil {
		return Descriptor{}, err
	}
	if sum := d.Sum(); sum != d.Checksum {
		s.obs.ChecksumFailed()
		return d, fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, d.Checksum, sum)
	}
	return d, nil
}

// Commit seals d and persists it: one page erase, a full write, and a read
// back.
func (s *Store) Commit(d Descriptor) error {
	d = d.Sealed()
	b := d.Encode()
	if err := s.dev.Erase(s.addr, 1); err != nil {
		return fmt.Errorf("update: erase: %w", err)
	}
	if err := s.dev.Write(s.addr, b); err != nil {
		return fmt.Errorf("update: write: %w", err)
	}
	got, err := s.dev.Read(s.addr, DescriptorSize)
	if err != nil {
		return fmt.Errorf("update: verify: %w", err)
	}
	if !bytes.Equal(got, b) {
		s.lg.Error("descriptor verification failed", "want", fmt.Sprintf("% x", b), "got", fmt.Sprintf("% x", got))
		return fmt.Errorf("%w: at 0x%08x", ErrStorageFault, s.addr)
	}
	s.obs.DescriptorCommitted()
	s.lg.Info("update descriptor committed", "status", d.Status, "app_start", fmt.Sprintf("0x%08x", d.AppStartAddr))
	return nil
}

// SetStatus overwrites the status of the persisted descriptor.
func (s *Store) SetStatus(st Status) error {
	d, err := s.Raw()
	if err != nil {
		return err
	}
	d.Status = st
	return s.Commit(d)
}

// InitializeAtBoot settles the descriptor after the application booted: any
// status except [StatusAppNormal] is reset.  A descriptor that already reads
// normal but fails its checksum is reported and left alone.
func (s *Store) InitializeAtBoot() error {
	d, err := s.Raw()
	if err != nil {
		return err
	}
	if d.Status != StatusAppNormal {
		s.lg.Info("settling update descriptor", "status", d.Status)
		return s.SetStatus(StatusAppNormal)
	}
	if _, err := s.Load(); err != nil {
		s.lg.Warn("update descriptor is corrupt", "error", err)
		return err
	}
	return nil
}

// Request prepares an update from the descriptor d sent by the host.  The
// descriptor is validated, marked for the bootloader with the transport
// that delivered it, and committed.  The caller hands over to the
// bootloader afterwards.
func (s *Store) Request(d Descriptor, usart, receiver uint8) error {
	if err := Validate(d); err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			s.obs.ChecksumFailed()
		}
		s.lg.Warn("update request refused", "error", err)
		return err
	}
	d.Status = StatusUpdateStart
	d.UsartNum = usart
	d.ReceiverID = receiver
	return s.Commit(d)
}
