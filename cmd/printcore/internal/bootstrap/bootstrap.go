package bootstrap

import (
	"fmt"

	"github.com/rusq/printcore"
	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
	"github.com/rusq/printcore/update"
)

// Flash opens the flash image.
func Flash() (*flash.File, error) {
	dev, err := flash.OpenFile(cfg.FlashFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash: %w", err)
	}
	cfg.Log.Debug("flash image opened", "path", dev.Path())
	return dev, nil
}

// Record returns the loaded crash-recovery record on the flash image.
func Record() (*powerloss.Record, error) {
	dev, err := Flash()
	if err != nil {
		return nil, err
	}
	rec := powerloss.New(dev)
	if err := rec.Load(); err != nil {
		return rec, fmt.Errorf("crash-recovery record: %w", err)
	}
	return rec, nil
}

// Updates returns the update descriptor store on the flash image.
func Updates() (*update.Store, error) {
	dev, err := Flash()
	if err != nil {
		return nil, err
	}
	return update.NewStore(dev, update.WithLogger(cfg.Log)), nil
}

// Controller returns a controller configured from [cfg.Settings].  Options in
// opt are applied last.
func Controller(eng printjob.Engine, send sacp.Sender, dev flash.Device, opt ...printcore.Option) *printcore.Controller {
	opts := append(cfg.Settings.Options(), printcore.WithLogger(cfg.Log))
	opts = append(opts, opt...)
	return printcore.New(eng, send, dev, opts...)
}
