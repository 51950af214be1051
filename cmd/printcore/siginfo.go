package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/rusq/printcore/cmd/printcore/internal/cfg"
)

// reportOn prints the registered status reports to stderr whenever one of
// sig arrives.
func reportOn(sig ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)
	go func() {
		for s := range ch {
			fmt.Fprintf(os.Stderr, "--- printcore status (%s) ---\n", s)
			cfg.SigInfo(os.Stderr)
		}
	}()
}
