package cfg

import (
	"io"
	"sync"
)

type InfoReportFunc func(w io.Writer)

var (
	sigMu        sync.Mutex
	sigReporters []InfoReportFunc
)

// RegisterSigInfoReporter adds fn to the reporters run on SIGINFO (or
// SIGUSR1).
func RegisterSigInfoReporter(fn InfoReportFunc) {
	if fn == nil {
		return
	}
	sigMu.Lock()
	defer sigMu.Unlock()
	sigReporters = append(sigReporters, fn)
}

func SigInfo(w io.Writer) {
	if w == nil {
		return
	}
	sigMu.Lock()
	fns := sigReporters
	sigMu.Unlock()
	for _, fn := range fns {
		fn(w)
	}
}
