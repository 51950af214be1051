//go:build unix && !darwin

package main

import "syscall"

// trapSigInfo reports the status on SIGUSR1, there is no SIGINFO here.
func trapSigInfo() {
	reportOn(syscall.SIGUSR1)
}
