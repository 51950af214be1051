package main

import "syscall"

// trapSigInfo reports the status on Ctrl+T and on SIGUSR1.
func trapSigInfo() {
	reportOn(syscall.SIGINFO, syscall.SIGUSR1)
}
