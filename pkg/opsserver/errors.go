package opsserver

import "errors"

var (
	ErrStart    = errors.New("failed to start ops server")
	ErrShutdown = errors.New("failed to shut down ops server gracefully")
	ErrRunning  = errors.New("ops server already running")
)
