package vwtp

import "time"

// Config holds VWTP session configuration
type Config struct {
	// ReassemblyTimeout is the maximum gap between frames of one transfer.
	// Default: 1 second
	ReassemblyTimeout time.Duration

	// OnTimeout is called with ErrTransferTimeout when a partial transfer is dropped.
	// It runs on the timer goroutine without the session lock held.
	OnTimeout func(error)
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		ReassemblyTimeout: time.Second,
	}
}
