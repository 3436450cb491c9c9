// Package xsync provides small concurrency primitives shared across the
// runtime (stop signaling, etc.) that don't belong to any one subsystem.
package xsync

import "sync"

// StopCh is a broadcast-once close signal: Listen() returns the same
// channel to every caller, and Close() is safe to call more than once.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func (s *StopCh) Init() { s.ch = make(chan struct{}) }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }
