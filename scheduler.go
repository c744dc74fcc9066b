// FILE: scheduler.go
// Package main – a small fixed-interval task runner. Both background loops
// (the market simulator and the testnet sync service) run on one of these
// instead of ad-hoc goroutine-plus-flag plumbing, so start/stop/running
// semantics are identical across them.

package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs a task once immediately on Start, then on every interval
// tick until Stop or context cancellation. Start and Stop are idempotent
// and safe for concurrent use.
type Scheduler struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context)

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler builds a stopped scheduler. The task must return promptly
// when its context is cancelled.
func NewScheduler(name string, interval time.Duration, task func(ctx context.Context)) *Scheduler {
	return &Scheduler{name: name, interval: interval, task: task}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Start launches the loop. Returns false if it was already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	return true
}

// Stop cancels the loop and waits for the in-flight task to finish.
// Returns false if the loop was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return true
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		s.running.Store(false)
		close(s.done)
	}()

	s.task(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.task(ctx)
		}
	}
}
