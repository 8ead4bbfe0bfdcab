package auth

import (
	"sync"
	"time"
)

// LoginLimiter is a fixed-window rate limiter keyed by source address,
// placed in front of login and passcode verification to blunt online
// guessing. State is in-memory and resets on restart, which is acceptable
// for a single-tenant deployment.
type LoginLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*loginWindow
}

type loginWindow struct {
	count int
	start time.Time
}

// NewLoginLimiter allows max attempts per source address per window.
func NewLoginLimiter(max int, window time.Duration) *LoginLimiter {
	l := &LoginLimiter{
		max:     max,
		window:  window,
		entries: make(map[string]*loginWindow),
	}

	// Drop stale windows so the map does not grow with every address seen.
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			l.cleanup()
		}
	}()

	return l
}

// Allow reports whether a login attempt from addr is within the limit.
func (l *LoginLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.entries[addr]
	if !ok || now.Sub(w.start) > l.window {
		l.entries[addr] = &loginWindow{count: 1, start: now}
		return true
	}
	w.count++
	return w.count <= l.max
}

func (l *LoginLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-2 * l.window)
	for addr, w := range l.entries {
		if w.start.Before(cutoff) {
			delete(l.entries, addr)
		}
	}
}
