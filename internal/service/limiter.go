package service

import "sync"

const (
	MaxConcurrentBackups = 3
	MaxConcurrentUpdates = 1
)

// Limiter is an admission counter. Requests over the ceiling are refused, not queued.
type Limiter struct {
	mu       sync.Mutex
	max      int
	inFlight int
}

func NewLimiter(max int) *Limiter {
	return &Limiter{max: max}
}

func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight >= l.max {
		return false
	}
	l.inFlight++
	return true
}

func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight > 0 {
		l.inFlight--
	}
}

func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *Limiter) Max() int {
	return l.max
}
