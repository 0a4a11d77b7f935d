// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package runtime

import (
	"sync"

	"golang.org/x/time/rate"
)

// ScanRegistry tracks active-discovery re-probe attempts per target
// address and throttles them with a token bucket. It is a data structure
// only: what counts as a "target" and when to actually probe it is policy
// left to the caller (spec.md names discovery as out of scope; this is the
// bookkeeping a discovery layer would sit on top of).
type ScanRegistry struct {
	rateLimit rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewScanRegistry returns an empty registry. Every distinct target address
// gets its own token bucket of the given rate and burst.
func NewScanRegistry(r rate.Limit, burst int) *ScanRegistry {
	if burst <= 0 {
		burst = 1
	}
	return &ScanRegistry{
		rateLimit: r,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a scan attempt against target is permitted right
// now, consuming one token if so.
func (s *ScanRegistry) Allow(target string) bool {
	return s.limiterFor(target).Allow()
}

func (s *ScanRegistry) limiterFor(target string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[target]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[target] = l
	}
	return l
}

// Forget drops a target's bucket, e.g. once it has been successfully
// resolved to a live RemoteNode and no longer needs re-probing.
func (s *ScanRegistry) Forget(target string) {
	s.mu.Lock()
	delete(s.limiters, target)
	s.mu.Unlock()
}
