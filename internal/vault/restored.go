// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"sync"
	"time"
)

// Restored holds credentials loaded from storage at startup that no live
// session owns. They remain usable for session-less upstream calls (cache
// warm-up) until their access token expires.
type Restored struct {
	mu   sync.Mutex
	recs map[string]*TokenRecord
	now  func() time.Time
}

// NewRestored returns an empty set judging expiry by now (time.Now if nil).
func NewRestored(now func() time.Time) *Restored {
	if now == nil {
		now = time.Now
	}
	return &Restored{recs: make(map[string]*TokenRecord), now: now}
}

// Add keeps a copy of rec under key.
func (r *Restored) Add(key string, rec *TokenRecord) {
	if r == nil || rec == nil {
		return
	}
	r.mu.Lock()
	r.recs[key] = rec.Clone()
	r.mu.Unlock()
}

// Retains reports whether key holds a restored credential that is still valid.
// Cleanup must not clear such keys.
func (r *Restored) Retains(key string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[key]
	return ok && rec.IsValid(r.now())
}

// AccessToken returns the valid restored token with the latest expiry.
func (r *Restored) AccessToken() (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var best *TokenRecord
	for _, rec := range r.recs {
		if rec.IsValid(now) && (best == nil || rec.ExpiresAt.After(best.ExpiresAt)) {
			best = rec
		}
	}
	if best == nil {
		return "", false
	}
	return best.AccessToken, true
}

// Prune forgets expired entries and returns their keys.
func (r *Restored) Prune() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []string
	for key, rec := range r.recs {
		if !rec.IsValid(now) {
			delete(r.recs, key)
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of entries, expired or not.
func (r *Restored) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}
