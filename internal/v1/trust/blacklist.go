package trust

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
)

// AutoBanTTL is how long an automatically blacklisted IP stays banned.
const AutoBanTTL = time.Hour

// sweepInterval is how often expired blacklist entries are collected.
const sweepInterval = time.Minute

// Failed admin authentications within failWindow before an IP is banned.
const (
	failLimit  = 5
	failWindow = 10 * time.Minute
)

// BlacklistEntry is one banned IP for the admin listing.
type BlacklistEntry struct {
	IP        string    `json:"ip"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Blacklist is the TTL'd IP ban table. Expired entries are evicted lazily on
// lookup and by the periodic sweep.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	fails   map[string][]time.Time
	now     func() time.Time
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{
		entries: map[string]time.Time{},
		fails:   map[string][]time.Time{},
		now:     time.Now,
	}
}

// Add bans ip for ttl.
func (b *Blacklist) Add(ip string, ttl time.Duration) {
	b.mu.Lock()
	b.entries[ip] = b.now().Add(ttl)
	b.mu.Unlock()
	logging.Warn(context.Background(), "ip blacklisted",
		zap.String("ip", ip), zap.Duration("ttl", ttl))
}

// IsBlacklisted reports whether ip has an unexpired entry.
func (b *Blacklist) IsBlacklisted(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[ip]
	if !ok {
		return false
	}
	if b.now().After(exp) {
		delete(b.entries, ip)
		return false
	}
	return true
}

// Remove lifts the ban on ip.
func (b *Blacklist) Remove(ip string) {
	b.mu.Lock()
	delete(b.entries, ip)
	b.mu.Unlock()
}

// Clear lifts all bans.
func (b *Blacklist) Clear() {
	b.mu.Lock()
	b.entries = map[string]time.Time{}
	b.mu.Unlock()
}

// List returns the unexpired entries sorted by IP.
func (b *Blacklist) List() []BlacklistEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]BlacklistEntry, 0, len(b.entries))
	for ip, exp := range b.entries {
		if now.After(exp) {
			delete(b.entries, ip)
			continue
		}
		out = append(out, BlacklistEntry{IP: ip, ExpiresAt: exp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// RecordAuthFailure counts a failed admin authentication from ip and bans it
// for AutoBanTTL once failLimit failures land inside failWindow. Loopback
// addresses are exempt. Returns true when the ban was applied.
func (b *Blacklist) RecordAuthFailure(ip string) bool {
	if isLoopback(ip) {
		return false
	}
	b.mu.Lock()
	now := b.now()
	cutoff := now.Add(-failWindow)
	recent := b.fails[ip][:0]
	for _, at := range b.fails[ip] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	if len(recent) < failLimit {
		b.fails[ip] = recent
		b.mu.Unlock()
		return false
	}
	delete(b.fails, ip)
	b.entries[ip] = now.Add(AutoBanTTL)
	b.mu.Unlock()
	logging.Warn(context.Background(), "ip blacklisted after repeated auth failures",
		zap.String("ip", ip))
	return true
}

// StartSweeper evicts expired entries every minute until ctx ends.
func (b *Blacklist) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

func (b *Blacklist) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for ip, exp := range b.entries {
		if now.After(exp) {
			delete(b.entries, ip)
		}
	}
	cutoff := now.Add(-failWindow)
	for ip, times := range b.fails {
		recent := times[:0]
		for _, at := range times {
			if at.After(cutoff) {
				recent = append(recent, at)
			}
		}
		if len(recent) == 0 {
			delete(b.fails, ip)
		} else {
			b.fails[ip] = recent
		}
	}
}
