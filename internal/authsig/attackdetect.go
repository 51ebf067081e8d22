package authsig

import (
	"sync"
	"time"

	"github.com/datafold/datafold/internal/config"
)

// AttackSeverity buckets how far a client's recent failure count has
// pushed past its threshold.
type AttackSeverity string

const (
	SeverityNone     AttackSeverity = "none"
	SeverityWarning  AttackSeverity = "warning"
	SeverityCritical AttackSeverity = "critical"
)

// window tracks failure timestamps for one client within a sliding horizon.
type window struct {
	events []time.Time
}

func (w *window) record(now time.Time) {
	w.events = append(w.events, now)
}

func (w *window) count(since time.Time) int {
	n := 0
	for _, t := range w.events {
		if t.After(since) {
			n++
		}
	}
	return n
}

func (w *window) prune(cutoff time.Time) bool {
	kept := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.events = kept
	return len(w.events) == 0
}

// AttackDetector tracks two independent sliding windows per client —
// brute-force (repeated signature/timestamp/key failures) and replay
// (repeated nonce failures) — and scores severity proportionally to how far
// the count sits past the configured threshold.
type AttackDetector struct {
	cfg config.AttackDetectionConfig

	mu         sync.Mutex
	bruteForce map[string]*window
	replay     map[string]*window
}

// NewAttackDetector builds an AttackDetector from the
// signature_auth.attack_detection config block.
func NewAttackDetector(cfg config.AttackDetectionConfig) *AttackDetector {
	return &AttackDetector{
		cfg:        cfg,
		bruteForce: make(map[string]*window),
		replay:     make(map[string]*window),
	}
}

// RecordBruteForce records a signature/timestamp/key-lookup failure for
// client and returns the resulting severity.
func (d *AttackDetector) RecordBruteForce(client string) AttackSeverity {
	if !d.cfg.Enabled {
		return SeverityNone
	}
	return d.record(d.bruteForce, client, d.cfg.BruteForceWindowSecs, d.cfg.BruteForceThreshold)
}

// RecordReplay records a nonce-validation failure for client and returns
// the resulting severity.
func (d *AttackDetector) RecordReplay(client string) AttackSeverity {
	if !d.cfg.Enabled {
		return SeverityNone
	}
	return d.record(d.replay, client, d.cfg.BruteForceWindowSecs, d.cfg.ReplayThreshold)
}

func (d *AttackDetector) record(windows map[string]*window, client string, windowSecs, threshold int) AttackSeverity {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	w, ok := windows[client]
	if !ok {
		w = &window{}
		windows[client] = w
	}
	w.record(now)

	if windowSecs <= 0 || threshold <= 0 {
		return SeverityNone
	}
	count := w.count(now.Add(-time.Duration(windowSecs) * time.Second))

	switch {
	case count >= threshold*2:
		return SeverityCritical
	case count >= threshold:
		return SeverityWarning
	default:
		return SeverityNone
	}
}

// Cleanup drops any per-client window whose events have all aged out of
// cutoff, bounding memory for clients that stop sending requests.
func (d *AttackDetector) Cleanup(cutoff time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for client, w := range d.bruteForce {
		if w.prune(cutoff) {
			delete(d.bruteForce, client)
		}
	}
	for client, w := range d.replay {
		if w.prune(cutoff) {
			delete(d.replay, client)
		}
	}
}
