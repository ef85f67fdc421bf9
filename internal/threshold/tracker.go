// Package threshold throttles price-spike alerts so each user gets at most
// one notification per ladder crossing per direction per trading day.
package threshold

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/bsewatch/bsewatch/internal/models"
)

const dayLayout = "2006-01-02"

// Ladder is the fixed ascending set of percentage trigger points.
var Ladder = []float64{5, 10, 15, 20}

// AlertLedger is the persisted side of the tracker, shared across processes.
type AlertLedger interface {
	AlertExists(userID, scripCode, alertDate, alertType string) (bool, error)
	InsertAlert(alert *models.ThresholdAlert) error
}

// dayKey identifies one user/instrument/day bucket. Using a struct key avoids
// re-parsing separator-joined strings where the date itself contains the
// separator.
type dayKey struct {
	UserID    string
	ScripCode string
	Day       string
}

type Tracker struct {
	mu           sync.Mutex
	ledger       AlertLedger
	sent         map[dayKey]map[string]bool
	lastCleanup  time.Time
	cleanupEvery time.Duration
	now          func() time.Time
}

func NewTracker(ledger AlertLedger) *Tracker {
	return &Tracker{
		ledger:       ledger,
		sent:         make(map[dayKey]map[string]bool),
		lastCleanup:  time.Now(),
		cleanupEvery: time.Hour,
		now:          time.Now,
	}
}

// Classify returns the highest ladder value crossed by the absolute price
// change, or false when the change is below the 5% floor.
func Classify(priceChangePct float64) (float64, bool) {
	abs := priceChangePct
	if abs < 0 {
		abs = -abs
	}
	for i := len(Ladder) - 1; i >= 0; i-- {
		if abs >= Ladder[i] {
			return Ladder[i], true
		}
	}
	return 0, false
}

// AlertType encodes direction and threshold, e.g. "price_up_10pct".
func AlertType(priceChangePct, threshold float64) string {
	direction := "down"
	if priceChangePct > 0 {
		direction = "up"
	}
	return fmt.Sprintf("price_%s_%dpct", direction, int(threshold))
}

// ShouldAlert reports whether a notification for this price change is still
// owed today. The in-memory set is checked first, then the ledger; a ledger
// hit (another process sent it) is backfilled into memory. Ledger failure is
// treated as "not sent yet".
func (t *Tracker) ShouldAlert(userID, scripCode string, priceChangePct float64) (bool, float64, string) {
	t.evictStale()

	threshold, ok := Classify(priceChangePct)
	if !ok {
		return false, 0, "no_threshold"
	}
	alertType := AlertType(priceChangePct, threshold)
	day := t.now().Format(dayLayout)
	key := dayKey{UserID: userID, ScripCode: scripCode, Day: day}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sent[key][alertType] {
		return false, threshold, "already_sent_" + alertType
	}

	exists, err := t.ledger.AlertExists(userID, scripCode, day, alertType)
	if err != nil {
		log.Warn().Err(err).Str("scrip", scripCode).Msg("alert ledger check failed, assuming not sent")
	} else if exists {
		t.markLocked(key, alertType)
		return false, threshold, "db_duplicate_" + alertType
	}

	return true, threshold, alertType
}

// RecordAlert marks the alert sent in memory first, then in the ledger. A
// ledger write failure is logged and tolerated: the in-memory record prevents
// an immediate repeat, and the next restart re-synchronizes from persistence.
func (t *Tracker) RecordAlert(userID, scripCode string, priceChangePct, threshold float64) {
	alertType := AlertType(priceChangePct, threshold)
	day := t.now().Format(dayLayout)

	t.mu.Lock()
	t.markLocked(dayKey{UserID: userID, ScripCode: scripCode, Day: day}, alertType)
	t.mu.Unlock()

	err := t.ledger.InsertAlert(&models.ThresholdAlert{
		UserID:    userID,
		ScripCode: scripCode,
		AlertDate: day,
		AlertType: alertType,
	})
	if err != nil {
		log.Warn().Err(err).Str("scrip", scripCode).Str("alert_type", alertType).
			Msg("failed to persist threshold alert")
	}
}

func (t *Tracker) markLocked(key dayKey, alertType string) {
	if t.sent[key] == nil {
		t.sent[key] = make(map[string]bool)
	}
	t.sent[key][alertType] = true
}

// evictStale drops buckets whose day is no longer today, at most once per
// cleanup interval.
func (t *Tracker) evictStale() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastCleanup) < t.cleanupEvery {
		return
	}
	t.lastCleanup = now

	today := now.Format(dayLayout)
	removed := 0
	for key := range t.sent {
		if key.Day != today {
			delete(t.sent, key)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("evicted stale threshold entries")
	}
}

type Stats struct {
	ActiveAlertsToday int         `json:"active_alerts_today"`
	ThresholdCounts   map[int]int `json:"threshold_counts"`
	TrackedKeys       int         `json:"total_tracking_keys"`
	Thresholds        []float64   `json:"thresholds_configured"`
	LastCleanup       time.Time   `json:"last_cleanup"`
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		ThresholdCounts: make(map[int]int, len(Ladder)),
		TrackedKeys:     len(t.sent),
		Thresholds:      Ladder,
		LastCleanup:     t.lastCleanup,
	}
	for _, pct := range Ladder {
		stats.ThresholdCounts[int(pct)] = 0
	}

	today := t.now().Format(dayLayout)
	for key, types := range t.sent {
		if key.Day != today {
			continue
		}
		stats.ActiveAlertsToday += len(types)
		for alertType := range types {
			for _, ladder := range Ladder {
				if strings.HasSuffix(alertType, fmt.Sprintf("_%dpct", int(ladder))) {
					stats.ThresholdCounts[int(ladder)]++
					break
				}
			}
		}
	}
	return stats
}

// ClearUser drops all in-memory tracking for one user. Intended for tests and
// the admin surface; the ledger is untouched.
func (t *Tracker) ClearUser(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.sent {
		if key.UserID == userID {
			delete(t.sent, key)
			removed++
		}
	}
	return removed
}

// TodayAlerts lists the alert types already sent today for a user, optionally
// restricted to one instrument.
func (t *Tracker) TodayAlerts(userID, scripCode string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := t.now().Format(dayLayout)
	var out []string
	for key, types := range t.sent {
		if key.UserID != userID || key.Day != today {
			continue
		}
		if scripCode != "" && key.ScripCode != scripCode {
			continue
		}
		for alertType := range types {
			out = append(out, alertType)
		}
	}
	return out
}
