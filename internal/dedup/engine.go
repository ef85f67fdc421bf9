// Package dedup decides whether an announcement should be delivered to a user
// or suppressed. It groups near-duplicate announcements by content signature,
// picks one representative per group, and runs layered duplicate checks
// against the delivery ledger.
package dedup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/bsewatch/bsewatch/internal/models"
	"github.com/bsewatch/bsewatch/internal/signature"
)

// Ledger is the slice of the delivery store the engine consults.
type Ledger interface {
	DeliveryExists(userID, newsID string) (bool, error)
	RecentByUserScrip(userID, scripCode string, since time.Time, headlinePattern string) ([]models.DeliveryRecord, error)
	RecentByNewsID(newsID string, since time.Time) ([]models.DeliveryRecord, error)
	CountRecentByUserScrip(userID, scripCode string, since time.Time) (int64, error)
	InsertDelivery(rec *models.DeliveryRecord) error
}

// Verdict is the tri-state outcome of a duplicate check. CheckUnavailable
// means the ledger could not be consulted; callers treat it as "send" (fail
// open) but can log the degraded mode separately.
type Verdict int

const (
	NotDuplicate Verdict = iota
	Duplicate
	CheckUnavailable
)

func (v Verdict) String() string {
	switch v {
	case Duplicate:
		return "duplicate"
	case CheckUnavailable:
		return "check_unavailable"
	default:
		return "not_duplicate"
	}
}

type Result struct {
	Verdict Verdict
	Reason  string
}

// Options holds the tunable windows of the layered checks. The zero value is
// not usable; start from DefaultOptions.
type Options struct {
	CoolingFinancial time.Duration
	CoolingResult    time.Duration
	ContentPrefixLen int
	ContentWindow    time.Duration
	GlobalWindow     time.Duration
	BurstWindow      time.Duration
	BurstMax         int64
}

func DefaultOptions() Options {
	return Options{
		CoolingFinancial: 168 * time.Hour,
		CoolingResult:    3 * time.Hour,
		ContentPrefixLen: 50,
		ContentWindow:    24 * time.Hour,
		GlobalWindow:     6 * time.Hour,
		BurstWindow:      5 * time.Minute,
		BurstMax:         2,
	}
}

// resultIndicators marks headlines that belong to the result-notification
// family for cooling purposes.
var resultIndicators = []string{
	"financial results", "quarter ended", "half year ended", "year ended",
	"quarterly results", "unaudited results", "audited results",
	"board meeting", "profit", "loss", "revenue", "dividend",
}

// financialResultTerms widen the cooling window to a full week.
var financialResultTerms = []string{"financial results", "quarter ended", "half year ended"}

type Engine struct {
	ledger Ledger
	opts   Options
}

func NewEngine(ledger Ledger, opts Options) *Engine {
	if opts.ContentPrefixLen <= 0 {
		opts = DefaultOptions()
	}
	return &Engine{ledger: ledger, opts: opts}
}

// GroupBySignature buckets a batch of announcements by content signature.
func GroupBySignature(anns []models.Announcement) map[string][]models.Announcement {
	groups := make(map[string][]models.Announcement)
	for _, ann := range anns {
		sig := signature.Signature(ann.Headline, ann.ScripCode)
		groups[sig] = append(groups[sig], ann)
	}
	return groups
}

// SelectRepresentative picks the announcement to deliver from a group of
// re-publications of one event: attached document first, then earliest
// timestamp, then longest headline. The group must be non-empty.
func SelectRepresentative(group []models.Announcement) models.Announcement {
	if len(group) == 1 {
		return group[0]
	}
	sorted := make([]models.Announcement, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.PDFName != "") != (b.PDFName != "") {
			return a.PDFName != ""
		}
		if !a.AnnDT.Equal(b.AnnDT) {
			return a.AnnDT.Before(b.AnnDT)
		}
		return len(a.Headline) > len(b.Headline)
	})
	return sorted[0]
}

// Check runs the layered duplicate checks in order, cheapest and most
// specific first. The first positive layer short-circuits with its reason.
// Any ledger failure yields CheckUnavailable: the system prefers an
// occasional duplicate over a silently dropped announcement.
func (e *Engine) Check(userID string, ann models.Announcement) Result {
	now := time.Now()

	// 1. Cooling period for result-related announcements.
	if res, done := e.checkCooling(userID, ann, now); done {
		return res
	}

	// 2. Exact identifier match.
	exists, err := e.ledger.DeliveryExists(userID, ann.NewsID)
	if err != nil {
		return e.unavailable(err, "exact match check")
	}
	if exists {
		return Result{Duplicate, "exact_match"}
	}

	// 3. Fuzzy content match: headline-prefix prefilter, then exact field
	// comparison against each candidate.
	if res, done := e.checkContentMatch(userID, ann, now); done {
		return res
	}

	// 4. Same announcement delivered to any user recently.
	global, err := e.ledger.RecentByNewsID(ann.NewsID, now.Add(-e.opts.GlobalWindow))
	if err != nil {
		return e.unavailable(err, "global check")
	}
	if len(global) > 0 {
		return Result{Duplicate, fmt.Sprintf("sent_to_other_users_%d", len(global))}
	}

	// 5. Burst limiter, independent of content.
	recent, err := e.ledger.CountRecentByUserScrip(userID, ann.ScripCode, now.Add(-e.opts.BurstWindow))
	if err != nil {
		return e.unavailable(err, "burst check")
	}
	if recent > e.opts.BurstMax {
		return Result{Duplicate, "rate_limiting_protection"}
	}

	return Result{NotDuplicate, "no_duplicate_found"}
}

func (e *Engine) checkCooling(userID string, ann models.Announcement, now time.Time) (Result, bool) {
	h := strings.ToLower(ann.Headline)
	if !containsAny(h, resultIndicators) {
		return Result{}, false
	}

	cooling := e.opts.CoolingResult
	coolingType := "result_3_hours"
	if containsAny(h, financialResultTerms) {
		cooling = e.opts.CoolingFinancial
		coolingType = "financial_results_week"
	}

	recent, err := e.ledger.RecentByUserScrip(userID, ann.ScripCode, now.Add(-cooling), "")
	if err != nil {
		return e.unavailable(err, "cooling check"), true
	}
	for _, rec := range recent {
		if containsAny(strings.ToLower(rec.Headline), resultIndicators) {
			return Result{Duplicate, "cooling_period_" + coolingType}, true
		}
	}
	return Result{}, false
}

func (e *Engine) checkContentMatch(userID string, ann models.Announcement, now time.Time) (Result, bool) {
	prefix := strings.TrimSpace(ann.Headline)
	if runes := []rune(prefix); len(runes) > e.opts.ContentPrefixLen {
		prefix = string(runes[:e.opts.ContentPrefixLen])
	}
	if prefix == "" {
		return Result{}, false
	}

	candidates, err := e.ledger.RecentByUserScrip(userID, ann.ScripCode, now.Add(-e.opts.ContentWindow), "%"+prefix+"%")
	if err != nil {
		return e.unavailable(err, "content check"), true
	}
	for _, rec := range candidates {
		if strings.EqualFold(strings.TrimSpace(rec.Headline), strings.TrimSpace(ann.Headline)) &&
			rec.AnnDate == ann.AnnDateString() &&
			strings.EqualFold(rec.Category, ann.Category) {
			return Result{Duplicate, "content_match_" + rec.CreatedAt.Format(time.RFC3339)}, true
		}
	}
	return Result{}, false
}

func (e *Engine) unavailable(err error, layer string) Result {
	log.Warn().Err(err).Str("layer", layer).Msg("duplicate check degraded, failing open")
	return Result{CheckUnavailable, "check_failed"}
}

// RecordDelivery appends the ledger entry for a sent announcement. It reports
// false on storage failure instead of returning an error so callers can count
// it as a soft error and keep processing.
func (e *Engine) RecordDelivery(userID string, ann models.Announcement) bool {
	rec := &models.DeliveryRecord{
		UserID:    userID,
		NewsID:    ann.NewsID,
		ScripCode: ann.ScripCode,
		Headline:  ann.Headline,
		PDFName:   ann.PDFName,
		AnnDate:   ann.AnnDateString(),
		Caption:   fmt.Sprintf("Company: %s, Category: %s", ann.CompanyName, ann.Category),
		Category:  ann.Category,
	}
	if err := e.ledger.InsertDelivery(rec); err != nil {
		log.Warn().Err(err).Str("news_id", ann.NewsID).Msg("failed to record delivery")
		return false
	}
	return true
}

func containsAny(h string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(h, t) {
			return true
		}
	}
	return false
}
