// Package monitor runs the announcement and price-alert passes: fetch, group,
// deduplicate, deliver, record. One user's failure never aborts the run.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/bsewatch/bsewatch/internal/ai"
	"github.com/bsewatch/bsewatch/internal/config"
	"github.com/bsewatch/bsewatch/internal/dedup"
	"github.com/bsewatch/bsewatch/internal/models"
	"github.com/bsewatch/bsewatch/internal/store"
	"github.com/bsewatch/bsewatch/internal/telegram"
	"github.com/bsewatch/bsewatch/internal/threshold"
)

// Exchange is the announcement/quote source collaborator.
type Exchange interface {
	FetchAnnouncements(ctx context.Context, scripCode string, since time.Time) ([]models.Announcement, error)
	FetchQuote(ctx context.Context, scripCode string) (*models.Quote, error)
	AttachmentURL(pdfName string) string
}

// DocumentFetcher retrieves attachment bytes and extracts their text.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Text(pdfBytes []byte) (string, error)
}

// DocumentAnalyzer produces a structured summary for a document's text.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, text, scripCode, headline string) (*ai.Analysis, error)
}

type Monitor struct {
	cfg      *config.Config
	store    *store.Store
	engine   *dedup.Engine
	tracker  *threshold.Tracker
	exchange Exchange
	sender   telegram.Sender
	docs     DocumentFetcher
	analyzer DocumentAnalyzer
}

func New(cfg *config.Config, st *store.Store, engine *dedup.Engine, tracker *threshold.Tracker,
	exchange Exchange, sender telegram.Sender, docs DocumentFetcher, analyzer DocumentAnalyzer) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		tracker:  tracker,
		exchange: exchange,
		sender:   sender,
		docs:     docs,
		analyzer: analyzer,
	}
}

type RunTotals struct {
	UsersProcessed      int `json:"users_processed"`
	AnnouncementsFound  int `json:"total_announcements_found"`
	NotificationsSent   int `json:"notifications_sent"`
	DuplicatesPrevented int `json:"duplicates_prevented"`
	DegradedChecks      int `json:"degraded_checks"`
	DatabaseErrors      int `json:"database_errors"`
}

type UserDetail struct {
	UserID              string `json:"user_id"`
	AnnouncementsFound  int    `json:"announcements_found"`
	DuplicatesPrevented int    `json:"duplicates_prevented"`
	NotificationsSent   int    `json:"notifications_sent"`
}

type RunSummary struct {
	OK                bool                `json:"ok"`
	RunID             string              `json:"run_id"`
	Message           string              `json:"message"`
	Stats             RunTotals           `json:"stats"`
	ProcessingDetails []UserDetail        `json:"processing_details"`
	DatabaseStats     store.DeliveryStats `json:"database_stats"`
	RuntimeMS         int64               `json:"runtime_ms"`
	Timestamp         time.Time           `json:"timestamp"`
	Errors            []string            `json:"errors"`
}

// RunOnce executes one announcement monitoring pass. It returns an error only
// when storage is unreachable at the top level; per-user failures are
// accumulated in the summary instead.
func (m *Monitor) RunOnce(ctx context.Context, hoursBack int, forceScrip string) (*RunSummary, error) {
	start := time.Now()
	if hoursBack <= 0 {
		hoursBack = m.cfg.HoursBack
	}

	summary := &RunSummary{
		OK:                true,
		RunID:             uuid.NewString(),
		Message:           "announcement processing completed",
		ProcessingDetails: []UserDetail{},
		Errors:            []string{},
		Timestamp:         time.Now(),
	}

	userIDs, err := m.store.UserIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	since := time.Now().Add(-time.Duration(hoursBack) * time.Hour)
	for _, uid := range userIDs {
		detail, err := m.processUser(ctx, uid, since, forceScrip, summary)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("user %s: %v", uid, err))
			log.Error().Err(err).Str("user", uid).Msg("user processing failed")
			continue
		}
		if detail != nil {
			summary.ProcessingDetails = append(summary.ProcessingDetails, *detail)
		}
		summary.Stats.UsersProcessed++
	}

	if stats, err := m.store.Stats(); err == nil {
		summary.DatabaseStats = stats
	}
	summary.RuntimeMS = time.Since(start).Milliseconds()

	log.Info().Str("run_id", summary.RunID).
		Int("users", summary.Stats.UsersProcessed).
		Int("found", summary.Stats.AnnouncementsFound).
		Int("sent", summary.Stats.NotificationsSent).
		Int("duplicates", summary.Stats.DuplicatesPrevented).
		Int64("runtime_ms", summary.RuntimeMS).
		Msg("announcement pass completed")
	return summary, nil
}

func (m *Monitor) processUser(ctx context.Context, uid string, since time.Time, forceScrip string, summary *RunSummary) (detail *UserDetail, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	scrips, err := m.store.ScripsForUser(uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load scrips: %w", err)
	}
	if len(scrips) == 0 {
		return nil, nil
	}

	var announcements []models.Announcement
	for _, scrip := range scrips {
		if forceScrip != "" && scrip.BSECode != forceScrip {
			continue
		}
		anns, err := m.exchange.FetchAnnouncements(ctx, scrip.BSECode, since)
		if err != nil {
			log.Warn().Err(err).Str("scrip", scrip.BSECode).Msg("failed to fetch announcements")
			continue
		}
		for i := range anns {
			if anns[i].CompanyName == "" {
				anns[i].CompanyName = scrip.CompanyName
			}
			if anns[i].ScripCode == "" {
				anns[i].ScripCode = scrip.BSECode
			}
		}
		announcements = append(announcements, anns...)
	}
	if len(announcements) == 0 {
		return nil, nil
	}

	// Collapse re-publications of the same event to one representative.
	groups := dedup.GroupBySignature(announcements)
	representatives := make([]models.Announcement, 0, len(groups))
	for sig, group := range groups {
		rep := dedup.SelectRepresentative(group)
		representatives = append(representatives, rep)
		if len(group) > 1 {
			log.Debug().Str("signature", sig).Int("collapsed", len(group)).
				Str("selected", rep.NewsID).Msg("grouped announcements")
		}
	}
	summary.Stats.AnnouncementsFound += len(representatives)

	recipients, err := m.store.RecipientsForUser(uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	detail = &UserDetail{UserID: uid, AnnouncementsFound: len(representatives)}
	for _, ann := range representatives {
		res := m.engine.Check(uid, ann)
		switch res.Verdict {
		case dedup.Duplicate:
			detail.DuplicatesPrevented++
			summary.Stats.DuplicatesPrevented++
			log.Debug().Str("news_id", ann.NewsID).Str("reason", res.Reason).Msg("duplicate prevented")
			continue
		case dedup.CheckUnavailable:
			summary.Stats.DegradedChecks++
			log.Warn().Str("news_id", ann.NewsID).Msg("duplicate check unavailable, sending anyway")
		}

		sent := m.deliver(ctx, ann, recipients)
		detail.NotificationsSent += sent
		summary.Stats.NotificationsSent += sent

		if !m.engine.RecordDelivery(uid, ann) {
			summary.Stats.DatabaseErrors++
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("failed to mark %s as sent for user %s", ann.NewsID, uid))
		}
	}
	return detail, nil
}

// deliver sends the text notification, the attachment, and the AI analysis
// when gated in. Each sub-step fails soft per recipient.
func (m *Monitor) deliver(ctx context.Context, ann models.Announcement, recipients []models.Recipient) int {
	text := formatAnnouncement(ann)
	sent := 0
	for _, r := range recipients {
		personalized := fmt.Sprintf("👤 %s\n%s\n%s", r.UserName, "────────────────────", text)
		if err := m.sender.SendMessage(r.ChatID, personalized); err != nil {
			log.Error().Err(err).Int64("chat_id", r.ChatID).Str("news_id", ann.NewsID).
				Msg("failed to send text notification")
			continue
		}
		sent++
	}

	if ann.PDFName == "" {
		return sent
	}

	docURL := m.exchange.AttachmentURL(ann.PDFName)
	caption := fmt.Sprintf("Company: %s\nAnnouncement: %s\nDate: %s IST\nCategory: %s",
		ann.CompanyName, ann.Headline, ann.AnnDT.Format("02-01-2006 15:04"), ann.Category)
	for _, r := range recipients {
		if err := m.sender.SendDocument(r.ChatID, docURL, caption); err != nil {
			log.Error().Err(err).Int64("chat_id", r.ChatID).Str("pdf", ann.PDFName).
				Msg("failed to send document")
		}
	}

	if m.cfg.EnableAIAnalysis && m.analyzer != nil && ai.ShouldAnalyze(ann.Headline, ann.Category) {
		m.sendAnalysis(ctx, ann, docURL, recipients)
	}
	return sent
}

func (m *Monitor) sendAnalysis(ctx context.Context, ann models.Announcement, docURL string, recipients []models.Recipient) {
	pdfBytes, err := m.docs.Fetch(ctx, docURL)
	if err != nil {
		log.Warn().Err(err).Str("pdf", ann.PDFName).Msg("failed to fetch attachment for analysis")
		return
	}
	text, err := m.docs.Text(pdfBytes)
	if err != nil {
		log.Warn().Err(err).Str("pdf", ann.PDFName).Msg("failed to extract attachment text")
		return
	}
	analysis, err := m.analyzer.AnalyzeDocument(ctx, text, ann.ScripCode, ann.Headline)
	if err != nil {
		log.Warn().Err(err).Str("pdf", ann.PDFName).Msg("document analysis failed")
		return
	}

	message := ai.FormatMessage(analysis, ann.ScripCode, ann.Headline, ann.AnnDT,
		ai.IsQuarterly(ann.Headline, ann.Category))
	for _, r := range recipients {
		if err := m.sender.SendMessage(r.ChatID, message); err != nil {
			log.Error().Err(err).Int64("chat_id", r.ChatID).Msg("failed to send analysis")
		}
	}
}

func formatAnnouncement(ann models.Announcement) string {
	text := fmt.Sprintf("📰 BSE Announcement\n🏢 %s (%s)\n📅 %s IST\n📋 %s\n📁 Category: %s",
		ann.CompanyName, ann.ScripCode, ann.AnnDT.Format("02-01-2006 15:04"), ann.Headline, ann.Category)
	if ann.PDFName != "" {
		text += "\n📄 PDF Available: " + ann.PDFName
	}
	return text
}

type PriceSummary struct {
	OK             bool      `json:"ok"`
	RunID          string    `json:"run_id"`
	UsersProcessed int       `json:"users_processed"`
	AlertsSent     int       `json:"alerts_sent"`
	Suppressed     int       `json:"suppressed"`
	BelowThreshold int       `json:"below_threshold"`
	Timestamp      time.Time `json:"timestamp"`
	Errors         []string  `json:"errors"`
}

// RunPricePass evaluates every monitored scrip's percent change against the
// threshold ladder and sends at most one alert per crossing per direction per
// day. It is independent of the announcement pipeline.
func (m *Monitor) RunPricePass(ctx context.Context) (*PriceSummary, error) {
	summary := &PriceSummary{
		OK:        true,
		RunID:     uuid.NewString(),
		Timestamp: time.Now(),
		Errors:    []string{},
	}

	userIDs, err := m.store.UserIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	for _, uid := range userIDs {
		scrips, err := m.store.ScripsForUser(uid)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("user %s: %v", uid, err))
			continue
		}
		recipients, err := m.store.RecipientsForUser(uid)
		if err != nil || len(recipients) == 0 {
			continue
		}

		for _, scrip := range scrips {
			quote, err := m.exchange.FetchQuote(ctx, scrip.BSECode)
			if err != nil {
				log.Warn().Err(err).Str("scrip", scrip.BSECode).Msg("failed to fetch quote")
				continue
			}

			send, crossed, alertType := m.tracker.ShouldAlert(uid, scrip.BSECode, quote.ChangePct)
			if !send {
				if crossed == 0 {
					summary.BelowThreshold++
				} else {
					summary.Suppressed++
				}
				continue
			}

			message := formatPriceAlert(scrip, quote, crossed)
			delivered := 0
			for _, r := range recipients {
				if err := m.sender.SendMessage(r.ChatID, message); err != nil {
					log.Error().Err(err).Int64("chat_id", r.ChatID).Str("scrip", scrip.BSECode).
						Msg("failed to send price alert")
					continue
				}
				delivered++
			}
			if delivered > 0 {
				m.tracker.RecordAlert(uid, scrip.BSECode, quote.ChangePct, crossed)
				summary.AlertsSent++
				log.Info().Str("scrip", scrip.BSECode).Str("alert_type", alertType).
					Float64("change_pct", quote.ChangePct).Msg("price alert sent")
			}
		}
		summary.UsersProcessed++
	}
	return summary, nil
}

func formatPriceAlert(scrip models.MonitoredScrip, quote *models.Quote, crossed float64) string {
	arrow := "📉"
	if quote.ChangePct > 0 {
		arrow = "📈"
	}
	return fmt.Sprintf("%s Price Alert\n🏢 %s (%s)\n💰 ₹%.2f (%+.2f%%)\n🎯 Crossed %.0f%% threshold",
		arrow, scrip.CompanyName, scrip.BSECode, quote.LastPrice, quote.ChangePct, crossed)
}
