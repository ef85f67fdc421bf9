package monitor_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsewatch/bsewatch/internal/config"
	"github.com/bsewatch/bsewatch/internal/dedup"
	"github.com/bsewatch/bsewatch/internal/models"
	"github.com/bsewatch/bsewatch/internal/monitor"
	"github.com/bsewatch/bsewatch/internal/store"
	"github.com/bsewatch/bsewatch/internal/threshold"
)

type fakeExchange struct {
	anns        map[string][]models.Announcement
	quotes      map[string]*models.Quote
	fetchErr    error
	fetchedFor  []string
	quotedFor   []string
}

func (f *fakeExchange) FetchAnnouncements(_ context.Context, scripCode string, _ time.Time) ([]models.Announcement, error) {
	f.fetchedFor = append(f.fetchedFor, scripCode)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.anns[scripCode], nil
}

func (f *fakeExchange) FetchQuote(_ context.Context, scripCode string) (*models.Quote, error) {
	f.quotedFor = append(f.quotedFor, scripCode)
	quote, ok := f.quotes[scripCode]
	if !ok {
		return nil, errors.New("no quote")
	}
	return quote, nil
}

func (f *fakeExchange) AttachmentURL(pdfName string) string {
	return "https://pdf.example/" + pdfName
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeSender struct {
	messages []sentMessage
	docs     []sentMessage
	sendErr  error
}

func (f *fakeSender) SendMessage(chatID int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeSender) SendDocument(chatID int64, documentURL, caption string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.docs = append(f.docs, sentMessage{ChatID: chatID, Text: documentURL})
	return nil
}

type fixture struct {
	mon      *monitor.Monitor
	store    *store.Store
	exchange *fakeExchange
	sender   *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	st := store.New(db)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		CronKey:       "secret",
		HoursBack:     1,
		RetentionDays: 30,
		ServerPort:    "8080",
	}
	exchange := &fakeExchange{
		anns:   make(map[string][]models.Announcement),
		quotes: make(map[string]*models.Quote),
	}
	sender := &fakeSender{}
	engine := dedup.NewEngine(st, dedup.DefaultOptions())
	tracker := threshold.NewTracker(st)

	return &fixture{
		mon:      monitor.New(cfg, st, engine, tracker, exchange, sender, nil, nil),
		store:    st,
		exchange: exchange,
		sender:   sender,
	}
}

func (f *fixture) seedUser(t *testing.T, userID, scripCode, company string, chatID int64) {
	t.Helper()
	require.NoError(t, f.store.InsertScrip(&models.MonitoredScrip{
		UserID: userID, BSECode: scripCode, CompanyName: company,
	}))
	require.NoError(t, f.store.InsertRecipient(&models.Recipient{
		UserID: userID, ChatID: chatID, UserName: "Desk " + userID,
	}))
}

func announcement(newsID, scrip, headline string) models.Announcement {
	return models.Announcement{
		NewsID:    newsID,
		ScripCode: scrip,
		Headline:  headline,
		Category:  "Company Update",
		AnnDT:     time.Now().Add(-30 * time.Minute),
	}
}

func TestRunOnceSendsAndRecords(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.anns["500325"] = []models.Announcement{
		announcement("n1", "500325", "Allotment of equity shares under ESOP"),
	}

	summary, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Equal(t, 1, summary.Stats.UsersProcessed)
	assert.Equal(t, 1, summary.Stats.AnnouncementsFound)
	assert.Equal(t, 1, summary.Stats.NotificationsSent)
	assert.Equal(t, 0, summary.Stats.DuplicatesPrevented)
	require.Len(t, f.sender.messages, 1)
	assert.Equal(t, int64(100), f.sender.messages[0].ChatID)
	assert.Contains(t, f.sender.messages[0].Text, "Reliance Industries")
	assert.Contains(t, f.sender.messages[0].Text, "Allotment of equity shares under ESOP")

	exists, err := f.store.DeliveryExists("user-1", "n1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Same pass again: the recorded delivery suppresses a resend.
	summary, err = f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Stats.NotificationsSent)
	assert.Equal(t, 1, summary.Stats.DuplicatesPrevented)
	assert.Len(t, f.sender.messages, 1)
}

func TestRunOnceCollapsesRepublications(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.anns["500325"] = []models.Announcement{
		announcement("n1", "500325", "Board Meeting on 15th March 2025 to consider fund raising"),
		announcement("n2", "500325", "Board Meeting intimation - 15-03-2025"),
		announcement("n3", "500325", "Q4 Results for quarter ended 31 December 2024"),
	}

	summary, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)

	// Two signature groups survive grouping. Whichever representative is
	// delivered first starts a cooling window that suppresses the other
	// result-related one within the same pass.
	assert.Equal(t, 2, summary.Stats.AnnouncementsFound)
	assert.Equal(t, 1, summary.Stats.NotificationsSent)
	assert.Equal(t, 1, summary.Stats.DuplicatesPrevented)
	assert.Len(t, f.sender.messages, 1)
}

func TestRunOnceSendsAttachment(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	ann := announcement("n1", "500325", "Investor presentation")
	ann.PDFName = "presentation.pdf"
	f.exchange.anns["500325"] = []models.Announcement{ann}

	_, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	require.Len(t, f.sender.docs, 1)
	assert.Equal(t, "https://pdf.example/presentation.pdf", f.sender.docs[0].Text)
}

func TestRunOnceForceScrip(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	require.NoError(t, f.store.InsertScrip(&models.MonitoredScrip{
		UserID: "user-1", BSECode: "532540", CompanyName: "TCS",
	}))
	f.exchange.anns["500325"] = []models.Announcement{
		announcement("n1", "500325", "Allotment of equity shares"),
	}
	f.exchange.anns["532540"] = []models.Announcement{
		announcement("n2", "532540", "Intimation of analyst meet"),
	}

	summary, err := f.mon.RunOnce(context.Background(), 0, "532540")
	require.NoError(t, err)
	assert.Equal(t, []string{"532540"}, f.exchange.fetchedFor)
	assert.Equal(t, 1, summary.Stats.AnnouncementsFound)
}

func TestRunOnceFetchFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.fetchErr = errors.New("exchange down")

	summary, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Equal(t, 1, summary.Stats.UsersProcessed)
	assert.Equal(t, 0, summary.Stats.AnnouncementsFound)
	assert.Empty(t, summary.Errors)
}

func TestRunOnceNoRecipients(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertScrip(&models.MonitoredScrip{
		UserID: "user-1", BSECode: "500325", CompanyName: "Reliance Industries",
	}))
	f.exchange.anns["500325"] = []models.Announcement{
		announcement("n1", "500325", "Allotment of equity shares"),
	}

	summary, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Stats.NotificationsSent)
	assert.Empty(t, f.sender.messages)

	// Nothing was delivered, so nothing may be recorded either.
	exists, err := f.store.DeliveryExists("user-1", "n1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunOnceMultipleRecipients(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	require.NoError(t, f.store.InsertRecipient(&models.Recipient{
		UserID: "user-1", ChatID: 200, UserName: "Desk B",
	}))
	f.exchange.anns["500325"] = []models.Announcement{
		announcement("n1", "500325", "Allotment of equity shares"),
	}

	summary, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stats.NotificationsSent)
	assert.Len(t, f.sender.messages, 2)
}

func TestRunPricePass(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.quotes["500325"] = &models.Quote{ScripCode: "500325", LastPrice: 2950.40, ChangePct: 12.3}

	summary, err := f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlertsSent)
	assert.Equal(t, 0, summary.Suppressed)
	require.Len(t, f.sender.messages, 1)
	assert.Contains(t, f.sender.messages[0].Text, "Price Alert")
	assert.Contains(t, f.sender.messages[0].Text, "10%")

	// Same crossing again today is suppressed.
	summary, err = f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AlertsSent)
	assert.Equal(t, 1, summary.Suppressed)
	assert.Len(t, f.sender.messages, 1)
}

func TestRunPricePassBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.quotes["500325"] = &models.Quote{ScripCode: "500325", LastPrice: 2950.40, ChangePct: 2.1}

	summary, err := f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AlertsSent)
	assert.Equal(t, 1, summary.BelowThreshold)
	assert.Empty(t, f.sender.messages)
}

func TestRunPricePassSendFailureDoesNotRecord(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.quotes["500325"] = &models.Quote{ScripCode: "500325", LastPrice: 2950.40, ChangePct: 12.3}
	f.sender.sendErr = errors.New("telegram down")

	summary, err := f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AlertsSent)

	// Delivery never happened, so the next pass retries.
	f.sender.sendErr = nil
	summary, err = f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlertsSent)
	require.Len(t, f.sender.messages, 1)
}

func TestRunPricePassQuoteFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)

	summary, err := f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UsersProcessed)
	assert.Equal(t, 0, summary.AlertsSent)
	assert.Empty(t, summary.Errors)
}

func TestRunPricePassPerUserThrottling(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.seedUser(t, "user-2", "500325", "Reliance Industries", 200)
	f.exchange.quotes["500325"] = &models.Quote{ScripCode: "500325", LastPrice: 2950.40, ChangePct: 12.3}

	summary, err := f.mon.RunPricePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.AlertsSent)

	require.Len(t, f.sender.messages, 2)
	chatIDs := []int64{f.sender.messages[0].ChatID, f.sender.messages[1].ChatID}
	assert.ElementsMatch(t, []int64{100, 200}, chatIDs)
}

func TestRunOnceBackfillsCompanyAndScrip(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	bare := models.Announcement{
		NewsID:   "n1",
		Headline: "Allotment of equity shares",
		Category: "Company Update",
		AnnDT:    time.Now().Add(-10 * time.Minute),
	}
	f.exchange.anns["500325"] = []models.Announcement{bare}

	_, err := f.mon.RunOnce(context.Background(), 0, "")
	require.NoError(t, err)
	require.Len(t, f.sender.messages, 1)
	assert.Contains(t, f.sender.messages[0].Text, "Reliance Industries")
	assert.Contains(t, f.sender.messages[0].Text, fmt.Sprintf("(%s)", "500325"))
}
