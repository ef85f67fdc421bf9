package monitor_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsewatch/bsewatch/internal/models"
	"github.com/bsewatch/bsewatch/internal/monitor"
)

func doRequest(t *testing.T, handler http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := doRequest(t, f.mon.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertDelivery(&models.DeliveryRecord{
		UserID: "user-1", NewsID: "n1", ScripCode: "500325", Headline: "Headline",
	}))

	rec, body := doRequest(t, f.mon.Handler(), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	dbStats, ok := body["database_stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), dbStats["total_announcements_sent"])
}

func TestAlertStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := doRequest(t, f.mon.Handler(), http.MethodGet, "/debug/alert_stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Contains(t, body, "stats")
}

func TestAnnouncementsEndpointAuth(t *testing.T) {
	f := newFixture(t)

	rec, body := doRequest(t, f.mon.Handler(), http.MethodGet, "/cron/announcements")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Unauthorized", body["error"])

	rec, _ = doRequest(t, f.mon.Handler(), http.MethodGet, "/cron/announcements?key=wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnnouncementsEndpointRuns(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.anns["500325"] = []models.Announcement{
		announcement("n1", "500325", "Allotment of equity shares"),
	}

	req := httptest.NewRequest(http.MethodGet, "/cron/announcements?key=secret&hours_back=4", nil)
	rec := httptest.NewRecorder()
	f.mon.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var summary monitor.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.OK)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Stats.NotificationsSent)
}

func TestPriceAlertsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "500325", "Reliance Industries", 100)
	f.exchange.quotes["500325"] = &models.Quote{ScripCode: "500325", LastPrice: 2950.40, ChangePct: 12.3}

	rec, _ := doRequest(t, f.mon.Handler(), http.MethodGet, "/cron/price_alerts")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/cron/price_alerts?key=secret", nil)
	rr := httptest.NewRecorder()
	f.mon.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var summary monitor.PriceSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.AlertsSent)
}

func TestCleanupEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertDelivery(&models.DeliveryRecord{
		UserID: "user-1", NewsID: "old", ScripCode: "500325", Headline: "Old",
		CreatedAt: time.Now().AddDate(0, 0, -40),
	}))
	require.NoError(t, f.store.InsertDelivery(&models.DeliveryRecord{
		UserID: "user-1", NewsID: "fresh", ScripCode: "500325", Headline: "Fresh",
	}))

	rec, _ := doRequest(t, f.mon.Handler(), http.MethodGet, "/admin/cleanup?key=secret")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = doRequest(t, f.mon.Handler(), http.MethodPost, "/admin/cleanup")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := doRequest(t, f.mon.Handler(), http.MethodPost, "/admin/cleanup?key=secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["deleted"])
	assert.Equal(t, float64(30), body["days_kept"])

	exists, err := f.store.DeliveryExists("user-1", "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCleanupEndpointCustomDays(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertDelivery(&models.DeliveryRecord{
		UserID: "user-1", NewsID: "n1", ScripCode: "500325", Headline: "Week old",
		CreatedAt: time.Now().AddDate(0, 0, -7),
	}))

	rec, body := doRequest(t, f.mon.Handler(), http.MethodPost, "/admin/cleanup?key=secret&days=3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["deleted"])
	assert.Equal(t, float64(3), body["days_kept"])
}
