package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// Run starts the HTTP surface and the optional cron schedule, then blocks
// until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + m.cfg.ServerPort,
		Handler: m.Handler(),
	}

	var scheduler *cron.Cron
	if m.cfg.MonitorSchedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(m.cfg.MonitorSchedule, func() {
			if _, err := m.RunOnce(context.Background(), 0, ""); err != nil {
				log.Error().Err(err).Msg("scheduled announcement pass failed")
			}
			if _, err := m.RunPricePass(context.Background()); err != nil {
				log.Error().Err(err).Msg("scheduled price pass failed")
			}
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		log.Info().Str("schedule", m.cfg.MonitorSchedule).Msg("monitor schedule started")
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	log.Info().Str("port", m.cfg.ServerPort).Msg("HTTP server started")

	<-ctx.Done()

	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.healthHandler)
	mux.HandleFunc("/stats", m.statsHandler)
	mux.HandleFunc("/debug/alert_stats", m.alertStatsHandler)
	mux.HandleFunc("/cron/announcements", m.announcementsHandler)
	mux.HandleFunc("/cron/price_alerts", m.priceAlertsHandler)
	mux.HandleFunc("/admin/cleanup", m.cleanupHandler)
	return mux
}

func (m *Monitor) authorized(r *http.Request) bool {
	return r.URL.Query().Get("key") == m.cfg.CronKey
}

func (m *Monitor) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := m.store.Stats()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"database_stats": stats,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) alertStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"stats": m.tracker.Stats(),
	})
}

func (m *Monitor) announcementsHandler(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "Unauthorized"})
		return
	}

	hoursBack := 0
	if v := r.URL.Query().Get("hours_back"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			hoursBack = n
		}
	}
	forceScrip := r.URL.Query().Get("force_scrip")

	summary, err := m.RunOnce(r.Context(), hoursBack, forceScrip)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (m *Monitor) priceAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "Unauthorized"})
		return
	}

	summary, err := m.RunPricePass(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (m *Monitor) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}
	if !m.authorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "Unauthorized"})
		return
	}

	days := m.cfg.RetentionDays
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := m.store.DeleteDeliveriesOlderThan(cutoff)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	log.Info().Int64("deleted", deleted).Int("days_kept", days).Msg("retention cleanup completed")
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"deleted":   deleted,
		"days_kept": days,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
