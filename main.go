package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/bsewatch/bsewatch/internal/ai"
	"github.com/bsewatch/bsewatch/internal/bse"
	"github.com/bsewatch/bsewatch/internal/config"
	"github.com/bsewatch/bsewatch/internal/dedup"
	"github.com/bsewatch/bsewatch/internal/monitor"
	"github.com/bsewatch/bsewatch/internal/pdfextract"
	"github.com/bsewatch/bsewatch/internal/store"
	"github.com/bsewatch/bsewatch/internal/telegram"
	"github.com/bsewatch/bsewatch/internal/threshold"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	log.DefaultLogger = log.Logger{
		Level:      log.InfoLevel,
		TimeFormat: time.RFC3339,
		Writer:     &log.ConsoleWriter{},
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.OpenDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}
	st := store.New(db)
	defer st.Close()

	engine := dedup.NewEngine(st, dedup.Options{
		CoolingFinancial: time.Duration(cfg.Dedup.CoolingFinancialHours) * time.Hour,
		CoolingResult:    time.Duration(cfg.Dedup.CoolingResultHours) * time.Hour,
		ContentPrefixLen: cfg.Dedup.ContentPrefixLen,
		ContentWindow:    time.Duration(cfg.Dedup.ContentWindowHours) * time.Hour,
		GlobalWindow:     time.Duration(cfg.Dedup.GlobalWindowHours) * time.Hour,
		BurstWindow:      time.Duration(cfg.Dedup.BurstWindowMinutes) * time.Minute,
		BurstMax:         int64(cfg.Dedup.BurstMax),
	})
	tracker := threshold.NewTracker(st)

	bot, err := telegram.NewBot(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}

	exchange := bse.NewClient(cfg.BSEBaseURL, cfg.PDFBaseURL, cfg.RequestTimeout)
	docs := pdfextract.NewFetcher(cfg.RequestTimeout)

	var analyzer monitor.DocumentAnalyzer
	if cfg.OpenAIAPIKey != "" {
		analyzer = ai.NewOpenAIClient(cfg.OpenAIAPIKey)
	}

	mon := monitor.New(cfg, st, engine, tracker, exchange, bot, docs, analyzer)

	log.Info().Msg("starting BSE announcement monitor")
	if err := mon.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("monitor stopped with error")
	}
	log.Info().Msg("BSE announcement monitor stopped gracefully")
}
