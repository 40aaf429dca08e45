package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"niftyscan/internal/analyzer"
	"niftyscan/internal/api"
	"niftyscan/internal/config"
	"niftyscan/internal/httpapi"
	"niftyscan/internal/store"
	"niftyscan/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to config file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFile, logPath, err := util.OpenDailyLog("nifty-server")
	if err != nil {
		log.Fatal(err)
	}
	defer logFile.Close()

	logger := util.NewWriterLogger(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var source analyzer.BarSource
	switch cfg.Analysis.BarSource {
	case config.BarSourceAlpaca:
		source = analyzer.NewAlpacaSource(analyzer.AlpacaOptions{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			Feed:      cfg.Alpaca.Feed,
		}, logger)
	default:
		source = analyzer.NewStoreSource(store.NewParquetStore(cfg.Storage.DataDir), cfg.Analysis.Market)
	}

	handler := httpapi.NewServer(analyzer.New(source), httpapi.Options{
		Market:       cfg.Analysis.Market,
		Universe:     cfg.Analysis.Universe,
		DefaultStart: cfg.Analysis.DefaultStart,
		PacePerMin:   cfg.Analysis.PacePerMin,
	}, httpapi.NewMetrics(), logger)

	srv := api.NewServer(cfg.Server.Addr(), cfg.Server.GRPCAddr(), handler.Handler(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting nifty-server",
		"http", cfg.Server.Addr(),
		"grpc", cfg.Server.GRPCAddr(),
		"market", cfg.Analysis.Market,
		"tickers", len(cfg.Analysis.Universe),
		"source", cfg.Analysis.BarSource,
		"logFile", logPath,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("nifty-server stopped")
}
