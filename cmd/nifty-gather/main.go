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

	"niftyscan/internal/config"
	"niftyscan/internal/domain"
	"niftyscan/internal/gather"
	"niftyscan/internal/store"
	"niftyscan/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to config file")
	importPath := flag.String("import", "", "import daily bars from a CSV file instead of fetching from Alpaca")
	symbol := flag.String("symbol", "", "symbol the imported CSV belongs to (e.g. TCS.NS)")
	market := flag.String("market", "", "market to write to; defaults to analysis.market")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFile, logPath, err := util.OpenDailyLog("nifty-gather")
	if err != nil {
		log.Fatal(err)
	}
	defer logFile.Close()

	logger := util.NewWriterLogger(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	mkt := cfg.Analysis.Market
	if *market != "" {
		mkt = domain.Market(*market)
	}
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *importPath != "" {
		if *symbol == "" {
			log.Fatal("-symbol is required with -import")
		}
		f, err := os.Open(*importPath)
		if err != nil {
			log.Fatalf("opening %s: %v", *importPath, err)
		}
		defer f.Close()

		n, err := gather.ImportCSV(ctx, f, *symbol, mkt, pstore)
		if err != nil {
			log.Fatalf("importing %s: %v", *importPath, err)
		}
		slog.Info("import complete", "file", *importPath, "symbol", *symbol, "market", mkt, "bars", n)
		return
	}

	var g gather.Gatherer = gather.NewDailyBarGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		pstore,
		gather.DailyOptions{
			Market:          mkt,
			Universe:        cfg.Analysis.Universe,
			StartDate:       cfg.Gather.StartDate,
			BatchSize:       cfg.Gather.BatchSize,
			MaxWorkers:      cfg.Gather.MaxWorkers,
			RateLimitPerMin: cfg.Gather.RateLimitPerMin,
			Feed:            cfg.Alpaca.Feed,
		},
		logger,
	)

	slog.Info("starting nifty-gather", "gatherer", g.Name(), "market", mkt,
		"symbols", len(cfg.Analysis.Universe), "logFile", logPath)
	if err := g.Run(ctx); err != nil {
		slog.Error("gather failed", "error", err)
		os.Exit(1)
	}
}
