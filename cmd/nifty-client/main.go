package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"niftyscan/internal/analysis"
	"niftyscan/internal/config"
	"niftyscan/internal/refresh"
	"niftyscan/internal/store"
	"niftyscan/internal/util"
	"niftyscan/pkg/niftyscan"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to config file")
	start := flag.String("start", "", "analysis start date (YYYY-MM-DD); defaults to client.start_date")
	auto := flag.Bool("auto", false, "enable auto-refresh on startup")
	interval := flag.Duration("interval", 0, "auto-refresh interval; defaults to client.refresh_interval")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	cc := cfg.Client
	if *start != "" {
		if _, err := time.Parse("2006-01-02", *start); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -start %q: %v\n", *start, err)
			os.Exit(1)
		}
		cc.StartDate = *start
	}
	if cc.StartDate == "" {
		cc.StartDate = cfg.Analysis.DefaultStart
	}
	if *interval > 0 {
		cc.RefreshInterval = *interval
	}

	// The TUI owns the terminal, so logs only go to the file.
	logFile, logPath, err := util.OpenDailyLog("nifty-client")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewWriterLogger(logFile, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	history, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run history: %v\n", err)
		os.Exit(1)
	}
	defer history.Close()

	client := niftyscan.NewClient(cc.ServerURL)

	if cc.GRPCAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		status, err := niftyscan.CheckHealth(ctx, cc.GRPCAddr)
		cancel()
		switch {
		case err != nil:
			logger.Warn("health check failed", "addr", cc.GRPCAddr, "error", err)
		case status != healthpb.HealthCheckResponse_SERVING:
			logger.Warn("server not serving", "addr", cc.GRPCAddr, "status", status.String())
		default:
			logger.Info("server healthy", "addr", cc.GRPCAddr)
		}
	}

	bridge := &programBridge{}
	pipeline := analysis.NewPipeline(client, analysis.Options{
		IdleTimeout:  cc.IdleTimeout,
		MaxLineBytes: cc.MaxLineBytes,
	}, logger)
	req := analysis.Request{StartDate: cc.StartDate, ShowProgress: cc.ShowProgress}
	runner := analysis.NewRunner(pipeline, history, bridge, func() analysis.Request { return req }, logger)

	orch := refresh.New(runner.Run, bridge, refresh.Options{Logger: logger})
	defer orch.Close()
	if err := orch.SetInterval(cc.RefreshInterval); err != nil {
		fmt.Fprintf(os.Stderr, "refresh interval: %v\n", err)
		os.Exit(1)
	}

	m := initialModel(orch, history, cc.ServerURL, cc.StartDate, cc.HistoryLimit, logger)
	m.autoStart = cc.AutoRefresh || *auto

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	bridge.p = p

	logger.Info("starting nifty-client", "server", cc.ServerURL, "start", cc.StartDate,
		"interval", cc.RefreshInterval, "logFile", logPath)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
