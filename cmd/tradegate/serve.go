package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moltlabs/tradegate/internal/admission"
	"github.com/moltlabs/tradegate/internal/approval"
	"github.com/moltlabs/tradegate/internal/broker"
	"github.com/moltlabs/tradegate/internal/calendar"
	"github.com/moltlabs/tradegate/internal/config"
	"github.com/moltlabs/tradegate/internal/executor"
	"github.com/moltlabs/tradegate/internal/httpapi"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/notify"
	"github.com/moltlabs/tradegate/internal/observ"
	"github.com/moltlabs/tradegate/internal/portfolio"
	"github.com/moltlabs/tradegate/internal/regime"
	"github.com/moltlabs/tradegate/internal/risk"
	"github.com/moltlabs/tradegate/internal/sector"
	tgsignal "github.com/moltlabs/tradegate/internal/signal"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg config.Root) error {
	observ.SetupLogging(cfg.Log.Level, cfg.Log.Pretty)
	log := observ.Component("main")

	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open intent store: %w", err)
	}
	defer store.Close()

	outbox, err := notify.NewOutbox(cfg.OutboxPath)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	tracker := portfolio.NewTracker(cfg.Portfolio.StatePath, cfg.Portfolio.Equity, cfg.Portfolio.PeakEquity)
	if err := tracker.Load(); err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}

	counters := risk.NewCounters()
	notifier := notify.Multi{notify.NewLogSink(), outbox, fillRecorder{tracker: tracker, counters: counters}}

	macro := regime.FileSource{Path: cfg.Regime.IndicatorsPath}
	regimes := regime.NewProvider(macro, regime.ProviderConfig{
		RefreshInterval: time.Duration(cfg.Regime.RefreshIntervalSecs) * time.Second,
		MaxAge:          time.Duration(cfg.Regime.MaxAgeSecs) * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	regimes.Start(ctx)
	defer regimes.Stop()

	earnings := earningsFromConfig(cfg.Calendar.Earnings)
	cal := calendar.New(
		earnings,
		eventsFromConfig(cfg.Calendar.EconomicEvents),
		calendar.Config{
			DaysBefore: cfg.Calendar.EarningsDaysBefore,
			DaysAfter:  cfg.Calendar.EarningsDaysAfter,
		},
	)

	killSwitch := risk.NewKillSwitch(cfg.KillSwitchFile)
	classifier := sector.NewClassifier(cfg.Sectors)

	sessionTZ, err := cfg.Window.Location()
	if err != nil {
		return err
	}
	chain := risk.NewChain(
		&risk.KillSwitchGate{Switch: killSwitch},
		&risk.DailyLossGate{LimitUSD: cfg.Risk.MaxDailyLoss},
		&risk.WindowGate{
			Location: sessionTZ,
			Start:    risk.WindowEdge{Hour: cfg.Window.OpenHour, Minute: cfg.Window.OpenMinute},
			End:      risk.WindowEdge{Hour: cfg.Window.CloseHour, Minute: cfg.Window.CloseMinute},
		},
		risk.NewWatchlistGate(cfg.Watchlist),
		&risk.BlackoutGate{Calendar: cal},
		&risk.EvidenceGate{
			LongRSMin:    cfg.Risk.LongRSFloor,
			ShortRSMax:   cfg.Risk.ShortRSCeiling,
			RelVolumeMin: cfg.Risk.MinRelVolume,
		},
		&risk.SectorGate{MaxPerSector: cfg.Risk.MaxPerSector},
		&risk.CorrelationGate{
			Source:         risk.StaticCorrelations(cfg.Correlations),
			MaxCorrelation: cfg.Risk.CorrelationMax,
		},
	)

	sizer := &risk.Sizer{
		BaseRiskPct: cfg.Risk.BaseRiskPct / 100,
		Volatility:  macroVIX{src: macro},
		Earnings:    risk.CalendarProximity{Lookup: earnings.NextEarnings},
	}

	conn := broker.NewConnManager(paperDialer(cfg.Broker), broker.ConnConfig{
		DialTimeout: cfg.Broker.DialTimeout(),
		IdleTimeout: cfg.Broker.IdleTimeout(),
		MaxRetries:  uint64(cfg.Broker.MaxRetries),
	})
	defer conn.Close()

	exec := executor.New(store, conn, notifier, counters, cfg.Broker.SubmitTimeout())
	approvals := approval.NewChannel(store, exec, notifier)

	pipeline := admission.NewPipeline(admission.Config{
		Chain:        chain,
		Sizer:        sizer,
		Store:        store,
		Regimes:      regimes,
		Counters:     counters,
		Classifier:   classifier,
		Positions:    tracker,
		Portfolio:    tracker,
		Approvals:    approvals,
		Notifier:     notifier,
		Canary:       cfg.Canary,
		DedupeWindow: time.Duration(cfg.DedupeWindowSecs) * time.Second,
	})

	reaper := approval.NewReaper(store, notifier, time.Duration(cfg.PendingTTLSecs)*time.Second)
	reaper.Start()
	defer reaper.Stop()

	srv := httpapi.NewServer(httpapi.Config{
		Addr:          cfg.Server.Addr,
		WebhookSecret: cfg.Server.WebhookSecret,
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
		ReadTimeout:   cfg.Server.ReadTimeout(),
		WriteTimeout:  cfg.Server.WriteTimeout(),
		Pipeline:      pipeline,
		Approvals:     approvals,
		Store:         store,
		Conn:          conn,
		Regimes:       regimes,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	// Let in-flight broker submissions settle before the store closes.
	exec.Wait()
	return nil
}

func openStore(cfg config.Store) (intent.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return intent.OpenSQLite(cfg.Path)
	default:
		return intent.NewMemoryStore(), nil
	}
}

func paperDialer(cfg config.Broker) broker.Dialer {
	return func(ctx context.Context) (broker.Broker, error) {
		return broker.NewPaperBroker(broker.PaperConfig{
			LatencyMsMin: cfg.PaperLatencyMsMin,
			LatencyMsMax: cfg.PaperLatencyMsMax,
		}), nil
	}
}

func earningsFromConfig(m map[string]string) calendar.StaticEarnings {
	out := calendar.StaticEarnings{}
	for symbol, date := range m {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		out[symbol] = t
	}
	return out
}

func eventsFromConfig(events []config.EconomicEvent) []calendar.EconomicEvent {
	out := make([]calendar.EconomicEvent, 0, len(events))
	for _, ev := range events {
		t, err := time.Parse("2006-01-02", ev.Date)
		if err != nil {
			continue
		}
		out = append(out, calendar.EconomicEvent{Date: t, Name: ev.Name, Importance: ev.Importance})
	}
	return out
}

// macroVIX exposes the VIX reading from the macro indicator file to the
// sizer.
type macroVIX struct {
	src regime.FileSource
}

func (m macroVIX) Level() (float64, error) {
	ind, err := m.src.Indicators(context.Background())
	if err != nil {
		return 0, err
	}
	return ind.VIX, nil
}

// fillRecorder folds executed orders back into the portfolio tracker so the
// sector ledger and equity snapshot reflect what actually traded, and feeds
// realized P&L into the risk counters so the daily-loss breaker sees it.
type fillRecorder struct {
	tracker  *portfolio.Tracker
	counters *risk.Counters
}

func (f fillRecorder) Publish(ev notify.Event) {
	if ev.Type != notify.EventExecuted {
		return
	}
	realized, err := f.tracker.RecordFill(ev.Symbol, tgsignal.Side(ev.Side), ev.Quantity, ev.Price, ev.At)
	if err != nil {
		log := observ.Component("portfolio")
		log.Error().Err(err).Str("symbol", ev.Symbol).Msg("portfolio update failed")
		return
	}
	if realized != 0 {
		f.counters.AddRealizedPnL(realized)
	}
}
