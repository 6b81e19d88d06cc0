package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"quantumtrader/internal/config"
	"quantumtrader/internal/engine"
	"quantumtrader/internal/exchange"
	"quantumtrader/internal/execution"
	"quantumtrader/internal/exit"
	"quantumtrader/internal/ledger"
	"quantumtrader/internal/metrics"
	"quantumtrader/internal/reconcile"
	"quantumtrader/internal/risk"
	"quantumtrader/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trade on the configured cycle until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		app, err := assemble(ctx)
		if err != nil {
			return err
		}
		defer app.close()

		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

		feed := exchange.NewFeed(cfg.Exchange.Symbols, app.book, log, exchange.WithStreamURL(cfg.Exchange.StreamURL))
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("price feed stopped, falling back to REST ticker")
			}
		}()

		err = app.engine.Run(ctx)
		log.Info().Int("session_fills", len(app.journal.Snapshot())).Msg("shutting down")
		return err
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass against the exchange and persist the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := assemble(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		rep, err := app.engine.Reconcile(cmd.Context())
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		if err := app.engine.Flush(cmd.Context()); err != nil {
			return fmt.Errorf("flush ledger: %w", err)
		}
		fmt.Printf("resolved orders: %d  failed orders: %d\n", rep.ResolvedOrders, rep.FailedOrders)
		fmt.Printf("imported fills: %d  rejected fills: %d\n", rep.ImportedFills, rep.RejectedFills)
		fmt.Printf("cash drift: %s (alert=%v)\n", rep.CashDrift, rep.DriftAlert)
		for _, r := range rep.Repairs {
			fmt.Println("repair:", r)
		}
		for _, sym := range rep.Resumed {
			fmt.Println("resumed:", sym)
		}
		return nil
	},
}

// trader is the assembled object graph shared by the run and reconcile commands.
type trader struct {
	engine   *engine.Engine
	book     *exchange.PriceBook
	journal  *ledger.Journal
	client   *exchange.Client
	store    *store.Store
	recorder *ledger.JSONLRecorder
}

func assemble(ctx context.Context) (*trader, error) {
	creds, err := config.LoadCredentials(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	log.Info().EmbedObject(creds).Msg("credentials loaded")
	client := exchange.NewClient(cfg.Exchange, creds, log)
	creds.Wipe()

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	state, found, err := st.LoadLedger(ctx)
	if err != nil {
		client.Close()
		_ = st.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	var l *ledger.Ledger
	if found {
		l = ledger.Restore(state)
		log.Info().Str("cash", state.Account.Cash.String()).Int("positions", len(state.Positions)).Msg("ledger restored")
	} else {
		l = ledger.New(decimal.Zero)
		log.Info().Msg("no persisted ledger, starting empty until reconciliation")
	}

	book := exchange.NewPriceBook()
	sentiment := exchange.NewSentimentClient(cfg.Sentiment.BaseURL, cfg.Sentiment.CacheTTL(), cfg.Exchange.Timeout())
	candles := exchange.NewKlineSource(cfg.Exchange.BaseURL, cfg.Exchange.Timeout())
	market := exchange.NewMarket(book, client, candles, sentiment, cfg.Exchange.PriceMaxAge(), log)

	journal := ledger.NewJournal(1000)
	recorders := ledger.MultiRecorder{journal}
	var jsonl *ledger.JSONLRecorder
	if cfg.Storage.FillsPath != "" {
		jsonl, err = ledger.NewJSONLRecorder(cfg.Storage.FillsPath)
		if err != nil {
			client.Close()
			_ = st.Close()
			return nil, fmt.Errorf("open fill journal: %w", err)
		}
		recorders = append(recorders, jsonl)
	}

	recon := reconcile.New(client, st, market, l, engine.ReconcileOptionsFromConfig(cfg), log)
	eng := engine.New(engine.Deps{
		Market:     market,
		Executor:   execution.NewExecutor(client, st, log),
		Reconciler: recon,
		Store:      st,
		Ledger:     l,
		Scorer:     engine.ScorerFromConfig(cfg),
		Aggregator: engine.AggregatorFromConfig(cfg),
		Sizer:      risk.NewSizer(engine.LimitsFromConfig(cfg)),
		Exits:      exit.NewMonitor(engine.ExitPolicyFromConfig(cfg), log),
		Recorder:   recorders,
	}, engine.SettingsFromConfig(cfg), log)

	return &trader{engine: eng, book: book, journal: journal, client: client, store: st, recorder: jsonl}, nil
}

func (t *trader) close() {
	t.client.Close()
	if t.recorder != nil {
		if err := t.recorder.Err(); err != nil {
			log.Error().Err(err).Msg("fill journal write failed during session")
		}
		_ = t.recorder.Close()
	}
	if err := t.store.Close(); err != nil {
		log.Error().Err(err).Msg("close store")
	}
}
