package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quantumtrader/internal/config"
	"quantumtrader/internal/store"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== QuantumTrader Console ===")
		fmt.Println("1) Show ledger")
		fmt.Println("2) Show pending orders")
		fmt.Println("3) Show recent orders")
		fmt.Println("4) Show recent fills")
		fmt.Println("5) Show configuration summary")
		fmt.Println("6) Edit risk and exit knobs")
		fmt.Println("7) Save config")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			withStore(cfg, printLedger)
		case "2":
			withStore(cfg, printPending)
		case "3":
			withStore(cfg, printRecentOrders)
		case "4":
			withStore(cfg, printRecentFills)
		case "5":
			printSummary(cfg)
		case "6":
			editRisk(reader, cfg)
		case "7":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved, config invalid: %v\n", err)
			} else if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved, restart the trader to apply")
			}
		case "8":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

// withStore opens the ledger database for one read. SQLite WAL lets this run beside a live trader.
func withStore(cfg *config.Config, fn func(context.Context, *store.Store) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return
	}
	defer st.Close()
	if err := fn(ctx, st); err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
	}
}

func printLedger(ctx context.Context, st *store.Store) error {
	state, found, err := st.LoadLedger(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\n--- Ledger ---")
	if !found {
		fmt.Println("no ledger persisted yet")
		return nil
	}
	fmt.Printf("Cash: %s\n", state.Account.Cash.StringFixed(2))
	fmt.Printf("Realized PnL: %s\n", state.Account.RealizedPnL.StringFixed(2))
	if len(state.Positions) == 0 {
		fmt.Println("No open positions")
	}
	for _, pos := range state.Positions {
		fmt.Printf("%-12s qty %-14s entry %-12s cost %-10s since %s\n",
			pos.Symbol, pos.Quantity, pos.EntryPrice, pos.CostBasis.StringFixed(2), pos.EntryTime.Format(time.RFC3339))
	}
	return nil
}

func printPending(ctx context.Context, st *store.Store) error {
	orders, err := st.PendingOrders(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n--- Pending Orders (%d) ---\n", len(orders))
	for _, o := range orders {
		fmt.Printf("%s %-10s %-4s age %s reason %s\n", o.ClientOrderID, o.Symbol, o.Side,
			time.Since(o.CreatedAt).Truncate(time.Second), o.Reason)
	}
	return nil
}

func printRecentOrders(ctx context.Context, st *store.Store) error {
	orders, err := st.RecentOrders(ctx, 20)
	if err != nil {
		return err
	}
	fmt.Println("\n--- Recent Orders ---")
	for _, o := range orders {
		size := o.Notional.String() + " quote"
		if o.Quantity.IsPositive() {
			size = o.Quantity.String() + " base"
		}
		fmt.Printf("%s %-10s %-4s %-14s %-9s %s\n", o.UpdatedAt.Format(time.RFC3339), o.Symbol, o.Side, size, o.Status, o.Reason)
	}
	return nil
}

func printRecentFills(ctx context.Context, st *store.Store) error {
	fills, err := st.RecentFills(ctx, 20)
	if err != nil {
		return err
	}
	fmt.Println("\n--- Recent Fills ---")
	for _, f := range fills {
		fmt.Printf("%s %-16s %-4s %s @ %s fee %s %s\n", f.Ts.Format(time.RFC3339), f.TradeID, f.Side, f.Qty, f.Price, f.Fee, f.FeeAsset)
	}
	return nil
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Println("Symbols:", strings.Join(cfg.Exchange.Symbols, ", "))
	fmt.Printf("Risk fraction: %.2f%%\n", cfg.Risk.RiskFraction*100)
	fmt.Printf("Per-trade notional: $%.2f - $%.2f\n", cfg.Risk.MinNotional, cfg.Risk.MaxNotionalPerTrade)
	fmt.Printf("Max single asset weight: %.2f%%\n", cfg.Risk.MaxSingleAssetWeight*100)
	fmt.Printf("Stop-loss / take-profit: %.2f%% / %.2f%%\n", cfg.Exits.StopLossPct, cfg.Exits.TakeProfitPct)
	fmt.Printf("Restricted: %s (unlock %.0f%% after %d blocked cycles)\n",
		strings.Join(cfg.Exits.RestrictedSymbols, ", "), cfg.Exits.UnlockFraction*100, cfg.Exits.UnlockCeiling)
	fmt.Printf("Confluence >= %.2f x %.2f, confidence >= %.1f - %.1f\n",
		cfg.Signal.MinConfluence, cfg.Signal.ConfluenceTolerance, cfg.Signal.MinConfidence, cfg.Signal.ConfidenceOffset)
	fmt.Printf("Cycle every %s, reconcile every %s\n", cfg.Engine.CycleInterval(), cfg.Engine.ReconciliationInterval())
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Exits ---")
	cfg.Risk.RiskFraction = promptPercent(reader, "Risk fraction (%)", cfg.Risk.RiskFraction)
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade (USD)", cfg.Risk.MaxNotionalPerTrade)
	cfg.Risk.MinNotional = promptFloat(reader, "Min notional (USD)", cfg.Risk.MinNotional)
	cfg.Risk.MaxSingleAssetWeight = promptPercent(reader, "Max single asset weight (%)", cfg.Risk.MaxSingleAssetWeight)
	cfg.Exits.StopLossPct = promptFloat(reader, "Stop-loss (%, negative)", cfg.Exits.StopLossPct)
	cfg.Exits.TakeProfitPct = promptFloat(reader, "Take-profit (%)", cfg.Exits.TakeProfitPct)
	cfg.Exits.UnlockCeiling = int(promptFloat(reader, "Unlock ceiling (cycles)", float64(cfg.Exits.UnlockCeiling)))
	cfg.Exits.UnlockFraction = promptPercent(reader, "Unlock fraction (%)", cfg.Exits.UnlockFraction)
	fmt.Printf("A position entered at 100 now exits on stop-loss at or below %.2f\n", 100*(1+cfg.Exits.StopLossPct/100))
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if p := os.Getenv("QT_CONFIG"); p != "" {
		return filepath.Clean(p)
	}
	return filepath.Clean(defaultConfigPath)
}
