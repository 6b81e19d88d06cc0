package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"quantumtrader/internal/execution"
)

func TestJSONLRecorder(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "audit", "fills.jsonl")

	recorder, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	fill := execution.Fill{TradeID: "BTCUSDT:1", Symbol: "BTCUSDT", Side: execution.Buy, Qty: decimal.NewFromInt(1), Price: decimal.RequireFromString("1000.5")}
	recorder.Record(fill)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one line in recorder output")
	}
	var decoded execution.Fill
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded.Symbol != fill.Symbol || decoded.Side != fill.Side || decoded.TradeID != fill.TradeID {
		t.Fatalf("unexpected decoded fill")
	}
	if !decoded.Price.Equal(fill.Price) {
		t.Fatalf("price lost precision: %s", decoded.Price)
	}
	if recorder.Err() != nil {
		t.Fatalf("unexpected recorder error: %v", recorder.Err())
	}
}
