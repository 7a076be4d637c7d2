package archive

import (
	"testing"
	"time"

	"tradecore/models"
)

func TestFlattenTagsEveryRow(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	data := &models.Level2Data{
		Symbol:    "BTCUSDT",
		Exchanges: []string{"binance", "kraken"},
		Bids: []models.AggregatedLevel{
			{Price: 100, Quantity: 3, OrderCount: 2},
			{Price: 99.5, Quantity: 1, OrderCount: 1},
		},
		Asks: []models.AggregatedLevel{
			{Price: 101, Quantity: 1, OrderCount: 1},
		},
		Spread:    1,
		MidPrice:  100.5,
		Timestamp: ts,
	}
	data.Analysis.OrderFlowImbalance = 0.2

	records := flatten(data)
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}

	first := records[0]
	if first.Side != "bid" || first.Price != 100 || first.Quantity != 3 {
		t.Fatalf("first record = %+v", first)
	}
	if first.Level != 1 || records[1].Level != 2 {
		t.Fatalf("bid levels = %d, %d, want 1, 2", first.Level, records[1].Level)
	}
	if records[2].Side != "ask" || records[2].Level != 1 {
		t.Fatalf("ask record = %+v", records[2])
	}

	for i, record := range records {
		if record.Symbol != "BTCUSDT" || record.Exchanges != "binance,kraken" {
			t.Fatalf("record %d identity = %+v", i, record)
		}
		if record.Timestamp != ts.UnixMilli() {
			t.Fatalf("record %d timestamp = %d", i, record.Timestamp)
		}
		if record.Spread != 1 || record.MidPrice != 100.5 || record.Imbalance != 0.2 {
			t.Fatalf("record %d snapshot tags = %+v", i, record)
		}
	}
}

func TestFlattenSkipsEmptyLevels(t *testing.T) {
	records := flatten(&models.Level2Data{
		Symbol: "BTCUSDT",
		Bids: []models.AggregatedLevel{
			{Price: 100, Quantity: 0},
			{Price: 0, Quantity: 1},
			{Price: 99, Quantity: 2, OrderCount: 1},
		},
	})
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (empty levels skipped)", len(records))
	}
	if records[0].Price != 99 {
		t.Fatalf("record = %+v", records[0])
	}
}

func TestFlattenNilSnapshot(t *testing.T) {
	if records := flatten(nil); records != nil {
		t.Fatalf("flatten(nil) = %v, want nil", records)
	}
}

func TestBuildParquetRoundTripsHeader(t *testing.T) {
	data, err := buildParquet([]levelRecord{
		{Symbol: "BTCUSDT", Side: "bid", Price: 100, Quantity: 1, Timestamp: 1700000000000},
	})
	if err != nil {
		t.Fatalf("buildParquet failed: %v", err)
	}
	if len(data) < 8 {
		t.Fatalf("parquet output too small: %d bytes", len(data))
	}
	// Parquet files start and end with the PAR1 magic.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatal("output is not a parquet file")
	}
}
