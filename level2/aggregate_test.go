package level2

import (
	"testing"

	"tradecore/models"
)

func book(exchangeName string, bids, asks []models.BookLevel) models.OrderBook {
	return models.OrderBook{Exchange: exchangeName, Symbol: "BTCUSDT", Bids: bids, Asks: asks}
}

func level(price, qty float64, orders int) models.BookLevel {
	return models.BookLevel{Price: price, Quantity: qty, OrderCount: orders}
}

func TestMergeBooksCombinesIdenticalPrices(t *testing.T) {
	data := mergeBooks("BTCUSDT", []models.OrderBook{
		book("binance", []models.BookLevel{level(100, 1, 2)}, nil),
		book("kraken", []models.BookLevel{level(100, 2, 3)}, nil),
	})

	if len(data.Bids) != 1 {
		t.Fatalf("bids = %d, want a single merged level", len(data.Bids))
	}
	merged := data.Bids[0]
	if merged.Price != 100 || merged.Quantity != 3 {
		t.Fatalf("merged level = %+v, want price 100 quantity 3", merged)
	}
	if merged.OrderCount != 5 {
		t.Fatalf("order count = %d, want 5", merged.OrderCount)
	}
	if len(merged.Exchanges) != 2 || merged.Exchanges[0] != "binance" || merged.Exchanges[1] != "kraken" {
		t.Fatalf("exchanges = %v, want sorted [binance kraken]", merged.Exchanges)
	}
}

func TestMergeBooksTwoExchangeScenario(t *testing.T) {
	data := mergeBooks("BTCUSDT", []models.OrderBook{
		book("binance",
			[]models.BookLevel{level(100, 1, 1)},
			[]models.BookLevel{level(101, 1, 1)}),
		book("kraken",
			[]models.BookLevel{level(100, 2, 1)},
			[]models.BookLevel{level(102, 1, 1)}),
	})

	if data.Bids[0].Price != 100 || data.Bids[0].Quantity != 3 {
		t.Fatalf("best bid = %+v, want 100 with quantity 3", data.Bids[0])
	}
	if data.Asks[0].Price != 101 || data.Asks[0].Quantity != 1 {
		t.Fatalf("best ask = %+v, want 101 with quantity 1", data.Asks[0])
	}
	if data.Spread != 1 {
		t.Fatalf("spread = %v, want 1", data.Spread)
	}
	if data.MidPrice != 100.5 {
		t.Fatalf("mid price = %v, want 100.5", data.MidPrice)
	}
	if data.TotalBidVolume != 3 || data.TotalAskVolume != 2 {
		t.Fatalf("volumes = %v/%v, want 3/2", data.TotalBidVolume, data.TotalAskVolume)
	}
	if data.BidAskRatio != 1.5 {
		t.Fatalf("bid/ask ratio = %v, want 1.5", data.BidAskRatio)
	}
}

func TestMergeBooksSortsSides(t *testing.T) {
	data := mergeBooks("BTCUSDT", []models.OrderBook{
		book("binance",
			[]models.BookLevel{level(99, 1, 1), level(100, 1, 1), level(98, 1, 1)},
			[]models.BookLevel{level(103, 1, 1), level(101, 1, 1), level(102, 1, 1)}),
	})

	for i := 1; i < len(data.Bids); i++ {
		if data.Bids[i].Price > data.Bids[i-1].Price {
			t.Fatalf("bids not descending: %+v", data.Bids)
		}
	}
	for i := 1; i < len(data.Asks); i++ {
		if data.Asks[i].Price < data.Asks[i-1].Price {
			t.Fatalf("asks not ascending: %+v", data.Asks)
		}
	}
}

func TestMergeBooksIsDeterministic(t *testing.T) {
	books := []models.OrderBook{
		book("binance",
			[]models.BookLevel{level(100, 1, 1), level(99.5, 4, 2)},
			[]models.BookLevel{level(101, 1, 1)}),
		book("kraken",
			[]models.BookLevel{level(100, 2, 1)},
			[]models.BookLevel{level(101, 0.5, 1), level(102, 3, 2)}),
	}

	first := mergeBooks("BTCUSDT", books)
	second := mergeBooks("BTCUSDT", books)

	// Everything except the snapshot timestamp must match across runs.
	second.Timestamp = first.Timestamp
	if len(first.Bids) != len(second.Bids) || len(first.Asks) != len(second.Asks) {
		t.Fatal("level counts differ across identical merges")
	}
	for i := range first.Bids {
		if first.Bids[i].Price != second.Bids[i].Price || first.Bids[i].Quantity != second.Bids[i].Quantity {
			t.Fatalf("bid %d differs: %+v vs %+v", i, first.Bids[i], second.Bids[i])
		}
	}
	if first.Spread != second.Spread || first.MidPrice != second.MidPrice || first.BidAskRatio != second.BidAskRatio {
		t.Fatal("derived fields differ across identical merges")
	}
}

func TestBuildLadderCumulativeVolume(t *testing.T) {
	data := mergeBooks("BTCUSDT", []models.OrderBook{
		book("binance",
			[]models.BookLevel{level(99, 2, 1), level(100, 1, 1)},
			[]models.BookLevel{level(101, 3, 1)}),
	})

	if len(data.PriceLevels) != 3 {
		t.Fatalf("ladder rungs = %d, want 3", len(data.PriceLevels))
	}
	// Ascending price order with running cumulative volume.
	wantPrices := []float64{99, 100, 101}
	wantCumulative := []float64{2, 3, 6}
	for i, rung := range data.PriceLevels {
		if rung.Price != wantPrices[i] {
			t.Fatalf("rung %d price = %v, want %v", i, rung.Price, wantPrices[i])
		}
		if rung.CumulativeVolume != wantCumulative[i] {
			t.Fatalf("rung %d cumulative = %v, want %v", i, rung.CumulativeVolume, wantCumulative[i])
		}
	}
}

func TestMergeBooksOneSidedBook(t *testing.T) {
	data := mergeBooks("BTCUSDT", []models.OrderBook{
		book("binance", []models.BookLevel{level(100, 1, 1)}, nil),
	})
	if data.Spread != 0 || data.MidPrice != 0 {
		t.Fatalf("one-sided book must not derive spread/mid: %+v", data)
	}
	if data.BidAskRatio != 0 {
		t.Fatalf("ratio with zero ask volume = %v, want 0", data.BidAskRatio)
	}
}
