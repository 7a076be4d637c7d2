package level2

import (
	"sort"
	"time"

	"tradecore/models"
)

// mergeBooks combines per-exchange order books into one aggregated view.
// Levels at the exact same price are merged with quantities and order counts
// summed. Bids sort descending, asks ascending; the merged result is
// deterministic given the input books regardless of fetch arrival order.
func mergeBooks(symbol string, books []models.OrderBook) *models.Level2Data {
	bidLevels := make(map[float64]*models.AggregatedLevel)
	askLevels := make(map[float64]*models.AggregatedLevel)
	exchanges := make([]string, 0, len(books))

	for _, book := range books {
		exchanges = append(exchanges, book.Exchange)
		for _, level := range book.Bids {
			mergeLevel(bidLevels, book.Exchange, level)
		}
		for _, level := range book.Asks {
			mergeLevel(askLevels, book.Exchange, level)
		}
	}
	sort.Strings(exchanges)

	bids := flattenLevels(bidLevels)
	asks := flattenLevels(askLevels)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	data := &models.Level2Data{
		Symbol:    symbol,
		Exchanges: exchanges,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UTC(),
	}

	for _, level := range bids {
		data.TotalBidVolume += level.Quantity
	}
	for _, level := range asks {
		data.TotalAskVolume += level.Quantity
	}
	if len(bids) > 0 && len(asks) > 0 {
		bestBid := bids[0].Price
		bestAsk := asks[0].Price
		data.Spread = bestAsk - bestBid
		data.MidPrice = (bestBid + bestAsk) / 2
	}
	if data.TotalAskVolume > 0 {
		data.BidAskRatio = data.TotalBidVolume / data.TotalAskVolume
	}

	data.PriceLevels = buildLadder(bids, asks)
	data.Analysis = analyzeDepth(data)
	return data
}

func mergeLevel(levels map[float64]*models.AggregatedLevel, exchangeName string, level models.BookLevel) {
	agg, ok := levels[level.Price]
	if !ok {
		levels[level.Price] = &models.AggregatedLevel{
			Price:      level.Price,
			Quantity:   level.Quantity,
			OrderCount: level.OrderCount,
			Exchanges:  []string{exchangeName},
		}
		return
	}
	agg.Quantity += level.Quantity
	agg.OrderCount += level.OrderCount
	if !containsString(agg.Exchanges, exchangeName) {
		agg.Exchanges = append(agg.Exchanges, exchangeName)
		sort.Strings(agg.Exchanges)
	}
}

func flattenLevels(levels map[float64]*models.AggregatedLevel) []models.AggregatedLevel {
	out := make([]models.AggregatedLevel, 0, len(levels))
	for _, level := range levels {
		out = append(out, *level)
	}
	return out
}

// buildLadder produces one rung per distinct price across both sides, with
// running cumulative volume in ascending price order.
func buildLadder(bids, asks []models.AggregatedLevel) []models.PriceLevel {
	rungs := make(map[float64]*models.PriceLevel)

	for _, level := range bids {
		rung := ladderRung(rungs, level.Price)
		rung.BidQuantity += level.Quantity
		rung.BidOrders += level.OrderCount
		rung.Exchanges = mergeExchanges(rung.Exchanges, level.Exchanges)
	}
	for _, level := range asks {
		rung := ladderRung(rungs, level.Price)
		rung.AskQuantity += level.Quantity
		rung.AskOrders += level.OrderCount
		rung.Exchanges = mergeExchanges(rung.Exchanges, level.Exchanges)
	}

	ladder := make([]models.PriceLevel, 0, len(rungs))
	for _, rung := range rungs {
		ladder = append(ladder, *rung)
	}
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Price < ladder[j].Price })

	cumulative := 0.0
	for i := range ladder {
		cumulative += ladder[i].BidQuantity + ladder[i].AskQuantity
		ladder[i].CumulativeVolume = cumulative
	}
	return ladder
}

func ladderRung(rungs map[float64]*models.PriceLevel, price float64) *models.PriceLevel {
	rung, ok := rungs[price]
	if !ok {
		rung = &models.PriceLevel{Price: price}
		rungs[price] = rung
	}
	return rung
}

func mergeExchanges(into, from []string) []string {
	for _, name := range from {
		if !containsString(into, name) {
			into = append(into, name)
		}
	}
	sort.Strings(into)
	return into
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
