package level2

import (
	"math"
	"sort"

	"tradecore/models"
)

// The analysis constants are part of the observable contract; downstream
// consumers calibrate against these exact values.
const (
	// strengthNormalization converts resting quantity into a [0,1] strength.
	strengthNormalization = 100.0
	// liquidityThreshold is the minimum zone volume worth reporting.
	liquidityThreshold = 10.0
	// zoneWidthPct sets the liquidity zone width to 1% of the zone's price.
	zoneWidthPct = 0.01
	// pressureThreshold splits imbalance into bullish/neutral/bearish.
	// Strictly above +0.1 is bullish, strictly below -0.1 is bearish.
	pressureThreshold = 0.1

	maxSupportResistanceLevels = 5
)

// analyzeDepth derives the microstructure signals from one merged book.
func analyzeDepth(data *models.Level2Data) models.MarketDepthAnalysis {
	analysis := models.MarketDepthAnalysis{
		SupportLevels:    supportResistance(data.Bids, data.MidPrice),
		ResistanceLevels: supportResistance(data.Asks, data.MidPrice),
		LiquidityZones: append(
			liquidityZones(data.Bids, "bid"),
			liquidityZones(data.Asks, "ask")...,
		),
		VolumeProfile: volumeProfile(data.Bids, data.Asks),
	}
	analysis.OrderFlowImbalance = imbalance(data.TotalBidVolume, data.TotalAskVolume)
	analysis.MarketPressure = classifyPressure(analysis.OrderFlowImbalance)
	return analysis
}

// supportResistance keeps the top-5 highest-quantity levels of one side,
// ranked by strength descending.
func supportResistance(levels []models.AggregatedLevel, midPrice float64) []models.SupportResistanceLevel {
	byQuantity := make([]models.AggregatedLevel, len(levels))
	copy(byQuantity, levels)
	sort.Slice(byQuantity, func(i, j int) bool { return byQuantity[i].Quantity > byQuantity[j].Quantity })

	count := len(byQuantity)
	if count > maxSupportResistanceLevels {
		count = maxSupportResistanceLevels
	}

	out := make([]models.SupportResistanceLevel, 0, count)
	for _, level := range byQuantity[:count] {
		confidence := 0.0
		if midPrice > 0 {
			confidence = 1 - math.Abs(level.Price-midPrice)/midPrice
			if confidence < 0 {
				confidence = 0
			}
		}
		out = append(out, models.SupportResistanceLevel{
			Price:      level.Price,
			Quantity:   level.Quantity,
			Strength:   math.Min(1, level.Quantity/strengthNormalization),
			Confidence: confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

// liquidityZones buckets one side into fixed-width bands of 1% of price and
// keeps the bands whose volume clears the threshold.
func liquidityZones(levels []models.AggregatedLevel, side string) []models.LiquidityZone {
	if len(levels) == 0 {
		return nil
	}
	// Band width is 1% of the side's best price so every level of the side
	// buckets against the same grid.
	width := levels[0].Price * zoneWidthPct
	if width <= 0 {
		return nil
	}

	type bucket struct {
		low, high float64
		volume    float64
	}
	buckets := make(map[int]*bucket)

	for _, level := range levels {
		idx := int(math.Floor(level.Price / width))
		b, ok := buckets[idx]
		if !ok {
			low := float64(idx) * width
			b = &bucket{low: low, high: low + width}
			buckets[idx] = b
		}
		b.volume += level.Quantity
	}

	zones := make([]models.LiquidityZone, 0, len(buckets))
	for _, b := range buckets {
		if b.volume <= liquidityThreshold {
			continue
		}
		zones = append(zones, models.LiquidityZone{
			PriceLow:  b.low,
			PriceHigh: b.high,
			Volume:    b.volume,
			Density:   b.volume / width,
			Side:      side,
		})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].PriceLow < zones[j].PriceLow })
	return zones
}

func volumeProfile(bids, asks []models.AggregatedLevel) []models.VolumePoint {
	points := make(map[float64]*models.VolumePoint)
	for _, level := range bids {
		p := profilePoint(points, level.Price)
		p.BuyVolume += level.Quantity
	}
	for _, level := range asks {
		p := profilePoint(points, level.Price)
		p.SellVolume += level.Quantity
	}

	profile := make([]models.VolumePoint, 0, len(points))
	for _, p := range points {
		profile = append(profile, *p)
	}
	sort.Slice(profile, func(i, j int) bool { return profile[i].Price < profile[j].Price })
	return profile
}

func profilePoint(points map[float64]*models.VolumePoint, price float64) *models.VolumePoint {
	p, ok := points[price]
	if !ok {
		p = &models.VolumePoint{Price: price}
		points[price] = p
	}
	return p
}

func imbalance(bidVolume, askVolume float64) float64 {
	total := bidVolume + askVolume
	if total == 0 {
		return 0
	}
	return (bidVolume - askVolume) / total
}

func classifyPressure(imbalance float64) string {
	switch {
	case imbalance > pressureThreshold:
		return "bullish"
	case imbalance < -pressureThreshold:
		return "bearish"
	default:
		return "neutral"
	}
}
