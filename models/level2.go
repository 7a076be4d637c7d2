package models

import "time"

// AggregatedLevel is one price level of the merged multi-exchange book.
// Levels quoting the exact same price are merged with quantities and order
// counts summed; Exchanges records where the liquidity came from.
type AggregatedLevel struct {
	Price      float64  `json:"price"`
	Quantity   float64  `json:"quantity"`
	OrderCount int      `json:"orderCount"`
	Exchanges  []string `json:"exchanges"`
}

// PriceLevel is one rung of the combined bid/ask ladder with running
// cumulative volume, used for depth-chart rendering.
type PriceLevel struct {
	Price            float64  `json:"price"`
	BidQuantity      float64  `json:"bidQuantity"`
	AskQuantity      float64  `json:"askQuantity"`
	BidOrders        int      `json:"bidOrders"`
	AskOrders        int      `json:"askOrders"`
	Exchanges        []string `json:"exchanges"`
	CumulativeVolume float64  `json:"cumulativeVolume"`
}

// SupportResistanceLevel is a high-liquidity price point ranked by strength.
type SupportResistanceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	// Strength is min(1, quantity/100).
	Strength float64 `json:"strength"`
	// Confidence is 1 minus the relative distance from mid-price.
	Confidence float64 `json:"confidence"`
}

// LiquidityZone is a fixed-width price band whose resting volume exceeds the
// liquidity threshold.
type LiquidityZone struct {
	PriceLow  float64 `json:"priceLow"`
	PriceHigh float64 `json:"priceHigh"`
	Volume    float64 `json:"volume"`
	// Density is volume divided by zone width.
	Density float64 `json:"density"`
	Side    string  `json:"side"`
}

// VolumePoint is the per-price buy/sell volume split of the volume profile.
type VolumePoint struct {
	Price      float64 `json:"price"`
	BuyVolume  float64 `json:"buyVolume"`
	SellVolume float64 `json:"sellVolume"`
}

// MarketDepthAnalysis holds the microstructure signals derived from one
// aggregated book.
type MarketDepthAnalysis struct {
	SupportLevels    []SupportResistanceLevel `json:"supportLevels"`
	ResistanceLevels []SupportResistanceLevel `json:"resistanceLevels"`
	LiquidityZones   []LiquidityZone          `json:"liquidityZones"`
	// OrderFlowImbalance is (bidVol-askVol)/(bidVol+askVol), in [-1, 1].
	OrderFlowImbalance float64       `json:"orderFlowImbalance"`
	MarketPressure     string        `json:"marketPressure"`
	VolumeProfile      []VolumePoint `json:"volumeProfile"`
}

// Level2Data is the merged view over N exchanges' order books for one symbol.
// It is rebuilt whole on every poll cycle, never partially updated.
type Level2Data struct {
	Symbol         string              `json:"symbol"`
	Exchanges      []string            `json:"exchanges"`
	Bids           []AggregatedLevel   `json:"bids"`
	Asks           []AggregatedLevel   `json:"asks"`
	Spread         float64             `json:"spread"`
	MidPrice       float64             `json:"midPrice"`
	TotalBidVolume float64             `json:"totalBidVolume"`
	TotalAskVolume float64             `json:"totalAskVolume"`
	BidAskRatio    float64             `json:"bidAskRatio"`
	PriceLevels    []PriceLevel        `json:"priceLevels"`
	Analysis       MarketDepthAnalysis `json:"analysis"`
	Timestamp      time.Time           `json:"timestamp"`
}

// OrderFlow is the standalone order-flow view exposed to callers that only
// need the imbalance signal.
type OrderFlow struct {
	Symbol             string    `json:"symbol"`
	OrderFlowImbalance float64   `json:"orderFlowImbalance"`
	MarketPressure     string    `json:"marketPressure"`
	TotalBidVolume     float64   `json:"totalBidVolume"`
	TotalAskVolume     float64   `json:"totalAskVolume"`
	Timestamp          time.Time `json:"timestamp"`
}

// LiquidityHeatmap is the zone view used by depth visualizations.
type LiquidityHeatmap struct {
	Symbol    string          `json:"symbol"`
	Zones     []LiquidityZone `json:"zones"`
	Timestamp time.Time       `json:"timestamp"`
}
