// Package level2 aggregates order books across multiple exchange adapters
// into one merged view and derives market-microstructure signals from it.
package level2

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"tradecore/exchange"
	"tradecore/logger"
	"tradecore/models"
)

const (
	defaultDepth    = 100
	defaultInterval = time.Second
	defaultCacheTTL = 5 * time.Second
)

// Callback receives each freshly aggregated snapshot for a subscription.
type Callback func(*models.Level2Data)

// Config tunes the service; zero values fall back to the defaults above.
type Config struct {
	Depth    int
	Interval time.Duration
	CacheTTL time.Duration
}

type subscription struct {
	symbol    string
	exchanges []string
	callbacks map[string]Callback
	cancel    context.CancelFunc
}

type cacheEntry struct {
	data      *models.Level2Data
	fetchedAt time.Time
}

// Service owns the subscriber registry and the per-key polling loops.
// Exactly one loop runs per (symbol, exchange-set) key regardless of how
// many subscribers share it.
type Service struct {
	adapters map[string]exchange.Adapter
	depth    int
	interval time.Duration
	cacheTTL time.Duration
	log      *logger.Entry

	mu    sync.Mutex
	subs  map[string]*subscription
	byID  map[string]string
	cache map[string]cacheEntry
}

// NewService creates a Level2 service over the given adapters, keyed by
// exchange name.
func NewService(adapters map[string]exchange.Adapter, cfg Config) *Service {
	if cfg.Depth <= 0 {
		cfg.Depth = defaultDepth
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Service{
		adapters: adapters,
		depth:    cfg.Depth,
		interval: cfg.Interval,
		cacheTTL: cfg.CacheTTL,
		log:      logger.GetLogger().WithComponent("level2_service"),
		subs:     make(map[string]*subscription),
		byID:     make(map[string]string),
		cache:    make(map[string]cacheEntry),
	}
}

// Subscribe registers a callback for a symbol and optional exchange subset.
// The first subscriber for a key starts its polling loop; later subscribers
// share it. Initial data is pushed synchronously before the first tick. The
// returned id is the handle for Unsubscribe.
func (s *Service) Subscribe(ctx context.Context, symbol string, cb Callback, exchanges []string) (string, error) {
	if cb == nil {
		return "", exchange.NewValidationError("level2 subscription requires a callback")
	}
	names, err := s.resolveExchanges(exchanges)
	if err != nil {
		return "", err
	}

	// The initial snapshot is fetched before registering so a broken
	// symbol/exchange combination fails the subscribe call itself.
	data, err := s.aggregate(ctx, symbol, names)
	if err != nil {
		return "", err
	}

	key := subscriptionKey(symbol, names)
	id := uuid.NewString()

	s.mu.Lock()
	sub, ok := s.subs[key]
	if !ok {
		loopCtx, cancel := context.WithCancel(context.Background())
		sub = &subscription{
			symbol:    symbol,
			exchanges: names,
			callbacks: make(map[string]Callback),
			cancel:    cancel,
		}
		s.subs[key] = sub
		go s.poll(loopCtx, key, sub)
	}
	sub.callbacks[id] = cb
	s.byID[id] = key
	s.mu.Unlock()

	cb(data)

	s.log.WithFields(logger.Fields{
		"symbol":        symbol,
		"exchanges":     strings.Join(names, ","),
		"subscriber_id": id,
	}).Info("level2 subscription added")
	return id, nil
}

// Unsubscribe removes one subscriber. The polling loop stops when the last
// subscriber for its key is gone; a later re-subscribe restarts it from a
// fresh fetch.
func (s *Service) Unsubscribe(id string) error {
	s.mu.Lock()
	key, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return exchange.NewValidationError("unknown level2 subscriber %q", id)
	}
	delete(s.byID, id)

	sub := s.subs[key]
	delete(sub.callbacks, id)
	last := len(sub.callbacks) == 0
	if last {
		delete(s.subs, key)
	}
	s.mu.Unlock()

	if last {
		sub.cancel()
		s.log.WithFields(logger.Fields{"key": key}).Info("level2 polling loop stopped")
	}
	return nil
}

// Close stops every polling loop.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*subscription)
	s.byID = make(map[string]string)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

// GetAggregatedLevel2Data returns the merged book, served from cache while
// fresh.
func (s *Service) GetAggregatedLevel2Data(ctx context.Context, symbol string, exchanges []string) (*models.Level2Data, error) {
	names, err := s.resolveExchanges(exchanges)
	if err != nil {
		return nil, err
	}
	key := subscriptionKey(symbol, names)

	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < s.cacheTTL {
		return entry.data, nil
	}
	return s.aggregate(ctx, symbol, names)
}

// GetMarketDepthAnalysis returns only the derived signals.
func (s *Service) GetMarketDepthAnalysis(ctx context.Context, symbol string, exchanges []string) (*models.MarketDepthAnalysis, error) {
	data, err := s.GetAggregatedLevel2Data(ctx, symbol, exchanges)
	if err != nil {
		return nil, err
	}
	analysis := data.Analysis
	return &analysis, nil
}

// GetLiquidityHeatmap returns the zone view used by depth visualizations.
func (s *Service) GetLiquidityHeatmap(ctx context.Context, symbol string, exchanges []string) (*models.LiquidityHeatmap, error) {
	data, err := s.GetAggregatedLevel2Data(ctx, symbol, exchanges)
	if err != nil {
		return nil, err
	}
	return &models.LiquidityHeatmap{
		Symbol:    symbol,
		Zones:     data.Analysis.LiquidityZones,
		Timestamp: data.Timestamp,
	}, nil
}

// GetOrderFlow returns the standalone imbalance signal.
func (s *Service) GetOrderFlow(ctx context.Context, symbol string, exchanges []string) (*models.OrderFlow, error) {
	data, err := s.GetAggregatedLevel2Data(ctx, symbol, exchanges)
	if err != nil {
		return nil, err
	}
	return &models.OrderFlow{
		Symbol:             symbol,
		OrderFlowImbalance: data.Analysis.OrderFlowImbalance,
		MarketPressure:     data.Analysis.MarketPressure,
		TotalBidVolume:     data.TotalBidVolume,
		TotalAskVolume:     data.TotalAskVolume,
		Timestamp:          data.Timestamp,
	}, nil
}

func (s *Service) poll(ctx context.Context, key string, sub *subscription) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, err := s.aggregate(ctx, sub.symbol, sub.exchanges)
		if err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"key": key}).Warn("level2 poll failed")
			continue
		}

		s.mu.Lock()
		callbacks := make([]Callback, 0, len(sub.callbacks))
		for _, cb := range sub.callbacks {
			callbacks = append(callbacks, cb)
		}
		s.mu.Unlock()

		for _, cb := range callbacks {
			cb(data)
		}
	}
}

// aggregate fetches all books concurrently, skips failing exchanges with a
// warning, and fails only when every exchange failed.
func (s *Service) aggregate(ctx context.Context, symbol string, names []string) (*models.Level2Data, error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		books []models.OrderBook
		errs  *multierror.Error
	)

	for _, name := range names {
		adapter := s.adapters[name]
		wg.Add(1)
		go func(name string, adapter exchange.Adapter) {
			defer wg.Done()
			book, err := adapter.GetOrderBook(ctx, symbol, s.depth)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
				s.log.WithError(err).WithFields(logger.Fields{
					"exchange": name,
					"symbol":   symbol,
				}).Warn("skipping exchange in aggregation")
				return
			}
			books = append(books, *book)
		}(name, adapter)
	}
	wg.Wait()

	if len(books) == 0 {
		if errs != nil {
			return nil, errs.ErrorOrNil()
		}
		return nil, exchange.NewValidationError("no exchanges available for %s", symbol)
	}

	// Deterministic merge input regardless of response arrival order.
	sort.Slice(books, func(i, j int) bool { return books[i].Exchange < books[j].Exchange })
	data := mergeBooks(symbol, books)

	key := subscriptionKey(symbol, names)
	s.mu.Lock()
	s.cache[key] = cacheEntry{data: data, fetchedAt: time.Now()}
	s.mu.Unlock()
	return data, nil
}

func (s *Service) resolveExchanges(exchanges []string) ([]string, error) {
	if len(exchanges) == 0 {
		names := make([]string, 0, len(s.adapters))
		for name := range s.adapters {
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil, exchange.NewValidationError("no adapters registered")
		}
		sort.Strings(names)
		return names, nil
	}

	names := make([]string, 0, len(exchanges))
	for _, name := range exchanges {
		name = strings.ToLower(name)
		if _, ok := s.adapters[name]; !ok {
			return nil, exchange.NewValidationError("unknown exchange %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func subscriptionKey(symbol string, exchanges []string) string {
	return strings.ToUpper(symbol) + "|" + strings.Join(exchanges, ",")
}
