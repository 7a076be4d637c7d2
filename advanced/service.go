// Package advanced builds compound order strategies on top of any adapter's
// primitive order operations. Exchanges with native support get the native
// endpoint; everything else is synthesized client-side from primitives,
// gated by the adapter's declared feature flags.
package advanced

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradecore/exchange"
	"tradecore/logger"
	"tradecore/models"
)

// OCOOrderRequest carries both legs of a one-cancels-other strategy.
type OCOOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       models.OrderSide `json:"side"`
	Amount     float64          `json:"amount"`
	LimitPrice float64          `json:"limitPrice"`
	StopPrice  float64          `json:"stopPrice"`
	// StopLimitPrice turns the stop leg into a stop-limit when set.
	StopLimitPrice float64 `json:"stopLimitPrice,omitempty"`
}

// OCOResult is the outcome of an OCO placement. Native reports whether the
// exchange's own OCO endpoint handled it; when false the two legs are
// independent orders linked only by GroupID.
type OCOResult struct {
	GroupID string         `json:"groupId"`
	Orders  []models.Order `json:"orders"`
	Native  bool           `json:"native"`
}

// IcebergOrderRequest is a limit order that only shows VisibleQty on the
// book at a time.
type IcebergOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       models.OrderSide `json:"side"`
	Amount     float64          `json:"amount"`
	Price      float64          `json:"price"`
	VisibleQty float64          `json:"visibleQty"`
}

// TrailingStopOrderRequest trails the market by a fixed amount or a percent,
// exactly one of which must be set.
type TrailingStopOrderRequest struct {
	Symbol          string           `json:"symbol"`
	Side            models.OrderSide `json:"side"`
	Amount          float64          `json:"amount"`
	TrailingAmount  float64          `json:"trailingAmount,omitempty"`
	TrailingPercent float64          `json:"trailingPercent,omitempty"`
	ActivationPrice float64          `json:"activationPrice,omitempty"`
}

// ConditionalOrderRequest fires a market or limit order when the trigger
// price source crosses TriggerPrice.
type ConditionalOrderRequest struct {
	Symbol       string               `json:"symbol"`
	Side         models.OrderSide     `json:"side"`
	Amount       float64              `json:"amount"`
	Price        float64              `json:"price,omitempty"`
	TriggerPrice float64              `json:"triggerPrice"`
	TriggerBy    models.TriggerSource `json:"triggerBy"`
}

// PartialError reports a synthesized OCO that placed its first leg and then
// failed the second. The surviving leg is NOT canceled automatically; the
// caller decides whether to reconcile via CancelOCOGroup.
type PartialError struct {
	GroupID string
	Placed  []models.Order
	Cause   error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("oco group %s partially placed (%d of 2 legs): %v", e.GroupID, len(e.Placed), e.Cause)
}

func (e *PartialError) Unwrap() error { return e.Cause }

// GroupStatus is the on-demand view of an OCO group's legs.
type GroupStatus struct {
	GroupID string         `json:"groupId"`
	Orders  []models.Order `json:"orders"`
	// Reconciled is true when one leg filled and the surviving leg was
	// canceled during this check.
	Reconciled bool `json:"reconciled"`
}

type groupRef struct {
	symbol string
	legIDs []string
}

// Service orchestrates compound orders against one adapter instance.
type Service struct {
	adapter exchange.Adapter
	log     *logger.Entry

	mu     sync.Mutex
	groups map[string]groupRef
}

// NewService creates an advanced orders service bound to the given adapter.
func NewService(adapter exchange.Adapter) *Service {
	return &Service{
		adapter: adapter,
		log:     logger.GetLogger().WithComponent("advanced_orders"),
		groups:  make(map[string]groupRef),
	}
}

// CreateOCOOrder validates the price relationship between the legs, then
// either defers to the exchange's native OCO endpoint or places both legs as
// independent primitive orders linked by a generated group id. The
// synthesized path is not atomic; a second-leg failure surfaces as a
// PartialError.
func (s *Service) CreateOCOOrder(ctx context.Context, req *OCOOrderRequest) (*OCOResult, error) {
	if req.Amount <= 0 {
		return nil, exchange.NewValidationError("oco amount must be positive, got %v", req.Amount)
	}
	if req.LimitPrice <= 0 || req.StopPrice <= 0 {
		return nil, exchange.NewValidationError("oco limit and stop prices must be positive")
	}
	switch req.Side {
	case models.SideBuy:
		if req.StopPrice >= req.LimitPrice {
			return nil, exchange.NewValidationError("buy oco requires stop price %v below limit price %v", req.StopPrice, req.LimitPrice)
		}
	case models.SideSell:
		if req.StopPrice <= req.LimitPrice {
			return nil, exchange.NewValidationError("sell oco requires stop price %v above limit price %v", req.StopPrice, req.LimitPrice)
		}
	default:
		return nil, exchange.NewValidationError("invalid order side %q", req.Side)
	}

	if placer, ok := s.adapter.(exchange.OCOPlacer); ok && s.adapter.Config().Features.OCO {
		orders, err := placer.CreateOCO(ctx, &exchange.OCORequest{
			Symbol:         req.Symbol,
			Side:           req.Side,
			Amount:         req.Amount,
			LimitPrice:     req.LimitPrice,
			StopPrice:      req.StopPrice,
			StopLimitPrice: req.StopLimitPrice,
		})
		if err != nil {
			return nil, err
		}
		groupID := uuid.NewString()
		s.register(groupID, req.Symbol, orders)
		return &OCOResult{GroupID: groupID, Orders: orders, Native: true}, nil
	}

	return s.synthesizeOCO(ctx, req)
}

// synthesizeOCO places the limit leg first, then the stop leg. Sequential
// on purpose; the second leg is only worth placing once the first is live.
func (s *Service) synthesizeOCO(ctx context.Context, req *OCOOrderRequest) (*OCOResult, error) {
	groupID := uuid.NewString()

	limitLeg, err := s.adapter.CreateOrder(ctx, &models.OrderRequest{
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   models.TypeLimit,
		Amount: req.Amount,
		Price:  req.LimitPrice,
	})
	if err != nil {
		return nil, err
	}
	limitLeg.GroupID = groupID

	stopReq := &models.OrderRequest{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      models.TypeStop,
		Amount:    req.Amount,
		StopPrice: req.StopPrice,
	}
	if req.StopLimitPrice > 0 {
		stopReq.Type = models.TypeStopLimit
		stopReq.Price = req.StopLimitPrice
	}
	stopLeg, err := s.adapter.CreateOrder(ctx, stopReq)
	if err != nil {
		placed := []models.Order{*limitLeg}
		s.register(groupID, req.Symbol, placed)
		s.log.WithError(err).WithFields(logger.Fields{
			"group_id": groupID,
			"symbol":   req.Symbol,
		}).Error("oco second leg failed, surviving leg left open")
		return nil, &PartialError{GroupID: groupID, Placed: placed, Cause: err}
	}
	stopLeg.GroupID = groupID

	orders := []models.Order{*limitLeg, *stopLeg}
	s.register(groupID, req.Symbol, orders)
	s.log.WithFields(logger.Fields{
		"group_id": groupID,
		"symbol":   req.Symbol,
		"exchange": s.adapter.Name(),
	}).Info("oco group synthesized")
	return &OCOResult{GroupID: groupID, Orders: orders}, nil
}

// CreateIcebergOrder places a limit order that keeps only the visible
// quantity on the book. Requires native iceberg support.
func (s *Service) CreateIcebergOrder(ctx context.Context, req *IcebergOrderRequest) (*models.Order, error) {
	if req.Amount <= 0 || req.VisibleQty <= 0 {
		return nil, exchange.NewValidationError("iceberg amount and visible quantity must be positive")
	}
	if req.VisibleQty >= req.Amount {
		return nil, exchange.NewValidationError("iceberg visible quantity %v must be below total amount %v", req.VisibleQty, req.Amount)
	}
	if !s.adapter.Config().Features.Iceberg {
		return nil, exchange.NewCapabilityError(s.adapter.Name(), "iceberg orders")
	}
	return s.adapter.CreateOrder(ctx, &models.OrderRequest{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       models.TypeIceberg,
		Amount:     req.Amount,
		Price:      req.Price,
		IcebergQty: req.VisibleQty,
	})
}

// CreateTrailingStopOrder places a stop that trails the market by a fixed
// amount or a percent. Exactly one of the two must be set.
func (s *Service) CreateTrailingStopOrder(ctx context.Context, req *TrailingStopOrderRequest) (*models.Order, error) {
	if req.Amount <= 0 {
		return nil, exchange.NewValidationError("trailing stop amount must be positive, got %v", req.Amount)
	}
	hasAmount := req.TrailingAmount > 0
	hasPercent := req.TrailingPercent > 0
	if hasAmount == hasPercent {
		return nil, exchange.NewValidationError("trailing stop requires exactly one of trailing amount or trailing percent")
	}
	if !s.adapter.Config().Features.TrailingStop {
		return nil, exchange.NewCapabilityError(s.adapter.Name(), "trailing stop orders")
	}

	return s.adapter.CreateOrder(ctx, &models.OrderRequest{
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            models.TypeTrailingStop,
		Amount:          req.Amount,
		TrailingDelta:   req.TrailingAmount,
		TrailingPercent: req.TrailingPercent,
		TriggerPrice:    req.ActivationPrice,
	})
}

// CreateConditionalOrder places an order that fires when the selected price
// source crosses the trigger price.
func (s *Service) CreateConditionalOrder(ctx context.Context, req *ConditionalOrderRequest) (*models.Order, error) {
	if req.Amount <= 0 {
		return nil, exchange.NewValidationError("conditional order amount must be positive, got %v", req.Amount)
	}
	if req.TriggerPrice <= 0 {
		return nil, exchange.NewValidationError("conditional order requires a trigger price")
	}
	switch req.TriggerBy {
	case models.TriggerLast, models.TriggerMark, models.TriggerIndex:
	default:
		return nil, exchange.NewValidationError("invalid trigger source %q", req.TriggerBy)
	}
	if !s.adapter.Config().Features.ConditionalOrders {
		return nil, exchange.NewCapabilityError(s.adapter.Name(), "conditional orders")
	}
	return s.adapter.CreateOrder(ctx, &models.OrderRequest{
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         models.TypeConditional,
		Amount:       req.Amount,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		TriggerBy:    req.TriggerBy,
	})
}

// CreateFillOrKillOrder forces FOK time-in-force on an otherwise ordinary
// order.
func (s *Service) CreateFillOrKillOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if !s.adapter.Config().Features.FillOrKill {
		return nil, exchange.NewCapabilityError(s.adapter.Name(), "fill-or-kill orders")
	}
	forced := *req
	forced.TimeInForce = models.TIFFillOrKill
	return s.adapter.CreateOrder(ctx, &forced)
}

// CreateImmediateOrCancelOrder forces IOC time-in-force on an otherwise
// ordinary order.
func (s *Service) CreateImmediateOrCancelOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if !s.adapter.Config().Features.ImmediateOrCancel {
		return nil, exchange.NewCapabilityError(s.adapter.Name(), "immediate-or-cancel orders")
	}
	forced := *req
	forced.TimeInForce = models.TIFImmediateOrCancel
	return s.adapter.CreateOrder(ctx, &forced)
}

// CancelOCOGroup cancels every remaining leg of a group. Legs already in a
// terminal state are skipped.
func (s *Service) CancelOCOGroup(ctx context.Context, groupID string) ([]models.Order, error) {
	ref, ok := s.lookup(groupID)
	if !ok {
		return nil, exchange.NewValidationError("unknown oco group %q", groupID)
	}

	canceled := make([]models.Order, 0, len(ref.legIDs))
	for _, legID := range ref.legIDs {
		order, err := s.adapter.CancelOrder(ctx, ref.symbol, legID)
		if err != nil {
			if exchange.KindOf(err) == exchange.KindOrderNotFound {
				continue
			}
			return canceled, err
		}
		order.GroupID = groupID
		canceled = append(canceled, *order)
	}

	s.mu.Lock()
	delete(s.groups, groupID)
	s.mu.Unlock()
	return canceled, nil
}

// CheckOCOGroup polls both legs on demand and reconciles: when one leg
// filled while the other still works, the survivor is canceled. This is the
// monitoring hook; no background poller runs.
func (s *Service) CheckOCOGroup(ctx context.Context, groupID string) (*GroupStatus, error) {
	ref, ok := s.lookup(groupID)
	if !ok {
		return nil, exchange.NewValidationError("unknown oco group %q", groupID)
	}

	orders := make([]models.Order, 0, len(ref.legIDs))
	filled := false
	for _, legID := range ref.legIDs {
		order, err := s.adapter.GetOrder(ctx, ref.symbol, legID)
		if err != nil {
			return nil, err
		}
		order.GroupID = groupID
		if order.Status == models.StatusFilled {
			filled = true
		}
		orders = append(orders, *order)
	}

	status := &GroupStatus{GroupID: groupID, Orders: orders}
	if !filled {
		return status, nil
	}

	for i := range orders {
		if !orders[i].IsOpen() {
			continue
		}
		canceled, err := s.adapter.CancelOrder(ctx, ref.symbol, orders[i].ID)
		if err != nil {
			return status, err
		}
		canceled.GroupID = groupID
		orders[i] = *canceled
		status.Reconciled = true
	}
	if status.Reconciled {
		s.log.WithFields(logger.Fields{"group_id": groupID}).Info("oco group reconciled after fill")
	}
	return status, nil
}

func (s *Service) register(groupID, symbol string, orders []models.Order) {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	s.mu.Lock()
	s.groups[groupID] = groupRef{symbol: symbol, legIDs: ids}
	s.mu.Unlock()
}

func (s *Service) lookup(groupID string) (groupRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.groups[groupID]
	return ref, ok
}
