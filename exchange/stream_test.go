package exchange

import (
	"testing"

	"tradecore/models"
)

func TestChannelStreamDeliversUpdates(t *testing.T) {
	s := NewChannelStream(2)
	book := models.OrderBook{Exchange: "binance", Symbol: "BTCUSDT"}

	if !s.Publish(book) {
		t.Fatal("publish into empty buffer should succeed")
	}
	got, ok := <-s.Updates()
	if !ok {
		t.Fatal("updates channel closed unexpectedly")
	}
	if got.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q, want BTCUSDT", got.Symbol)
	}

	s.Finish(nil)
	if _, ok := <-s.Updates(); ok {
		t.Fatal("updates channel should be closed after Finish")
	}
	if err := s.Err(); err != nil {
		t.Fatalf("clean finish should leave no error, got %v", err)
	}
}

func TestChannelStreamDropsWhenFull(t *testing.T) {
	s := NewChannelStream(1)
	book := models.OrderBook{Exchange: "binance"}

	if !s.Publish(book) {
		t.Fatal("first publish should fit the buffer")
	}
	if s.Publish(book) {
		t.Fatal("second publish should be dropped, not block")
	}
	if s.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped())
	}
}

func TestChannelStreamTerminalError(t *testing.T) {
	s := NewChannelStream(1)
	s.Finish(NewNetworkError("binance", "socket closed", nil))
	if KindOf(s.Err()) != KindNetwork {
		t.Fatalf("expected terminal network error, got %v", s.Err())
	}
}

func TestChannelStreamCloseIsIdempotent(t *testing.T) {
	s := NewChannelStream(1)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed after Close")
	}
}
