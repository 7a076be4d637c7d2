package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/exchange"
	"tradecore/logger"
	"tradecore/models"
)

// partial book depth stream levels offered by Binance
var streamDepths = []int{5, 10, 20}

type depthStreamMessage struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// StreamOrderBook subscribes to the partial book depth websocket stream and
// pushes normalized snapshots until the context is canceled or the stream is
// closed. Updates the consumer cannot keep up with are dropped.
func (a *Adapter) StreamOrderBook(ctx context.Context, symbol string, depth int) (exchange.BookStream, error) {
	streamDepth := streamDepths[len(streamDepths)-1]
	for _, d := range streamDepths {
		if depth <= d {
			streamDepth = d
			break
		}
	}

	native := strings.ToLower(a.FormatSymbol(symbol))
	streamURL := fmt.Sprintf("%s/ws/%s@depth%d@100ms", a.cfg.WSBaseURL, native, streamDepth)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, exchange.NewNetworkError("binance", "failed to open depth stream", err)
	}

	stream := exchange.NewChannelStream(64)
	canonical := a.ParseSymbol(a.FormatSymbol(symbol))
	log := a.log.WithComponent("binance_stream").WithFields(logger.Fields{
		"symbol": canonical,
		"depth":  streamDepth,
	})

	// Close the socket when either the caller or the context gives up; that
	// unblocks the blocking ReadMessage below.
	go func() {
		select {
		case <-ctx.Done():
		case <-stream.Done():
		}
		conn.Close()
	}()

	go func() {
		log.Info("depth stream opened")
		var terminal error
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					select {
					case <-stream.Done():
						// closed by the caller, clean shutdown
					default:
						terminal = exchange.NewNetworkError("binance", "depth stream read failed", err)
					}
				}
				break
			}

			var msg depthStreamMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.WithError(err).Warn("failed to decode depth message")
				continue
			}

			book := models.OrderBook{
				Exchange:  "binance",
				Symbol:    canonical,
				Bids:      parseLevels(msg.Bids),
				Asks:      parseLevels(msg.Asks),
				Timestamp: time.Now().UTC(),
			}
			if !stream.Publish(book) {
				log.Debug("depth stream consumer behind, update dropped")
			}
			logger.RecordFlowMessage("orderbook_ws", len(payload))
		}
		stream.Finish(terminal)
		log.WithFields(logger.Fields{"dropped": stream.Dropped()}).Info("depth stream closed")
	}()

	return stream, nil
}
