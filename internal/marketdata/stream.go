package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/observability"
)

// StreamConfig configures kline stream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// KlineStream subscribes to one symbol/timeframe kline WebSocket stream
// and emits closed bars. Reconnects with exponential backoff on
// connection loss; the stream endpoint replays nothing, so gaps during
// an outage must be backfilled through the Loader.
type KlineStream struct {
	endpoint  string
	symbol    string
	timeframe string
	config    StreamConfig
	metrics   *observability.Metrics

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	bars chan *domain.Bar
	done chan struct{}
	wg   sync.WaitGroup
}

// NewKlineStream connects to the stream endpoint and starts reading.
// Closed bars are delivered on Bars() until Close is called.
func NewKlineStream(ctx context.Context, endpoint, symbol, timeframe string, config *StreamConfig, metrics *observability.Metrics) (*KlineStream, error) {
	if domain.TimeframeDurationMs(timeframe) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframe)
	}

	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &KlineStream{
		endpoint:  endpoint,
		symbol:    symbol,
		timeframe: timeframe,
		config:    cfg,
		metrics:   metrics,
		// Buffer absorbs bursts; blocking send ensures no bar loss
		bars: make(chan *domain.Bar, 1000),
		done: make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Bars returns the channel of closed bars.
func (s *KlineStream) Bars() <-chan *domain.Bar {
	return s.bars
}

// streamURL builds the single-stream subscription URL, e.g.
// wss://host/ws/btcusdt@kline_1h.
func (s *KlineStream) streamURL() string {
	name := strings.ToLower(exchangeSymbol(s.symbol))
	return fmt.Sprintf("%s/ws/%s@kline_%s", s.endpoint, name, s.timeframe)
}

// connect establishes the WebSocket connection.
func (s *KlineStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Close closes the connection and the bar channel.
func (s *KlineStream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.bars)
	return nil
}

// readLoop reads messages and reconnects on failure.
func (s *KlineStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect(reconnectDelay) {
				return
			}
			reconnectDelay = nextDelay(reconnectDelay, s.config.MaxReconnectDelay)
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			s.connMu.Lock()
			if s.conn != nil {
				s.conn.Close()
				s.conn = nil
			}
			s.connMu.Unlock()
			continue
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect waits for the backoff delay and dials again. Returns false
// when the stream has been closed.
func (s *KlineStream) reconnect(delay time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Dial failed, will retry with a longer delay
		return true
	}

	if s.metrics != nil {
		s.metrics.StreamReconnects.Inc()
	}
	return true
}

func nextDelay(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		delay = max
	}
	return delay
}

// handleMessage parses a kline event and emits the bar once closed.
func (s *KlineStream) handleMessage(message []byte) {
	var event klineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if event.EventType != "kline" || !event.Kline.Closed {
		return
	}

	bar, err := event.Kline.toBar()
	if err != nil {
		return
	}

	if s.metrics != nil {
		s.metrics.StreamBarsTotal.Inc()
	}

	// Block until we can send - never drop bars
	select {
	case s.bars <- bar:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *KlineStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}

// Kline stream message types

type klineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime int64  `json:"t"`
	Interval string `json:"i"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

func (k *klinePayload) toBar() (*domain.Bar, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	vals := [5]float64{}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline field: %w", err)
		}
		vals[i] = v
	}

	return &domain.Bar{
		TimestampMs: k.OpenTime,
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		Volume:      vals[4],
	}, nil
}
