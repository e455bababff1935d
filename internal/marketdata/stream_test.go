package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func streamTestServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/btcusdt@kline_1m" {
			t.Errorf("unexpected stream path %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, wsURL
}

func keepOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestKlineStream_EmitsClosedBars(t *testing.T) {
	server, wsURL := streamTestServer(t, func(conn *websocket.Conn) {
		// One open kline (ignored), then the closed one
		open := klineEvent{
			EventType: "kline",
			Symbol:    "BTCUSDT",
			Kline: klinePayload{
				OpenTime: 60_000, Interval: "1m",
				Open: "100", High: "101", Low: "99", Close: "100.2", Volume: "5",
				Closed: false,
			},
		}
		closed := open
		closed.Kline.Close = "100.5"
		closed.Kline.Volume = "12"
		closed.Kline.Closed = true

		if err := conn.WriteJSON(open); err != nil {
			return
		}
		if err := conn.WriteJSON(closed); err != nil {
			return
		}
		keepOpen(conn)
	})
	defer server.Close()

	stream, err := NewKlineStream(context.Background(), wsURL, "BTC/USDT", "1m", nil, nil)
	if err != nil {
		t.Fatalf("NewKlineStream: %v", err)
	}
	defer stream.Close()

	select {
	case bar := <-stream.Bars():
		if bar.TimestampMs != 60_000 {
			t.Errorf("expected timestamp 60000, got %d", bar.TimestampMs)
		}
		if bar.Close != 100.5 {
			t.Errorf("expected close 100.5, got %f", bar.Close)
		}
		if bar.Volume != 12 {
			t.Errorf("expected volume 12, got %f", bar.Volume)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bar")
	}

	// Open kline must not have been emitted
	select {
	case bar := <-stream.Bars():
		t.Errorf("unexpected extra bar: %+v", bar)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKlineStream_Close(t *testing.T) {
	server, wsURL := streamTestServer(t, keepOpen)
	defer server.Close()

	stream, err := NewKlineStream(context.Background(), wsURL, "BTC/USDT", "1m", nil, nil)
	if err != nil {
		t.Fatalf("NewKlineStream: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	// Bar channel is closed after shutdown
	select {
	case _, ok := <-stream.Bars():
		if ok {
			t.Error("expected closed bar channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	// Double close should be safe
	if err := stream.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestKlineStream_Reconnect(t *testing.T) {
	var connects int

	server, wsURL := streamTestServer(t, func(conn *websocket.Conn) {
		connects++
		if connects == 1 {
			// Drop the first connection immediately
			conn.Close()
			return
		}
		event := klineEvent{
			EventType: "kline",
			Symbol:    "BTCUSDT",
			Kline: klinePayload{
				OpenTime: 120_000, Interval: "1m",
				Open: "100", High: "101", Low: "99", Close: "100.5", Volume: "3",
				Closed: true,
			},
		}
		if err := conn.WriteJSON(event); err != nil {
			return
		}
		keepOpen(conn)
	})
	defer server.Close()

	config := DefaultStreamConfig()
	config.ReconnectDelay = 50 * time.Millisecond

	stream, err := NewKlineStream(context.Background(), wsURL, "BTC/USDT", "1m", &config, nil)
	if err != nil {
		t.Fatalf("NewKlineStream: %v", err)
	}
	defer stream.Close()

	select {
	case bar := <-stream.Bars():
		if bar.TimestampMs != 120_000 {
			t.Errorf("expected timestamp 120000, got %d", bar.TimestampMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for bar after reconnect")
	}

	if connects < 2 {
		t.Errorf("expected a reconnect, got %d connections", connects)
	}
}

func TestKlineStream_RejectsUnknownTimeframe(t *testing.T) {
	_, err := NewKlineStream(context.Background(), "ws://localhost", "BTC/USDT", "7m", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown timeframe")
	}
}
