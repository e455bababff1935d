package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// klineRow builds one klines payload row for a bar opening at ts.
func klineRow(ts int64, open, high, low, close, volume float64) []interface{} {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []interface{}{
		ts, f(open), f(high), f(low), f(close), f(volume),
		ts + 59_999, "0", 0, "0", "0", "0",
	}
}

func writeKlines(t *testing.T, w http.ResponseWriter, rows [][]interface{}) {
	t.Helper()
	if rows == nil {
		rows = [][]interface{}{}
	}
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		t.Errorf("encode klines: %v", err)
	}
}

func TestHTTPClient_FetchBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("expected symbol BTCUSDT, got %s", got)
		}
		if got := r.URL.Query().Get("interval"); got != "1m" {
			t.Errorf("expected interval 1m, got %s", got)
		}

		writeKlines(t, w, [][]interface{}{
			klineRow(60_000, 100, 101, 99, 100.5, 12),
			klineRow(120_000, 100.5, 102, 100, 101, 8),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	bars, err := client.FetchBars(context.Background(), "BTC/USDT", "1m", 60_000, 120_000)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].TimestampMs != 60_000 {
		t.Errorf("expected timestamp 60000, got %d", bars[0].TimestampMs)
	}
	if bars[0].Close != 100.5 {
		t.Errorf("expected close 100.5, got %f", bars[0].Close)
	}
	if bars[1].Volume != 8 {
		t.Errorf("expected volume 8, got %f", bars[1].Volume)
	}
}

func TestHTTPClient_Pagination(t *testing.T) {
	var requests []int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		if err != nil {
			t.Errorf("parse startTime: %v", err)
		}
		requests = append(requests, start)

		// Two full pages of 2 bars, then a short page of 1
		var rows [][]interface{}
		limit := 2
		for i := 0; i < limit; i++ {
			ts := start + int64(i)*60_000
			if ts > 300_000 {
				break
			}
			rows = append(rows, klineRow(ts, 100, 101, 99, 100, 1))
		}
		writeKlines(t, w, rows)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithPageLimit(2))

	bars, err := client.FetchBars(context.Background(), "BTC/USDT", "1m", 60_000, 300_000)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}

	if len(bars) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].TimestampMs <= bars[i-1].TimestampMs {
			t.Errorf("bars out of order at %d", i)
		}
	}

	// Page cursors: 60000, 180000, 300000
	want := []int64{60_000, 180_000, 300_000}
	if len(requests) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(requests))
	}
	for i, ts := range want {
		if requests[i] != ts {
			t.Errorf("request %d: expected startTime %d, got %d", i, ts, requests[i])
		}
	}
}

func TestHTTPClient_EmptyWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeKlines(t, w, nil)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	bars, err := client.FetchBars(context.Background(), "BTC/USDT", "1m", 60_000, 120_000)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("expected no bars, got %d", len(bars))
	}
}

func TestHTTPClient_RetryOnRateLimit(t *testing.T) {
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeKlines(t, w, [][]interface{}{
			klineRow(60_000, 100, 101, 99, 100, 1),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	bars, err := client.FetchBars(context.Background(), "BTC/USDT", "1m", 60_000, 60_000)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(1),
		WithRetryDelay(10*time.Millisecond),
	)

	_, err := client.FetchBars(context.Background(), "BTC/USDT", "1m", 60_000, 60_000)
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestHTTPClient_MalformedPayloadNotRetried(t *testing.T) {
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		fmt.Fprint(w, `{"not": "klines"}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	_, err := client.FetchBars(context.Background(), "BTC/USDT", "1m", 60_000, 60_000)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if attempts != 1 {
		t.Errorf("malformed payload should not be retried, got %d attempts", attempts)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(10),
		WithRetryDelay(1*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchBars(ctx, "BTC/USDT", "1m", 60_000, 60_000)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestExchangeSymbol(t *testing.T) {
	if got := exchangeSymbol("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("expected BTCUSDT, got %s", got)
	}
	if got := exchangeSymbol("ETHUSDT"); got != "ETHUSDT" {
		t.Errorf("expected ETHUSDT, got %s", got)
	}
}
