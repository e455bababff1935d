package idhash

import "testing"

func TestComputeTradeID_Deterministic(t *testing.T) {
	a := ComputeTradeID("BTC/USDT", "1h", "SMA_CROSS_10_30", 1700000000000)
	b := ComputeTradeID("BTC/USDT", "1h", "SMA_CROSS_10_30", 1700000000000)

	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64-char hex ID, got %d chars", len(a))
	}
}

func TestComputeTradeID_DistinctInputs(t *testing.T) {
	base := ComputeTradeID("BTC/USDT", "1h", "SMA_CROSS_10_30", 1700000000000)

	variants := []string{
		ComputeTradeID("ETH/USDT", "1h", "SMA_CROSS_10_30", 1700000000000),
		ComputeTradeID("BTC/USDT", "4h", "SMA_CROSS_10_30", 1700000000000),
		ComputeTradeID("BTC/USDT", "1h", "SMA_CROSS_5_20", 1700000000000),
		ComputeTradeID("BTC/USDT", "1h", "SMA_CROSS_10_30", 1700000060000),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base ID", i)
		}
	}
}

func TestComputeRunID_Deterministic(t *testing.T) {
	a := ComputeRunID("BTC/USDT", "1d", "RSI_REVERSION_14_30_70", 1, 2)
	b := ComputeRunID("BTC/USDT", "1d", "RSI_REVERSION_14_30_70", 1, 2)

	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
	if a == ComputeRunID("BTC/USDT", "1d", "RSI_REVERSION_14_30_70", 1, 3) {
		t.Error("different ranges must produce different run IDs")
	}
}
