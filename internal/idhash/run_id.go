package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeRunID computes a deterministic run_id using SHA256.
// Formula: SHA256(symbol|timeframe|strategy_id|start_ms|end_ms)
// Returns hex-encoded hash (64 characters).
func ComputeRunID(symbol, timeframe, strategyID string, startMs, endMs int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		symbol,
		timeframe,
		strategyID,
		startMs,
		endMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
