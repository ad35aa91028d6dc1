package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TradeID computes a deterministic trade identifier using SHA256.
// Formula: SHA256(session_id|symbol|seq|entry_time)
// Returns hex-encoded hash (64 characters).
//
// seq is the session-local trade counter, so replaying the same event
// sequence against the same config reproduces the same trade ids.
func TradeID(sessionID, symbol string, seq int, entryTime int64) string {
	data := fmt.Sprintf("%s|%s|%d|%d", sessionID, symbol, seq, entryTime)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// PositionID computes a deterministic position identifier.
// Formula: SHA256(session_id|symbol|side|seq|entry_time), hex-encoded.
func PositionID(sessionID, symbol, side string, seq int, entryTime int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d", sessionID, symbol, side, seq, entryTime)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
