package feed

// Guard enforces per-stream emission ordering. Exchanges may redeliver after
// reconnects; everything at or before the high-water mark is rejected so
// downstream consumers never see duplicates or regressions.
//
// Events are ordered by (timestamp, seq): seq is the exchange sequence number
// (trade id, aggregate id) and breaks same-millisecond ties. Kinds without a
// sequence number pass seq 0 and are deduplicated on timestamp alone.
type Guard struct {
	lastTime int64
	lastSeq  int64
	started  bool
}

// Admit reports whether the event advances the stream. Rejected events must
// be dropped, not reordered.
func (g *Guard) Admit(timestamp, seq int64) bool {
	if !g.started {
		g.started = true
		g.lastTime = timestamp
		g.lastSeq = seq
		return true
	}
	if timestamp < g.lastTime {
		return false
	}
	if timestamp == g.lastTime && seq <= g.lastSeq {
		return false
	}
	g.lastTime = timestamp
	g.lastSeq = seq
	return true
}
