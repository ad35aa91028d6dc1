package domain

// SessionEventType classifies engine notifications.
type SessionEventType string

const (
	EventPositionOpened SessionEventType = "position_opened"
	EventPositionClosed SessionEventType = "position_closed"
	EventEquitySample   SessionEventType = "equity_sample"
	EventAlert          SessionEventType = "alert"
)

// SessionEvent is emitted by the simulation engine on session transitions.
// Consumers (notification layer, recorder) receive copies; exactly one of
// Position, Trade, Equity is set depending on Type.
type SessionEvent struct {
	Type      SessionEventType
	SessionID string
	Symbol    string
	Timestamp int64 // Unix ms

	Position *Position    // position_opened
	Trade    *ClosedTrade // position_closed
	Equity   *EquityPoint // equity_sample
	Message  string       // alert
}
