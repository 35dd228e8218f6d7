package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionSubmit     Action = "submit"
	ActionBackground Action = "background"
	ActionPing       Action = "ping"
)

// RequestPayload carries every client action. QID and Answer are only set
// for ActionAnswer.
type RequestPayload struct {
	Action Action `json:"action"`
	QID    string `json:"q_id,omitempty"`
	Answer string `json:"ans,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventFinalized Event = "finalized"
	EventPong      Event = "pong"
)

// SavedResponse acknowledges a stored answer.
type SavedResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// FinalizedResponse reports the frozen outcome of a submitted attempt.
type FinalizedResponse struct {
	Event      Event   `json:"event"`
	Cause      string  `json:"cause"`
	Score      int     `json:"score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
}

// ErrorResponse reports a failed action.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

// PongResponse answers a keepalive ping with the authoritative timer.
type PongResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}
