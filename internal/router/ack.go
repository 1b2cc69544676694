package router

import "chat-realtime/internal/models"

// Ack error codes surfaced to clients. Store and not-found failures share
// deliberately coarse codes so backend details and resource existence do not
// leak.
const (
	CodeNotAuthorized    = "not_authorized"
	CodeValidationError  = "validation_error"
	CodeStoreUnavailable = "store_unavailable"
)

// Ack is the per-event result returned to the originating connection. Other
// participants never observe a failed event.
type Ack struct {
	Event   string          `json:"event"`
	Status  string          `json:"status"`
	Code    string          `json:"code,omitempty"`
	Message *models.Message `json:"message,omitempty"`
}

func okAck(event string) Ack {
	return Ack{Event: event, Status: "ok"}
}

func errAck(event, code string) Ack {
	return Ack{Event: event, Status: "error", Code: code}
}

// OK reports whether the event succeeded.
func (a Ack) OK() bool {
	return a.Status == "ok"
}
