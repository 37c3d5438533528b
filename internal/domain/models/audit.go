package models

import (
	"time"

	"github.com/turtacn/admit/pkg/constants"
)

// RejectionEvent records one rejected admission for the audit stream.
type RejectionEvent struct {
	Route      string               `json:"route"`
	ClientKey  string               `json:"client_key"`
	Class      constants.RouteClass `json:"class"`
	Limit      uint64               `json:"limit"`
	ResetAt    time.Time            `json:"reset_at"`
	OccurredAt time.Time            `json:"occurred_at"`
	RequestID  string               `json:"request_id,omitempty"`
}
