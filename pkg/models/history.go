package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryRecord is one immutable entry in the pipeline decision trail.
// Accepted records carry the normalized SQL that was admitted; rejected
// records carry the offending candidate and the rejection reason.
type HistoryRecord struct {
	ID        uuid.UUID        `json:"id"`
	Question  string           `json:"question"`
	SQL       string           `json:"sql"`
	Mode      ConfidentialMode `json:"mode"`
	Accepted  bool             `json:"accepted"`
	Reason    *RejectionReason `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// HistoryFilters narrows history listings.
type HistoryFilters struct {
	AcceptedOnly bool
	Since        *time.Time
	Limit        int
}
