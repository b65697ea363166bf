package models

// StatementKind classifies an accepted statement.
type StatementKind string

const (
	// StatementSelect is a plain SELECT statement.
	StatementSelect StatementKind = "SELECT"
	// StatementSelectWithCTE is a WITH ... SELECT statement.
	StatementSelectWithCTE StatementKind = "SELECT_WITH_CTE"
)

// RejectionReason is a stable code the caller can map to a user-facing
// message without re-deriving it from free text.
type RejectionReason string

const (
	ReasonForbiddenStatement RejectionReason = "FORBIDDEN_STATEMENT"
	ReasonForbiddenConstruct RejectionReason = "FORBIDDEN_CONSTRUCT"
	ReasonUnparseableInput   RejectionReason = "UNPARSEABLE_INPUT"
)

// CandidateQuery is the raw SQL proposed by the model for a question.
// It is transient and discarded after validation.
type CandidateQuery struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// RewrittenQuery is the final SQL guaranteed safe to execute, plus the
// columns the caller must strip from the result set when static rewriting
// was not possible.
type RewrittenQuery struct {
	SQL               string        `json:"sql"`
	Kind              StatementKind `json:"kind"`
	SuppressedColumns []string      `json:"suppressed_columns,omitempty"`
}
