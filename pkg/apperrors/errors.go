package apperrors

import "errors"

var (
	// ErrForbiddenStatement indicates the top-level statement is not a read query.
	ErrForbiddenStatement = errors.New("only read-only SELECT queries are permitted")
	// ErrForbiddenConstruct indicates a read-shaped statement that can still mutate state.
	ErrForbiddenConstruct = errors.New("statement contains a forbidden construct")
	// ErrUnparseableInput indicates structurally invalid SQL; rejected fail-closed.
	ErrUnparseableInput = errors.New("statement could not be parsed")
	// ErrGenerationFailure indicates the external model call failed; never cached.
	ErrGenerationFailure = errors.New("SQL generation failed")
	// ErrSchemaMismatch indicates a caller-pinned schema fingerprint is
	// stale. Reserved for callers that pin a fingerprint across requests;
	// the bundled service introspects per request and never returns it.
	ErrSchemaMismatch = errors.New("schema fingerprint does not match current schema")
)
