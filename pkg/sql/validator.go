// Package sql provides the statement safety validator and query rewriter.
//
// The validator is purely structural: it never executes or explains a query.
// Ambiguous or unparseable input is always rejected (fail closed).
package sql

import (
	"fmt"
	"strings"

	"github.com/sqlgate/sqlgate/pkg/apperrors"
	"github.com/sqlgate/sqlgate/pkg/models"
)

// Verdict is the result of validating a candidate statement.
// When Err is nil the statement was accepted: NormalizedSQL holds the
// whitespace-collapsed, semicolon-stripped form and Kind its classification.
// When Err is non-nil, Reason carries the stable rejection code.
type Verdict struct {
	NormalizedSQL string
	Kind          models.StatementKind
	Reason        models.RejectionReason
	Err           error

	// Injection is set when the rejection was triggered by an injection
	// pattern inside a string literal.
	Injection *InjectionHit
}

// Accepted reports whether the statement passed validation.
func (v Verdict) Accepted() bool {
	return v.Err == nil
}

// forbiddenKeywords are statement keywords that can mutate state or escape
// the read-only sandbox. Their presence anywhere outside string literals is
// a rejection: a data-modifying CTE (WITH x AS (DELETE ...)) or a trailing
// FOR UPDATE lock are as forbidden as a top-level INSERT.
var forbiddenKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {},
	"truncate": {}, "create": {}, "grant": {}, "revoke": {}, "merge": {},
	"call": {}, "do": {}, "copy": {}, "vacuum": {}, "analyze": {},
	"set": {}, "reset": {}, "begin": {}, "commit": {}, "rollback": {},
	"lock": {}, "listen": {}, "notify": {}, "prepare": {}, "execute": {},
	"declare": {}, "reindex": {}, "cluster": {}, "comment": {},
}

// forbiddenFunctions are functions that mutate state or reach outside the
// database even when wrapped in a SELECT.
var forbiddenFunctions = map[string]struct{}{
	"nextval": {}, "setval": {}, "set_config": {},
	"pg_advisory_lock": {}, "pg_advisory_xact_lock": {},
	"pg_terminate_backend": {}, "pg_cancel_backend": {}, "pg_reload_conf": {},
	"pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"lo_import": {}, "lo_export": {},
	"dblink": {}, "dblink_exec": {},
}

// Validate classifies a candidate SQL string by statement kind and rejects
// anything that is not a single read query.
//
// The checks, in order:
//  1. Structural scan: unterminated strings are UNPARSEABLE_INPUT.
//  2. Comment sequences (--, /*) outside strings are FORBIDDEN_CONSTRUCT;
//     generated queries have no business carrying comments and they are the
//     classic vehicle for masking a second statement.
//  3. Any semicolon remaining after the trailing one is stripped means a
//     multi-statement batch: FORBIDDEN_STATEMENT regardless of what follows.
//  4. The top-level keyword must be SELECT or WITH; a WITH must resolve to a
//     SELECT. Everything else is FORBIDDEN_STATEMENT.
//  5. Mutating keywords or known mutating functions anywhere in the
//     statement, and injection patterns inside string literals, are
//     FORBIDDEN_CONSTRUCT.
func Validate(sqlQuery string) Verdict {
	normalized := collapseWhitespace(sqlQuery)
	normalized = stripTrailingSemicolon(normalized)

	if normalized == "" {
		return reject(models.ReasonUnparseableInput, apperrors.ErrUnparseableInput)
	}

	scan := scanStatement(normalized)

	if scan.unterminatedString {
		return reject(models.ReasonUnparseableInput, apperrors.ErrUnparseableInput)
	}
	if scan.hasComment {
		return rejectf(models.ReasonForbiddenConstruct, "comment sequence in statement")
	}
	if scan.hasBareSemicolon {
		return rejectf(models.ReasonForbiddenStatement, "multiple statements in batch")
	}
	if len(scan.tokens) == 0 {
		return reject(models.ReasonUnparseableInput, apperrors.ErrUnparseableInput)
	}

	kind, ok := classifyStatement(scan.tokens, normalized)
	if !ok {
		return reject(models.ReasonForbiddenStatement, apperrors.ErrForbiddenStatement)
	}

	for _, token := range scan.tokens {
		if _, bad := forbiddenKeywords[token]; bad {
			return rejectf(models.ReasonForbiddenConstruct, "forbidden keyword %q", token)
		}
		if _, bad := forbiddenFunctions[token]; bad {
			return rejectf(models.ReasonForbiddenConstruct, "forbidden function %q", token)
		}
	}

	if hit := CheckLiteralsForInjection(scan.literals); hit != nil {
		verdict := rejectf(models.ReasonForbiddenConstruct, "injection pattern in literal (fingerprint %s)", hit.Fingerprint)
		verdict.Injection = hit
		return verdict
	}

	return Verdict{NormalizedSQL: normalized, Kind: kind}
}

// classifyStatement inspects the statement head. SELECT is a plain read;
// WITH is accepted only when the top-level statement after the CTE list is
// itself a SELECT. A SELECT token inside a CTE body does not qualify:
// WITH t AS (SELECT 1) VALUES (2) is not a SELECT_WITH_CTE.
func classifyStatement(tokens []string, normalizedSQL string) (models.StatementKind, bool) {
	switch tokens[0] {
	case "select":
		return models.StatementSelect, true
	case "with":
		if statementAfterCTEs(normalizedSQL) == "select" {
			return models.StatementSelectWithCTE, true
		}
		return "", false
	default:
		return "", false
	}
}

// statementAfterCTEs walks a WITH statement and returns the lowercased
// keyword of the top-level statement following the CTE definitions, or ""
// when none is found. Each CTE is name [(columns)] AS (body); the keyword is
// the first word after a depth-zero close paren that is not a column-list
// "as" continuation or a comma starting the next CTE.
func statementAfterCTEs(normalizedSQL string) string {
	depth := 0
	state := stateNormal
	var prev byte

	for i := 0; i < len(normalizedSQL); i++ {
		char := normalizedSQL[i]
		switch state {
		case stateNormal:
			switch char {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					rest := strings.TrimLeft(normalizedSQL[i+1:], " ")
					if strings.HasPrefix(rest, ",") {
						continue
					}
					word := strings.ToLower(leadingWord(rest))
					if word == "as" {
						// Close of a CTE column list; the body follows.
						continue
					}
					return word
				}
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = char
	}
	return ""
}

func leadingWord(s string) string {
	for i, char := range s {
		if !isWordRune(char) {
			return s[:i]
		}
	}
	return s
}

func reject(reason models.RejectionReason, err error) Verdict {
	return Verdict{Reason: reason, Err: err}
}

func rejectf(reason models.RejectionReason, format string, args ...any) Verdict {
	base := apperrors.ErrForbiddenConstruct
	if reason == models.ReasonForbiddenStatement {
		base = apperrors.ErrForbiddenStatement
	}
	return Verdict{Reason: reason, Err: fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))}
}
