package sql

import (
	"strings"
	"unicode"
)

// scanner states for walking SQL while respecting string literals.
const (
	stateNormal = iota
	stateSingleQuote
	stateDoubleQuote
)

// scanResult is the structural summary produced by scanStatement.
type scanResult struct {
	// hasBareSemicolon is true if a semicolon appears outside string literals.
	hasBareSemicolon bool
	// hasComment is true if a -- or /* sequence appears outside string literals.
	hasComment bool
	// unterminatedString is true if the statement ends inside a string literal.
	unterminatedString bool
	// literals holds the contents of every string literal, for injection checks.
	literals []string
	// tokens holds every bare word outside string literals, lowercased.
	tokens []string
}

// scanStatement walks the SQL once, tracking string-literal state, and
// collects the structural facts the validator needs. Both backslash escapes
// (\') and SQL standard doubled quotes ('') are handled.
func scanStatement(sqlQuery string) scanResult {
	var res scanResult
	var literal strings.Builder
	var token strings.Builder

	state := stateNormal
	prevChar := rune(0)
	runes := []rune(sqlQuery)

	flushToken := func() {
		if token.Len() > 0 {
			res.tokens = append(res.tokens, strings.ToLower(token.String()))
			token.Reset()
		}
	}

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		switch state {
		case stateNormal:
			switch {
			case char == ';':
				res.hasBareSemicolon = true
				flushToken()
			case char == '\'':
				flushToken()
				state = stateSingleQuote
				literal.Reset()
			case char == '"':
				flushToken()
				state = stateDoubleQuote
				literal.Reset()
			case char == '-' && i+1 < len(runes) && runes[i+1] == '-':
				res.hasComment = true
				flushToken()
			case char == '/' && i+1 < len(runes) && runes[i+1] == '*':
				res.hasComment = true
				flushToken()
			case char == '_' || unicode.IsLetter(char) || unicode.IsDigit(char):
				token.WriteRune(char)
			default:
				flushToken()
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				// A doubled quote ('') exits and immediately re-enters the
				// string, which keeps the scan consistent.
				state = stateNormal
				res.literals = append(res.literals, literal.String())
			} else {
				literal.WriteRune(char)
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
				res.literals = append(res.literals, literal.String())
			} else {
				literal.WriteRune(char)
			}
		}
		prevChar = char
	}
	flushToken()

	if state != stateNormal {
		res.unterminatedString = true
	}

	return res
}

// collapseWhitespace rewrites the statement with runs of whitespace outside
// string literals collapsed to single spaces. String contents are preserved
// byte for byte.
func collapseWhitespace(sqlQuery string) string {
	var out strings.Builder
	state := stateNormal
	prevChar := rune(0)
	pendingSpace := false

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			if unicode.IsSpace(char) {
				pendingSpace = true
				prevChar = char
				continue
			}
			if pendingSpace {
				if out.Len() > 0 {
					out.WriteRune(' ')
				}
				pendingSpace = false
			}
			switch char {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
			out.WriteRune(char)
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
			out.WriteRune(char)
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
			out.WriteRune(char)
		}
		prevChar = char
	}

	return out.String()
}

// stripTrailingSemicolon removes a single trailing semicolon and any
// surrounding whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
