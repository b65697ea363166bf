package sql

import (
	"regexp"
	"strings"
)

// SelectColumn is one entry of a SELECT list.
type SelectColumn struct {
	Output string // result-set column name (alias if present)
	Source string // underlying column name, "" when not a plain column reference
	Expr   string // the full expression as written
	Star   bool   // true for * or table.*
}

// SelectShape is the statically determined structure of a simple SELECT.
// Ok is false when the statement is too complex to analyze (joins,
// subqueries, set operations, CTEs); the rewriter then falls back to
// result-layer masking.
type SelectShape struct {
	Ok        bool
	BaseTable string
	Columns   []SelectColumn
	Star      bool
}

var asAliasPattern = regexp.MustCompile(`(?i)\s+as\s+("?[\w]+"?)\s*$`)

// ParseSelectShape extracts the SELECT list and base table from a normalized
// single-table SELECT. It is a deliberately small structural parser for the
// common shapes a NL-to-SQL model emits; anything it cannot prove simple is
// reported as not Ok so the caller can take the conservative path.
func ParseSelectShape(normalizedSQL string) SelectShape {
	sqlLower := strings.ToLower(normalizedSQL)

	if !strings.HasPrefix(sqlLower, "select ") {
		return SelectShape{}
	}

	// Set operations and joins make the output column set non-obvious.
	for _, marker := range []string{" join ", " union ", " intersect ", " except "} {
		if strings.Contains(sqlLower, marker) {
			return SelectShape{}
		}
	}

	fromIdx := indexAtDepthZero(sqlLower, " from ")
	if fromIdx == -1 {
		return SelectShape{}
	}

	selectClause := strings.TrimSpace(normalizedSQL[len("select "):fromIdx])
	if selectClause == "" {
		return SelectShape{}
	}
	if strings.HasPrefix(strings.ToLower(selectClause), "distinct ") {
		selectClause = strings.TrimSpace(selectClause[len("distinct "):])
	}

	// A subquery in the SELECT list defeats static analysis.
	if strings.Contains(strings.ToLower(selectClause), "select") {
		return SelectShape{}
	}

	rest := strings.TrimSpace(normalizedSQL[fromIdx+len(" from "):])
	baseTable, ok := parseBaseTable(rest)
	if !ok {
		return SelectShape{}
	}

	shape := SelectShape{Ok: true, BaseTable: baseTable}
	for _, raw := range splitSelectList(selectClause) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		col := parseSelectColumn(raw)
		if col.Star {
			shape.Star = true
		}
		shape.Columns = append(shape.Columns, col)
	}
	if len(shape.Columns) == 0 {
		return SelectShape{}
	}
	return shape
}

// indexAtDepthZero finds the first occurrence of marker outside parentheses
// and string literals.
func indexAtDepthZero(sqlLower, marker string) int {
	depth := 0
	state := stateNormal
	prevChar := rune(0)
	runes := []rune(sqlLower)

	for i := range runes {
		char := runes[i]
		switch state {
		case stateNormal:
			switch char {
			case '(':
				depth++
			case ')':
				depth--
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
			if depth == 0 && strings.HasPrefix(string(runes[i:]), marker) {
				return i
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}
	return -1
}

// parseBaseTable reads the table reference after FROM. Only a bare table
// name with an optional alias qualifies; a subquery or comma-join does not.
func parseBaseTable(rest string) (string, bool) {
	if rest == "" || strings.HasPrefix(rest, "(") {
		return "", false
	}
	if strings.Contains(rest, ",") {
		// Comma before any clause keyword means an implicit join.
		commaIdx := strings.Index(rest, ",")
		clauseIdx := firstClauseIndex(strings.ToLower(rest))
		if clauseIdx == -1 || commaIdx < clauseIdx {
			return "", false
		}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	table := strings.Trim(fields[0], `"`)
	if table == "" {
		return "", false
	}
	// Strip a schema qualifier: public.customers -> customers.
	if dotIdx := strings.LastIndex(table, "."); dotIdx != -1 {
		table = table[dotIdx+1:]
	}
	return strings.ToLower(table), true
}

func firstClauseIndex(restLower string) int {
	idx := -1
	for _, kw := range []string{" where ", " group ", " order ", " limit ", " having ", " offset "} {
		if i := strings.Index(restLower, kw); i != -1 && (idx == -1 || i < idx) {
			idx = i
		}
	}
	return idx
}

// splitSelectList splits a SELECT list on commas, respecting parentheses.
func splitSelectList(selectClause string) []string {
	var columns []string
	var current strings.Builder
	parenDepth := 0

	for _, char := range selectClause {
		switch char {
		case '(':
			parenDepth++
			current.WriteRune(char)
		case ')':
			parenDepth--
			current.WriteRune(char)
		case ',':
			if parenDepth == 0 {
				columns = append(columns, current.String())
				current.Reset()
			} else {
				current.WriteRune(char)
			}
		default:
			current.WriteRune(char)
		}
	}
	if current.Len() > 0 {
		columns = append(columns, current.String())
	}
	return columns
}

// parseSelectColumn determines the output name and, for plain column
// references, the underlying source column.
func parseSelectColumn(expr string) SelectColumn {
	expr = strings.TrimSpace(expr)

	if expr == "*" || strings.HasSuffix(expr, ".*") {
		return SelectColumn{Output: "*", Expr: expr, Star: true}
	}

	// Explicit AS alias wins as the output name.
	if matches := asAliasPattern.FindStringSubmatch(expr); matches != nil {
		alias := strings.ToLower(strings.Trim(matches[1], `"`))
		base := strings.TrimSpace(expr[:len(expr)-len(matches[0])])
		return SelectColumn{
			Output: alias,
			Source: plainColumnName(base),
			Expr:   expr,
		}
	}

	// Implicit alias: "salary annual" -> output annual. Only when the
	// expression has balanced parens and the final word is bare.
	if strings.Count(expr, "(") == strings.Count(expr, ")") {
		parts := strings.Fields(expr)
		if len(parts) > 1 {
			last := parts[len(parts)-1]
			if !strings.ContainsAny(last, "()") {
				return SelectColumn{
					Output: strings.ToLower(strings.Trim(last, `"`)),
					Source: plainColumnName(strings.Join(parts[:len(parts)-1], " ")),
					Expr:   expr,
				}
			}
		}
	}

	name := plainColumnName(expr)
	if name == "" {
		// An expression without an alias: derive the output name the way
		// the database would for a bare function call.
		if matches := regexp.MustCompile(`^(\w+)\s*\(`).FindStringSubmatch(expr); matches != nil {
			return SelectColumn{Output: strings.ToLower(matches[1]), Expr: expr}
		}
		return SelectColumn{Output: strings.ToLower(expr), Expr: expr}
	}
	return SelectColumn{Output: name, Source: name, Expr: expr}
}

// plainColumnName returns the bare column name for a simple (possibly
// table-qualified, possibly quoted) column reference, or "" for anything
// more complex.
func plainColumnName(expr string) string {
	expr = strings.TrimSpace(expr)
	if dotIdx := strings.LastIndex(expr, "."); dotIdx != -1 {
		expr = expr[dotIdx+1:]
	}
	expr = strings.Trim(expr, `"`)
	if expr == "" {
		return ""
	}
	for _, char := range expr {
		if char != '_' && !isWordRune(char) {
			return ""
		}
	}
	return strings.ToLower(expr)
}

func isWordRune(char rune) bool {
	return char == '_' ||
		(char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9')
}
