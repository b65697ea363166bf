package sql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/policy"
)

// Rewrite produces the SQL actually allowed to run for an accepted verdict.
//
// In open mode the normalized statement passes through unchanged. In
// confidential mode no column in the policy may appear in the result set:
//
//   - When the statement is a simple single-table SELECT whose column set is
//     statically determinable, the original is wrapped in an outer projection
//     that excludes the sensitive columns.
//   - Otherwise the rewriter conservatively records the sensitive column
//     names for the caller to strip from the result rows post-execution.
//
// The rewritten statement never changes kind and always re-passes Validate.
func Rewrite(
	verdict Verdict,
	set *policy.ConfidentialColumnSet,
	desc *models.SchemaDescription,
	mode models.ConfidentialMode,
) (models.RewrittenQuery, error) {
	if !verdict.Accepted() {
		return models.RewrittenQuery{}, fmt.Errorf("cannot rewrite a rejected statement: %w", verdict.Err)
	}

	if mode != models.ModeConfidential || set == nil || set.Len() == 0 {
		return models.RewrittenQuery{SQL: verdict.NormalizedSQL, Kind: verdict.Kind}, nil
	}

	// CTE statements keep their top-level WITH; wrapping would change the
	// statement shape, so they take the result-layer masking path.
	if verdict.Kind == models.StatementSelectWithCTE {
		return maskAtResultLayer(verdict, set), nil
	}

	shape := ParseSelectShape(verdict.NormalizedSQL)
	if !shape.Ok {
		return maskAtResultLayer(verdict, set), nil
	}

	projection, suppressed, ok := projectColumns(shape, set, desc)
	if !ok {
		return maskAtResultLayer(verdict, set), nil
	}
	if len(suppressed) == 0 {
		// Nothing sensitive selected; run as-is.
		return models.RewrittenQuery{SQL: verdict.NormalizedSQL, Kind: verdict.Kind}, nil
	}

	rewritten := fmt.Sprintf("SELECT %s FROM (%s) AS redacted",
		strings.Join(projection, ", "), verdict.NormalizedSQL)

	// The wrapped statement must itself survive validation; if it does not,
	// fall back to masking rather than run anything questionable.
	if check := Validate(rewritten); !check.Accepted() {
		return maskAtResultLayer(verdict, set), nil
	}

	return models.RewrittenQuery{
		SQL:               rewritten,
		Kind:              verdict.Kind,
		SuppressedColumns: suppressed,
	}, nil
}

// projectColumns computes the outer projection for a statically analyzable
// SELECT. Returns ok=false when the shape defeats exclusion (no safe columns
// left, star over an unknown table, sensitive column hiding in an
// expression).
func projectColumns(
	shape SelectShape,
	set *policy.ConfidentialColumnSet,
	desc *models.SchemaDescription,
) (projection []string, suppressed []string, ok bool) {
	for _, col := range shape.Columns {
		switch {
		case col.Star:
			table := lookupTable(desc, shape.BaseTable)
			if table == nil {
				return nil, nil, false
			}
			for _, schemaCol := range table.Columns {
				if set.IsSensitive(shape.BaseTable, schemaCol.Name) {
					suppressed = append(suppressed, strings.ToLower(schemaCol.Name))
				} else {
					projection = append(projection, strings.ToLower(schemaCol.Name))
				}
			}

		case col.Source != "":
			if set.IsSensitive(shape.BaseTable, col.Source) {
				suppressed = append(suppressed, col.Output)
			} else {
				projection = append(projection, col.Output)
			}

		default:
			// An expression: exclude it if any token references a sensitive
			// column of the base table (SUM(salary) leaks salary).
			if exprTouchesSensitive(col.Expr, shape.BaseTable, set) {
				suppressed = append(suppressed, col.Output)
			} else {
				projection = append(projection, col.Output)
			}
		}
	}

	if len(projection) == 0 {
		return nil, nil, false
	}

	sort.Strings(suppressed)
	return projection, suppressed, true
}

func exprTouchesSensitive(expr, table string, set *policy.ConfidentialColumnSet) bool {
	scan := scanStatement(expr)
	for _, token := range scan.tokens {
		if set.IsSensitive(table, token) {
			return true
		}
	}
	return false
}

// maskAtResultLayer leaves the SQL untouched and hands back every sensitive
// column name that could appear, for the caller to strip from result rows.
// The mask keys on result-set column names, so beyond the schema names of
// every referenced table's sensitive columns it must also carry the output
// alias of any SELECT entry whose expression touches a sensitive column:
// salary AS annual_pay surfaces in the result set as annual_pay, not salary.
// Over-suppression is acceptable; leakage is not.
func maskAtResultLayer(verdict Verdict, set *policy.ConfidentialColumnSet) models.RewrittenQuery {
	seen := make(map[string]struct{})

	scan := scanStatement(verdict.NormalizedSQL)
	for _, token := range scan.tokens {
		for _, col := range set.TableColumns(token) {
			seen[col] = struct{}{}
		}
		if set.IsSensitiveColumn(token) {
			seen[token] = struct{}{}
		}
	}
	for _, output := range aliasedSensitiveOutputs(verdict.NormalizedSQL, set) {
		seen[output] = struct{}{}
	}

	suppressed := make([]string, 0, len(seen))
	for col := range seen {
		suppressed = append(suppressed, col)
	}
	sort.Strings(suppressed)

	return models.RewrittenQuery{
		SQL:               verdict.NormalizedSQL,
		Kind:              verdict.Kind,
		SuppressedColumns: suppressed,
	}
}

// aliasedSensitiveOutputs parses every SELECT list in the statement (outer
// query and CTE bodies alike) and returns the output names of the entries
// that reference a sensitive column of any table. The statement may be a
// join or CTE whose full shape defeats ParseSelectShape; the SELECT list
// split itself works on any text between SELECT and its FROM.
func aliasedSensitiveOutputs(normalizedSQL string, set *policy.ConfidentialColumnSet) []string {
	var outputs []string
	sqlLower := strings.ToLower(normalizedSQL)

	offset := 0
	for {
		idx := strings.Index(sqlLower[offset:], "select ")
		if idx == -1 {
			break
		}
		start := offset + idx
		if start > 0 && isWordRune(rune(sqlLower[start-1])) {
			// Part of a longer identifier, not the keyword.
			offset = start + len("select ")
			continue
		}
		clauseStart := start + len("select ")
		clauseEnd := clauseStart + selectClauseEnd(sqlLower[clauseStart:])

		for _, raw := range splitSelectList(normalizedSQL[clauseStart:clauseEnd]) {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			col := parseSelectColumn(raw)
			switch {
			case col.Star:
			case col.Source != "":
				if set.IsSensitiveColumn(col.Source) {
					outputs = append(outputs, col.Output)
				}
			default:
				if exprTouchesSensitiveAnyTable(col.Expr, set) {
					outputs = append(outputs, col.Output)
				}
			}
		}
		offset = clauseStart
	}
	return outputs
}

// selectClauseEnd returns the length of the SELECT list: up to the FROM of
// this query level, the paren closing a subquery, or the end of the input.
func selectClauseEnd(sqlLower string) int {
	depth := 0
	state := stateNormal
	var prev byte

	for i := 0; i < len(sqlLower); i++ {
		char := sqlLower[i]
		switch state {
		case stateNormal:
			switch char {
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return i
				}
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
			if depth == 0 && strings.HasPrefix(sqlLower[i:], " from ") {
				return i
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
	return len(sqlLower)
}

func exprTouchesSensitiveAnyTable(expr string, set *policy.ConfidentialColumnSet) bool {
	scan := scanStatement(expr)
	for _, token := range scan.tokens {
		if set.IsSensitiveColumn(token) {
			return true
		}
	}
	return false
}

func lookupTable(desc *models.SchemaDescription, name string) *models.SchemaTable {
	if desc == nil {
		return nil
	}
	for i := range desc.Tables {
		if strings.EqualFold(desc.Tables[i].Name, name) {
			return &desc.Tables[i]
		}
	}
	return nil
}
