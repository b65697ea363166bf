package llm

import (
	"testing"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare statement",
			input:    "SELECT * FROM customers",
			expected: "SELECT * FROM customers",
		},
		{
			name:     "code fence",
			input:    "```sql\nSELECT name FROM customers\n```",
			expected: "SELECT name FROM customers",
		},
		{
			name:     "prose around the statement",
			input:    "Here is your query:\n\nSELECT COUNT(*) FROM orders\n\nLet me know if you need more.",
			expected: "SELECT COUNT(*) FROM orders\n\nLet me know if you need more.",
		},
		{
			name:     "trailing semicolon stops the match",
			input:    "SELECT COUNT(*) FROM orders; -- done",
			expected: "SELECT COUNT(*) FROM orders",
		},
		{
			name:     "cte statement",
			input:    "```sql\nWITH t AS (SELECT 1) SELECT * FROM t;\n```",
			expected: "WITH t AS (SELECT 1) SELECT * FROM t",
		},
		{
			name:     "no sql at all",
			input:    "I cannot answer that question.",
			expected: "",
		},
		{
			name:     "refusal mentioning update",
			input:    "UPDATE statements are not something I can produce.",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSQL(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
