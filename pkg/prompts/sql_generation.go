package prompts

import (
	"fmt"
	"strings"

	"github.com/sqlgate/sqlgate/pkg/models"
	"github.com/sqlgate/sqlgate/pkg/policy"
)

// BuildSQLGenerationPrompt creates the prompt for NL-to-SQL generation.
// It renders the schema with PK/FK markers, the question, and generation
// rules. In confidential mode the confidential columns are omitted from
// the rendered schema entirely so the model never sees them, and an
// explicit confidentiality note is appended.
func BuildSQLGenerationPrompt(question string, desc *models.SchemaDescription, set *policy.ConfidentialColumnSet, mode models.ConfidentialMode) string {
	var prompt strings.Builder

	prompt.WriteString("# SQL Query Generation\n\n")
	prompt.WriteString("Generate a single PostgreSQL SELECT query that answers the question below.\n\n")

	prompt.WriteString("## Database Schema\n\n")
	for _, table := range desc.Tables {
		prompt.WriteString(fmt.Sprintf("### %s\n", table.Name))
		prompt.WriteString("Columns:\n")
		for _, col := range table.Columns {
			if mode == models.ModeConfidential && set.IsSensitive(table.Name, col.Name) {
				continue
			}
			flags := ""
			if col.IsPrimaryKey {
				flags += " [PK]"
			}
			if col.IsForeignKey {
				target := ""
				if col.References != nil {
					target = *col.References
				}
				flags += fmt.Sprintf(" [FK→%s]", target)
			}
			prompt.WriteString(fmt.Sprintf("- %s (%s)%s\n", col.Name, col.DataType, flags))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("## Question\n\n%s\n\n", question))

	if mode == models.ModeConfidential {
		prompt.WriteString("## Confidentiality Note\n\n")
		prompt.WriteString("Do NOT select or expose sensitive personal information such as:\n")
		prompt.WriteString("- Email addresses\n")
		prompt.WriteString("- Phone numbers\n")
		prompt.WriteString("- Full addresses\n")
		prompt.WriteString("- Salary or compensation figures\n")
		prompt.WriteString("- Personal identification numbers\n")
		prompt.WriteString("Prefer aggregated data and non-identifying columns.\n\n")
	}

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Generate ONLY the SQL query, no explanations\n")
	prompt.WriteString("- Exactly one SELECT statement; never modify data\n")
	prompt.WriteString("- Use proper JOINs for related tables\n")
	prompt.WriteString("- Add WHERE clauses for filtering\n")
	prompt.WriteString("- Use ORDER BY when sorting is needed\n")
	prompt.WriteString("- Include LIMIT for potentially large result sets\n")
	prompt.WriteString("- Use aggregate functions (COUNT, SUM, AVG) when appropriate\n")
	prompt.WriteString("- Use table aliases for readability\n\n")

	prompt.WriteString("Return ONLY the SQL query, nothing else.\n")

	return prompt.String()
}

// BuildSQLGenerationSystemMessage returns the system message for the LLM.
func BuildSQLGenerationSystemMessage() string {
	return `You are an expert PostgreSQL query generator. You translate natural language questions into a single read-only SELECT query against the provided schema.`
}
