package sqlite

import (
	"fmt"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
)

// searchCondition renders the full-text condition. It correlates on rowid
// through a subquery against the <table>_fts shadow index, which the FTS
// engine executes faster than a join.
func searchCondition(res *schema.Resource, qualifier string, search *query.Search) (string, []any, error) {
	if search == nil || search.Text == "" || !res.Searchable() {
		return "", nil, nil
	}

	term := ftsPrefixTerm(search.Text)
	match := term
	if len(search.Fields) > 0 {
		tokens := make([]string, 0, len(search.Fields))
		for _, field := range search.Fields {
			if !res.IsSearchColumn(field) {
				return "", nil, query.NewValidationError(query.UnknownColumn, res.Name, "column '%s' is not full-text indexed", field)
			}
			tokens = append(tokens, field+":"+term)
		}
		match = "(" + strings.Join(tokens, " OR ") + ")"
	}

	fts := res.SearchTableName()
	clause := fmt.Sprintf("%s.rowid IN (SELECT rowid FROM %s WHERE %s MATCH ?)", qualifier, fts, fts)
	return clause, []any{match}, nil
}

// ftsPrefixTerm quotes text as an FTS phrase with a prefix marker.
func ftsPrefixTerm(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"*`
}
