package sqlite

import (
	"fmt"
	"strings"

	"github.com/asaidimu/mirrorql/core/query"
)

// joinDescriptor is a rendered join, emitted by the filter builder.
type joinDescriptor struct {
	Type      query.JoinType
	Table     string
	Alias     string
	Condition string
}

// joinNode is one resolved JoinSpec: its descriptor plus the scope its
// nested filters are qualified with.
type joinNode struct {
	descriptor joinDescriptor
	scope      scope
}

// aliasAllocator hands out join aliases for a single compilation. Aliases
// are <table>_<n> with n counted per resource, skipping any name already
// in use in the statement.
type aliasAllocator struct {
	counts map[string]int
	taken  map[string]struct{}
}

func newAliasAllocator(baseTable string) *aliasAllocator {
	return &aliasAllocator{
		counts: make(map[string]int),
		taken:  map[string]struct{}{baseTable: {}},
	}
}

func (a *aliasAllocator) next(resource, table string) string {
	for {
		a.counts[resource]++
		alias := fmt.Sprintf("%s_%d", table, a.counts[resource])
		if _, used := a.taken[alias]; !used {
			a.taken[alias] = struct{}{}
			return alias
		}
	}
}

// resolveJoin validates spec against the schema table and allocates its alias.
func (c *Compiler) resolveJoin(parent scope, spec query.JoinSpec, aliases *aliasAllocator) (joinNode, error) {
	target, ok := c.schema.Lookup(spec.Resource)
	if !ok {
		return joinNode{}, query.NewValidationError(query.UnsupportedResource, spec.Resource, "cannot join a resource that is not in the schema table")
	}
	joinType, err := query.ParseJoinType(string(spec.JoinType))
	if err != nil {
		return joinNode{}, err
	}
	if !parent.resource.HasColumn(spec.From()) {
		return joinNode{}, query.NewValidationError(query.UnknownColumn, parent.resource.Name, "join column '%s' does not exist", spec.From())
	}
	if spec.JoinOn == "" {
		return joinNode{}, query.NewValidationError(query.InvalidJoin, spec.Resource, "joinOn is required")
	}
	if !target.HasColumn(spec.JoinOn) {
		return joinNode{}, query.NewValidationError(query.UnknownColumn, target.Name, "join column '%s' does not exist", spec.JoinOn)
	}

	alias := aliases.next(target.Name, target.TableName())
	child := scope{resource: target, qualifier: alias}
	return joinNode{
		descriptor: joinDescriptor{
			Type:      joinType,
			Table:     target.TableName(),
			Alias:     alias,
			Condition: fmt.Sprintf("%s = %s", parent.column(spec.From()), child.column(spec.JoinOn)),
		},
		scope: child,
	}, nil
}

// joinClause renders the join descriptors, space separated.
func joinClause(joins []joinDescriptor) string {
	parts := make([]string, 0, len(joins))
	for _, j := range joins {
		parts = append(parts, fmt.Sprintf("%s JOIN %s %s ON %s", j.Type, quoteIdentifier(j.Table), j.Alias, j.Condition))
	}
	return strings.Join(parts, " ")
}
