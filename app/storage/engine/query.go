package engine

import "fmt"

// DBCmd identifies one statement in a store's query set. Each store reserves
// its own numeric range so a misrouted command fails fast in Pick.
type DBCmd int

// Query holds the text of one statement per database dialect. Most statements
// are shared between sqlite and postgres, the ones that differ are schema
// creation (autoincrement vs serial) and id-returning inserts.
type Query map[Type]string

// QueryMap collects all statements a store runs, keyed by command
type QueryMap struct {
	queries map[DBCmd]Query
}

// NewQueryMap creates an empty query map
func NewQueryMap() *QueryMap {
	return &QueryMap{queries: make(map[DBCmd]Query)}
}

// Add registers per-dialect variants of a statement, overwriting earlier ones
func (q *QueryMap) Add(cmd DBCmd, query Query) *QueryMap {
	q.queries[cmd] = query
	return q
}

// AddSame registers one statement shared by every supported dialect
func (q *QueryMap) AddSame(cmd DBCmd, query string) *QueryMap {
	return q.Add(cmd, Query{Sqlite: query, Postgres: query})
}

// Pick returns the statement for the given dialect and command
func (q *QueryMap) Pick(dbType Type, cmd DBCmd) (string, error) {
	query, ok := q.queries[cmd]
	if !ok {
		return "", fmt.Errorf("unsupported command type %d", cmd)
	}
	text, ok := query[dbType]
	if !ok {
		return "", fmt.Errorf("no %q variant for command %d", dbType, cmd)
	}
	return text, nil
}
