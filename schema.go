package airlock

import (
	_ "embed"

	"github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphql
var schemaSource string

// SchemaConfig limits the work a single query can cause.
type SchemaConfig struct {
	MaxParallelism int `json:"max-parallelism"`
	MaxDepth       int `json:"max-depth"`
}

// NewSchema returns the executable gateway schema.
func NewSchema(cfg SchemaConfig) (*graphql.Schema, error) {
	return newSchemaFromSource(schemaSource, cfg)
}

func newSchemaFromSource(source string, cfg SchemaConfig) (*graphql.Schema, error) {
	// gqlparser reports every problem in the SDL at once, with positions
	if _, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: source}); err != nil {
		return nil, &StartupError{Stage: "schema validation", Err: err}
	}

	var opts []graphql.SchemaOpt
	if cfg.MaxParallelism > 0 {
		opts = append(opts, graphql.MaxParallelism(cfg.MaxParallelism))
	}
	if cfg.MaxDepth > 0 {
		opts = append(opts, graphql.MaxDepth(cfg.MaxDepth))
	}

	schema, err := graphql.ParseSchema(source, &Resolver{}, opts...)
	if err != nil {
		return nil, &StartupError{Stage: "schema binding", Err: err}
	}
	return schema, nil
}
