package decompose

import (
	"errors"
	"fmt"
)

// ErrNoValidExtraction means decomposition produced nothing usable: either
// every chunk was skipped or the merged spec has no experiments.
var ErrNoValidExtraction = errors.New("failed to extract any valid structured data from the paper")

// SchemaError reports a spec that violates the decomposition schema.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("schema validation failed: %s", e.Field)
	}
	return fmt.Sprintf("schema validation failed: %s: %s", e.Field, e.Reason)
}
