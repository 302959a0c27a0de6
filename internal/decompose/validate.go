package decompose

import "fmt"

// Validate checks a spec against the decomposition schema: all top-level
// keys present, list fields list-typed, every experiment identified and
// titled, and a known difficulty. The first violation is returned as a
// *SchemaError.
func Validate(spec *Spec) error {
	if spec == nil {
		return &SchemaError{Field: "spec", Reason: "missing"}
	}
	if len(spec.missing) > 0 {
		return &SchemaError{Field: spec.missing[0], Reason: "missing required key"}
	}
	if len(spec.notLists) > 0 {
		return &SchemaError{Field: spec.notLists[0], Reason: "must be a list"}
	}

	for i, exp := range spec.Experiments {
		if exp.ID == "" {
			return &SchemaError{Field: fmt.Sprintf("experiments[%d].id", i), Reason: "missing or empty"}
		}
		if exp.Title == "" {
			return &SchemaError{Field: fmt.Sprintf("experiments[%d].title", i), Reason: "missing or empty"}
		}
	}

	if spec.Reproducibility == nil {
		return &SchemaError{Field: KeyReproducibility, Reason: "must be an object"}
	}
	switch spec.Reproducibility.Difficulty {
	case DifficultyLow, DifficultyMedium, DifficultyHigh:
	case "":
		return &SchemaError{Field: KeyReproducibility + ".difficulty", Reason: "missing"}
	default:
		return &SchemaError{
			Field:  KeyReproducibility + ".difficulty",
			Reason: fmt.Sprintf("invalid difficulty %q (want low, medium or high)", spec.Reproducibility.Difficulty),
		}
	}
	if spec.Reproducibility.EstimatedEffortHours < 0 {
		return &SchemaError{Field: KeyReproducibility + ".estimated_effort_hours", Reason: "must not be negative"}
	}
	return nil
}
