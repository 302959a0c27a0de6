package decompose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"missing key", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": []}`, KeyReproducibility},
		{"first missing key wins", `{"authors": [], "sections": [], "experiments": [], "reproducibility_assessment": {"difficulty": "low"}}`, KeyTitle},
		{"authors not a list", `{"title": "x", "authors": "Ada", "abstract": null, "sections": [], "experiments": [], "reproducibility_assessment": {"difficulty": "low"}}`, KeyAuthors},
		{"experiments null", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": null, "reproducibility_assessment": {"difficulty": "low"}}`, KeyExperiments},
		{"experiment without id", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": [{"title": "t"}], "reproducibility_assessment": {"difficulty": "low"}}`, "experiments[0].id"},
		{"experiment without title", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": [{"id": "e1", "title": ""}], "reproducibility_assessment": {"difficulty": "low"}}`, "experiments[0].title"},
		{"assessment null", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": [], "reproducibility_assessment": null}`, KeyReproducibility},
		{"difficulty missing", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": [], "reproducibility_assessment": {}}`, KeyReproducibility + ".difficulty"},
		{"difficulty invalid", `{"title": "x", "authors": [], "abstract": null, "sections": [], "experiments": [], "reproducibility_assessment": {"difficulty": "extreme"}}`, KeyReproducibility + ".difficulty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(decodeSpec(t, tt.doc))
			var se *SchemaError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.field, se.Field)
			assert.Contains(t, se.Error(), tt.field)
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(decodeSpec(t, sampleDecomposition)))
	assert.Error(t, Validate(nil))
}
