package notebook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Structure(t *testing.T) {
	data, err := Marshal(sampleArtifact())
	require.NoError(t, err)

	var doc struct {
		Cells []map[string]json.RawMessage `json:"cells"`
		Meta  struct {
			Kernelspec struct {
				Name string `json:"name"`
			} `json:"kernelspec"`
		} `json:"metadata"`
		NBFormat      int `json:"nbformat"`
		NBFormatMinor int `json:"nbformat_minor"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 4, doc.NBFormat)
	assert.Equal(t, 5, doc.NBFormatMinor)
	assert.Equal(t, "python3", doc.Meta.Kernelspec.Name)
	require.Len(t, doc.Cells, 6)

	code := doc.Cells[1]
	assert.JSONEq(t, `"code"`, string(code["cell_type"]))
	assert.JSONEq(t, `[]`, string(code["outputs"]))
	assert.JSONEq(t, `null`, string(code["execution_count"]))
	assert.JSONEq(t, `"cell-1"`, string(code["id"]))

	md := doc.Cells[0]
	_, hasOutputs := md["outputs"]
	assert.False(t, hasOutputs)
	assert.JSONEq(t, `"# Title"`, string(md["source"]))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	src := "if a < b and c > d & flag: pass"
	data, err := Marshal(NewArtifact([]Cell{{Kind: CellCode, Source: src}}))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a < b and c > d & flag")
	assert.NotContains(t, string(data), `\u003c`)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, src, back.Cells[0].Source)
}

func TestRoundTrip(t *testing.T) {
	a := sampleArtifact()
	data, err := Marshal(a)
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)
	if diff := cmp.Diff(a, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_ListSource(t *testing.T) {
	nb := `{"cells": [
		{"cell_type": "code", "metadata": {}, "source": ["import os\n", "print(os.getcwd())"], "outputs": [{"output_type": "stream", "name": "stdout", "text": ["/tmp\n"]}], "execution_count": 1},
		{"cell_type": "raw", "metadata": {}, "source": "raw text"}
	], "metadata": {}, "nbformat": 4, "nbformat_minor": 4}`
	a, err := Unmarshal([]byte(nb))
	require.NoError(t, err)
	require.Len(t, a.Cells, 2)
	assert.Equal(t, "import os\nprint(os.getcwd())", a.Cells[0].Source)
	assert.Equal(t, CellRaw, a.Cells[1].Kind)
}

func TestUnmarshal_Errors(t *testing.T) {
	for _, nb := range []string{
		`not json`,
		`{"cells": [], "nbformat": 3}`,
		`{"cells": [{"cell_type": "widget", "source": ""}], "nbformat": 4}`,
		`{"cells": [{"cell_type": "code", "source": 42}], "nbformat": 4}`,
	} {
		_, err := Unmarshal([]byte(nb))
		assert.Error(t, err, nb)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "notebook-experiment1.ipynb")
	require.NoError(t, Save(sampleArtifact(), path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	a, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, sampleArtifact(), a)

	_, err = Load(filepath.Join(t.TempDir(), "missing.ipynb"))
	assert.Error(t, err)
}
