package repair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func TestBuildPrompt_ContextWindow(t *testing.T) {
	report := FailureReport{
		CellIndex:  intPtr(4),
		CellSource: "model.fit(X)",
		Trace:      "NameError: name 'model' is not defined",
		ErrorKind:  "NameError",
	}
	prompt := BuildPrompt(report, sixCells())

	assert.Contains(t, prompt, "```python\nmodel.fit(X)\n```")
	assert.Contains(t, prompt, "NameError: name 'model' is not defined")
	assert.Contains(t, prompt, "Previous cells:\nCell 2:\nimport numpy as np\n\nCell 3:\nX = np.random.randn(100, 4)\n")
	assert.Contains(t, prompt, "Following cells:\nCell 5:\nprint('done')\n")
	assert.NotContains(t, prompt, "Cell 1:\n", "window is two cells")
	assert.Contains(t, prompt, "[4] code: model.fit(X)")
	assert.NotContains(t, prompt, "{failing_cell}")
	assert.NotContains(t, prompt, "{outline}")
}

func TestBuildPrompt_FirstCell(t *testing.T) {
	prompt := BuildPrompt(FailureReport{CellIndex: intPtr(0), Trace: "boom"}, sixCells())
	assert.Contains(t, prompt, "Previous cells:\nNone\n")
	assert.Contains(t, prompt, "Following cells:\nCell 1:\n!pip install -q numpy\n\nCell 2:\nimport numpy as np\n")
}

func TestBuildPrompt_UnknownCell(t *testing.T) {
	prompt := BuildPrompt(FailureReport{Trace: "Kernel died", ErrorKind: ErrorKindUnknown}, sixCells())
	assert.Contains(t, prompt, "Previous cells:\nNone\n")
	assert.Contains(t, prompt, "Following cells:\nNone\n")
	assert.Equal(t, 1, strings.Count(prompt, "Kernel died"))
}
