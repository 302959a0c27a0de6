package tactile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper2nb/internal/notebook"
)

const executedJSON = `{"cells": [], "metadata": {}, "nbformat": 4, "nbformat_minor": 5}`

const listing = `-rw-r--r-- 1 root root 20480 Jan  1 00:00 /tmp/loss_curve.png
-rw-r--r-- 1 root root   512 Jan  1 00:00 /tmp/results.csv
-rw-r--r-- 1 root root  4096 Jan  1 00:00 /tmp/exp.ipynb
`

func testArtifact() *notebook.Artifact {
	return notebook.NewArtifact([]notebook.Cell{
		{Kind: notebook.CellMarkdown, Source: "# Experiment"},
		{Kind: notebook.CellCode, Source: "import numpy as np\nprint(np.zeros(3))"},
	})
}

// scripted answers each pipeline command; jupyter gets the given outcome.
func scripted(jupyter RunOutput, jupyterErr error) func(string) (RunOutput, error) {
	return func(command string) (RunOutput, error) {
		switch {
		case strings.HasPrefix(command, "cd /tmp && jupyter"):
			return jupyter, jupyterErr
		case strings.HasPrefix(command, "cat /tmp/executed_"):
			return RunOutput{Output: executedJSON, Succeeded: true}, nil
		case strings.HasPrefix(command, "ls -la"):
			return RunOutput{Output: listing, Succeeded: true}, nil
		default:
			return RunOutput{Succeeded: true}, nil
		}
	}
}

func TestNotebookRunner_Success(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "exp.ipynb")
	mock := &MockBackend{RunFunc: scripted(RunOutput{Output: "[NbConvertApp] Writing 2048 bytes to executed_exp.ipynb", Succeeded: true}, nil)}
	runner := NewNotebookRunner(mock)

	limits := Limits{MemoryBytes: 1 << 30, CPUs: 1, Timeout: 90 * time.Second}
	result := runner.Execute(context.Background(), testArtifact(), RunOptions{
		Image:        "python:3.11-slim",
		Limits:       limits,
		NotebookPath: source,
	})

	require.NotNil(t, result)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "Writing 2048 bytes")
	assert.Empty(t, result.Stderr)

	if diff := cmp.Diff([]string{"/tmp/loss_curve.png", "/tmp/results.csv"}, result.Artifacts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}

	want := filepath.Join(dir, "exp_executed.ipynb")
	assert.Equal(t, want, result.ExecutedNotebook)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, executedJSON, string(data))

	assert.Equal(t, "python:3.11-slim", mock.Image)
	assert.Equal(t, limits, mock.Limits)
	assert.Equal(t, 1, mock.Provisioned)
	assert.Equal(t, 1, mock.Closed)

	require.Len(t, mock.Commands, 5)
	assert.Equal(t, InstallCommand, mock.Commands[0])
	assert.True(t, strings.HasPrefix(mock.Commands[1], "cat > /tmp/exp.ipynb << 'NOTEBOOK_EOF'\n"))
	assert.Contains(t, mock.Commands[1], `"nbformat": 4`)
	assert.True(t, strings.HasSuffix(mock.Commands[1], "\nNOTEBOOK_EOF"))
	assert.Equal(t,
		"cd /tmp && jupyter nbconvert --to notebook --execute --output executed_exp.ipynb --ExecutePreprocessor.timeout=90 exp.ipynb 2>&1",
		mock.Commands[2])
	assert.Equal(t, "cat /tmp/executed_exp.ipynb", mock.Commands[3])
	assert.Equal(t, ArtifactListCommand, mock.Commands[4])
}

func TestNotebookRunner_NotebookFailure(t *testing.T) {
	dir := t.TempDir()
	trace := "Traceback (most recent call last):\nNameError: name 'model' is not defined"
	mock := &MockBackend{RunFunc: scripted(RunOutput{Output: trace, ExitCode: 1}, nil)}

	result := NewNotebookRunner(mock).Execute(context.Background(), testArtifact(), RunOptions{
		Image:        "python:3.11-slim",
		NotebookPath: filepath.Join(dir, "exp.ipynb"),
	})

	assert.False(t, result.Succeeded())
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stdout, "NameError")
	assert.Empty(t, result.ExecutedNotebook)
	assert.Empty(t, mock.commandsWithPrefix("cat /tmp/executed_"), "executed notebook is only read on success")
	assert.Len(t, mock.commandsWithPrefix("ls -la"), 1)
	assert.Equal(t, 1, mock.Closed)

	_, err := os.Stat(filepath.Join(dir, "exp_executed.ipynb"))
	assert.True(t, os.IsNotExist(err))
}

func TestNotebookRunner_NoExplicitSuccess(t *testing.T) {
	// Exit code 0 without the backend reporting success is still a failure.
	mock := &MockBackend{RunFunc: scripted(RunOutput{Output: "killed"}, nil)}

	result := NewNotebookRunner(mock).Execute(context.Background(), testArtifact(), RunOptions{Image: "img"})

	assert.Equal(t, 1, result.ExitCode)
}

func TestNotebookRunner_ProvisionError(t *testing.T) {
	mock := &MockBackend{ProvisionErr: errors.New("Docker is not available")}

	result := NewNotebookRunner(mock).Execute(context.Background(), testArtifact(), RunOptions{Image: "img"})

	require.NotNil(t, result)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "Sandbox execution error: Docker is not available", result.Stderr)
	assert.NotNil(t, result.Artifacts)
	assert.Empty(t, mock.Commands)
	assert.Equal(t, 0, mock.Closed, "nothing to close when provisioning failed")
}

func TestNotebookRunner_ExecuteErrorStillCloses(t *testing.T) {
	mock := &MockBackend{RunFunc: scripted(RunOutput{Output: "partial"}, errors.New("command timed out after 1s"))}

	result := NewNotebookRunner(mock).Execute(context.Background(), testArtifact(), RunOptions{Image: "img"})

	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "partial", result.Stdout)
	assert.Contains(t, result.Stderr, "execute notebook: command timed out after 1s")
	assert.Equal(t, 1, mock.Closed)
	assert.Empty(t, mock.commandsWithPrefix("ls -la"))
}

func TestNotebookRunner_TransferFailure(t *testing.T) {
	mock := &MockBackend{RunFunc: func(command string) (RunOutput, error) {
		if strings.HasPrefix(command, "cat > ") {
			return RunOutput{Output: "No space left on device", ExitCode: 2}, nil
		}
		return RunOutput{Succeeded: true}, nil
	}}

	result := NewNotebookRunner(mock).Execute(context.Background(), testArtifact(), RunOptions{Image: "img"})

	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "transfer notebook: exit 2: No space left on device")
	assert.Empty(t, mock.commandsWithPrefix("cd /tmp && jupyter"))
	assert.Equal(t, 1, mock.Closed)
}

func TestNotebookRunner_InstallWarningContinues(t *testing.T) {
	mock := &MockBackend{RunFunc: func(command string) (RunOutput, error) {
		if command == InstallCommand {
			return RunOutput{Output: "ERROR: could not resolve host", ExitCode: 1}, nil
		}
		return scripted(RunOutput{Succeeded: true}, nil)(command)
	}}

	result := NewNotebookRunner(mock).Execute(context.Background(), testArtifact(), RunOptions{Image: "img"})

	assert.True(t, result.Succeeded())
	assert.Empty(t, result.ExecutedNotebook, "no executed copy without a notebook path")
}

func TestExecuteCommand_NoTimeout(t *testing.T) {
	assert.Equal(t,
		"cd /tmp && jupyter nbconvert --to notebook --execute --output executed_a.ipynb a.ipynb 2>&1",
		ExecuteCommand("a.ipynb", "executed_a.ipynb", 0))
}

func TestExecutedPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "p", "notebook-experiment0_executed.ipynb"),
		ExecutedPath(filepath.Join("out", "p", "notebook-experiment0.ipynb")))
}

func TestParseArtifactListing(t *testing.T) {
	out := "total 24\n" + listing + "\n"
	got := ParseArtifactListing(out, "exp.ipynb", "executed_exp.ipynb")
	if diff := cmp.Diff([]string{"/tmp/loss_curve.png", "/tmp/results.csv"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{}, ParseArtifactListing(""))
}
