package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	nbformatMajor = 4
	nbformatMinor = 5
)

type nbFile struct {
	Cells         []nbCell        `json:"cells"`
	Metadata      json.RawMessage `json:"metadata"`
	NBFormat      int             `json:"nbformat"`
	NBFormatMinor int             `json:"nbformat_minor"`
}

type nbCell struct {
	ID             string          `json:"id,omitempty"`
	CellType       string          `json:"cell_type"`
	Metadata       json.RawMessage `json:"metadata"`
	Source         json.RawMessage `json:"source"`
	Outputs        json.RawMessage `json:"outputs,omitempty"`
	ExecutionCount json.RawMessage `json:"execution_count,omitempty"`
}

var defaultMetadata = json.RawMessage(`{"kernelspec":{"display_name":"Python 3","language":"python","name":"python3"},"language_info":{"name":"python"}}`)

// Marshal encodes an artifact as an nbformat v4 notebook with a python3
// kernelspec. Code cells get empty outputs and a null execution count.
func Marshal(a *Artifact) ([]byte, error) {
	f := nbFile{
		Cells:         make([]nbCell, 0, len(a.Cells)),
		Metadata:      defaultMetadata,
		NBFormat:      nbformatMajor,
		NBFormatMinor: nbformatMinor,
	}
	for i, c := range a.Cells {
		src, err := encodeSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("encode cell %d: %w", i, err)
		}
		cell := nbCell{
			ID:       fmt.Sprintf("cell-%d", i),
			CellType: string(c.Kind),
			Metadata: json.RawMessage(`{}`),
			Source:   src,
		}
		if c.Kind == CellCode {
			cell.Outputs = json.RawMessage(`[]`)
			cell.ExecutionCount = json.RawMessage(`null`)
		}
		f.Cells = append(f.Cells, cell)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeSource encodes s as a JSON string without HTML escaping, so that
// comparison operators in code stay readable in the saved notebook.
func encodeSource(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Unmarshal decodes an nbformat v4 notebook. Cell sources may be a string
// or a list of strings.
func Unmarshal(data []byte) (*Artifact, error) {
	var f nbFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid notebook JSON: %w", err)
	}
	if f.NBFormat != 0 && f.NBFormat != nbformatMajor {
		return nil, fmt.Errorf("unsupported nbformat version %d", f.NBFormat)
	}

	a := &Artifact{Cells: make([]Cell, 0, len(f.Cells))}
	for i, c := range f.Cells {
		src, err := decodeSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		kind := CellKind(c.CellType)
		switch kind {
		case CellCode, CellMarkdown, CellRaw:
		default:
			return nil, fmt.Errorf("cell %d: unknown cell_type %q", i, c.CellType)
		}
		a.Cells = append(a.Cells, Cell{Kind: kind, Source: src})
	}
	return a, nil
}

func decodeSource(raw json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("source must be a string or list of strings")
	}
	return strings.Join(lines, ""), nil
}

// Save writes the artifact as a notebook file, creating parent directories.
func Save(a *Artifact, path string) error {
	data, err := Marshal(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create notebook directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	return nil
}

// Load reads a notebook file.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	return Unmarshal(data)
}
