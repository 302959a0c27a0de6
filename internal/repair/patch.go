package repair

import (
	"encoding/json"
	"errors"
	"fmt"

	"paper2nb/internal/notebook"
	"paper2nb/internal/perception"
)

// ErrInvalidPatch is the root of every patch validation failure.
var ErrInvalidPatch = errors.New("invalid patch")

// Fix is a parsed repair response.
type Fix struct {
	Analysis string           `json:"analysis"`
	Cells    []notebook.Patch `json:"cells"`
}

// ParsePatch extracts a Fix from a model response. The response must hold
// a non-empty "cells" list of {cell_index: integer, source: string}.
// Index bounds are checked when the patch is applied, not here.
func ParsePatch(response string) (*Fix, error) {
	raw, err := perception.ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Analysis json.RawMessage   `json:"analysis"`
		Cells    []json.RawMessage `json:"cells"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: cells must be a list", ErrInvalidPatch)
	}
	if len(doc.Cells) == 0 {
		return nil, fmt.Errorf("%w: no cell patches", ErrInvalidPatch)
	}

	fix := &Fix{Cells: make([]notebook.Patch, 0, len(doc.Cells))}
	if len(doc.Analysis) > 0 {
		var analysis string
		if json.Unmarshal(doc.Analysis, &analysis) == nil {
			fix.Analysis = analysis
		}
	}

	for i, item := range doc.Cells {
		var p struct {
			CellIndex *json.Number `json:"cell_index"`
			Source    *string      `json:"source"`
		}
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("%w: patch %d: %v", ErrInvalidPatch, i, err)
		}
		if p.CellIndex == nil {
			return nil, fmt.Errorf("%w: patch %d missing 'cell_index'", ErrInvalidPatch, i)
		}
		idx, err := p.CellIndex.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: patch %d cell_index must be an integer, got %s", ErrInvalidPatch, i, p.CellIndex.String())
		}
		if p.Source == nil {
			return nil, fmt.Errorf("%w: patch %d missing 'source'", ErrInvalidPatch, i)
		}
		fix.Cells = append(fix.Cells, notebook.Patch{CellIndex: int(idx), Source: *p.Source})
	}
	return fix, nil
}
