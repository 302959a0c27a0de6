// Package decompose turns paper chunks into one validated Spec: per-chunk
// structured extraction, deterministic merging and schema validation.
package decompose

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Top-level keys every decomposition document carries.
const (
	KeyTitle           = "title"
	KeyAuthors         = "authors"
	KeyAbstract        = "abstract"
	KeySections        = "sections"
	KeyExperiments     = "experiments"
	KeyReproducibility = "reproducibility_assessment"
)

// RequiredKeys lists the top-level keys in validation order.
var RequiredKeys = []string{KeyTitle, KeyAuthors, KeyAbstract, KeySections, KeyExperiments, KeyReproducibility}

// Difficulty levels, ordered low < medium < high.
const (
	DifficultyLow    = "low"
	DifficultyMedium = "medium"
	DifficultyHigh   = "high"
)

// MaxExperiments caps the experiments kept after merging.
const MaxExperiments = 5

// Spec is the structured decomposition of a paper.
//
// Decoding is lenient about value shapes (numbers as ids, a single string
// where a list is expected) but records missing top-level keys and list
// fields that are not lists so Validate can reject them.
type Spec struct {
	Title           *string          `json:"title"`
	Authors         []string         `json:"authors"`
	Abstract        *string          `json:"abstract"`
	Sections        []Section        `json:"sections"`
	Experiments     []Experiment     `json:"experiments"`
	Reproducibility *Reproducibility `json:"reproducibility_assessment"`

	missing  []string
	notLists []string
}

// Section is one paper section summary.
type Section struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Summary string `json:"summary"`
}

// Experiment is one reproducible experiment. Free-form sub-documents are
// kept as raw JSON so they round-trip into prompts unchanged.
type Experiment struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	DatasetInfo     json.RawMessage `json:"dataset_info"`
	Inputs          json.RawMessage `json:"inputs"`
	Outputs         json.RawMessage `json:"outputs"`
	ModelSpec       json.RawMessage `json:"model_spec"`
	Hyperparameters json.RawMessage `json:"hyperparameters"`
	MetricsReported []string        `json:"metrics_reported"`
	KeyFigures      []string        `json:"key_figures"`
}

// Reproducibility is the effort assessment attached to a spec.
type Reproducibility struct {
	Difficulty           string  `json:"difficulty"`
	EstimatedEffortHours float64 `json:"estimated_effort_hours"`
	Notes                string  `json:"notes"`
}

// NewSpec returns an empty spec with every list initialized.
func NewSpec() *Spec {
	return &Spec{
		Authors:     []string{},
		Sections:    []Section{},
		Experiments: []Experiment{},
	}
}

// TitleString returns the title or "".
func (s *Spec) TitleString() string {
	if s == nil || s.Title == nil {
		return ""
	}
	return *s.Title
}

// AbstractString returns the abstract or "".
func (s *Spec) AbstractString() string {
	if s == nil || s.Abstract == nil {
		return ""
	}
	return *s.Abstract
}

// MarshalJSON emits every top-level key; nil lists become [].
func (s Spec) MarshalJSON() ([]byte, error) {
	type wire struct {
		Title           *string          `json:"title"`
		Authors         []string         `json:"authors"`
		Abstract        *string          `json:"abstract"`
		Sections        []Section        `json:"sections"`
		Experiments     []Experiment     `json:"experiments"`
		Reproducibility *Reproducibility `json:"reproducibility_assessment"`
	}
	w := wire{
		Title:           s.Title,
		Authors:         s.Authors,
		Abstract:        s.Abstract,
		Sections:        s.Sections,
		Experiments:     s.Experiments,
		Reproducibility: s.Reproducibility,
	}
	if w.Authors == nil {
		w.Authors = []string{}
	}
	if w.Sections == nil {
		w.Sections = []Section{}
	}
	if w.Experiments == nil {
		w.Experiments = []Experiment{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a decomposition document.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Spec{}

	for _, key := range RequiredKeys {
		if _, ok := raw[key]; !ok {
			s.missing = append(s.missing, key)
		}
	}

	if v, ok := raw[KeyTitle]; ok {
		s.Title = optionalString(v)
	}
	if v, ok := raw[KeyAbstract]; ok {
		s.Abstract = optionalString(v)
	}

	if v, ok := raw[KeyAuthors]; ok {
		if items, isList := rawList(v); isList {
			s.Authors = make([]string, 0, len(items))
			for _, item := range items {
				if name := authorName(item); name != "" {
					s.Authors = append(s.Authors, name)
				}
			}
		} else {
			s.notLists = append(s.notLists, KeyAuthors)
		}
	}

	if v, ok := raw[KeySections]; ok {
		if items, isList := rawList(v); isList {
			s.Sections = make([]Section, 0, len(items))
			for _, item := range items {
				var fields map[string]json.RawMessage
				if json.Unmarshal(item, &fields) != nil {
					continue
				}
				s.Sections = append(s.Sections, Section{
					ID:      flexString(fields["id"]),
					Heading: flexString(fields["heading"]),
					Summary: flexString(fields["summary"]),
				})
			}
		} else {
			s.notLists = append(s.notLists, KeySections)
		}
	}

	if v, ok := raw[KeyExperiments]; ok {
		if items, isList := rawList(v); isList {
			s.Experiments = make([]Experiment, 0, len(items))
			for _, item := range items {
				var exp Experiment
				if json.Unmarshal(item, &exp) != nil {
					continue
				}
				s.Experiments = append(s.Experiments, exp)
			}
		} else {
			s.notLists = append(s.notLists, KeyExperiments)
		}
	}

	if v, ok := raw[KeyReproducibility]; ok && !isNull(v) {
		var r Reproducibility
		if json.Unmarshal(v, &r) == nil {
			s.Reproducibility = &r
		}
	}
	return nil
}

// UnmarshalJSON decodes an experiment, accepting numeric ids and list
// fields given as a single string.
func (e *Experiment) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*e = Experiment{
		ID:              flexString(fields["id"]),
		Title:           flexString(fields["title"]),
		Description:     flexString(fields["description"]),
		DatasetInfo:     keepRaw(fields["dataset_info"]),
		Inputs:          keepRaw(fields["inputs"]),
		Outputs:         keepRaw(fields["outputs"]),
		ModelSpec:       keepRaw(fields["model_spec"]),
		Hyperparameters: keepRaw(fields["hyperparameters"]),
		MetricsReported: stringList(fields["metrics_reported"]),
		KeyFigures:      stringList(fields["key_figures"]),
	}
	return nil
}

// MarshalJSON emits every experiment key; absent sub-documents become null
// and absent lists become [].
func (e Experiment) MarshalJSON() ([]byte, error) {
	type wire Experiment
	w := wire(e)
	for _, f := range []*json.RawMessage{&w.DatasetInfo, &w.Inputs, &w.Outputs, &w.ModelSpec, &w.Hyperparameters} {
		if len(*f) == 0 {
			*f = json.RawMessage("null")
		}
	}
	if w.MetricsReported == nil {
		w.MetricsReported = []string{}
	}
	if w.KeyFigures == nil {
		w.KeyFigures = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an assessment; effort may be a number or a numeric string.
func (r *Reproducibility) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = Reproducibility{
		Difficulty: strings.ToLower(strings.TrimSpace(flexString(fields["difficulty"]))),
		Notes:      flexString(fields["notes"]),
	}
	if v, ok := fields["estimated_effort_hours"]; ok {
		r.EstimatedEffortHours = flexFloat(v)
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func rawList(v json.RawMessage) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	return items, true
}

func optionalString(v json.RawMessage) *string {
	if isNull(v) {
		return nil
	}
	s := flexString(v)
	return &s
}

// flexString renders a scalar as text; strings are unquoted, anything else
// keeps its JSON form.
func flexString(v json.RawMessage) string {
	if isNull(v) {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}

func flexFloat(v json.RawMessage) float64 {
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return f
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(flexString(v)), 64); err == nil {
		return parsed
	}
	return 0
}

func keepRaw(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

func stringList(v json.RawMessage) []string {
	if isNull(v) {
		return []string{}
	}
	items, ok := rawList(v)
	if !ok {
		if s := flexString(v); s != "" {
			return []string{s}
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := flexString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func authorName(v json.RawMessage) string {
	var obj struct {
		Name string `json:"name"`
	}
	if bytes.HasPrefix(bytes.TrimSpace(v), []byte("{")) {
		if json.Unmarshal(v, &obj) == nil {
			return strings.TrimSpace(obj.Name)
		}
		return ""
	}
	return strings.TrimSpace(flexString(v))
}
