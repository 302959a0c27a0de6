package decompose

import (
	"math"
	"strings"

	"paper2nb/internal/logging"
)

var difficultyRank = map[string]int{
	DifficultyLow:    0,
	DifficultyMedium: 1,
	DifficultyHigh:   2,
}

// Merge combines per-chunk partial specs with the default experiment cap.
func Merge(partials []*Spec) *Spec {
	return MergeCapped(partials, MaxExperiments)
}

// MergeCapped combines per-chunk partial specs deterministically:
//   - title, abstract: first non-empty value; authors: first non-empty list
//   - sections, experiments: union deduplicated by id in first-seen order,
//     entries without an id dropped, experiments capped at maxExperiments
//   - difficulty: the hardest assessment; the first unknown value is kept
//     as is so that Validate rejects it
//   - effort: hours summed, at least 1; notes joined with " | "
//
// A single partial is returned as is.
func MergeCapped(partials []*Spec, maxExperiments int) *Spec {
	if len(partials) == 1 && partials[0] != nil {
		return partials[0]
	}
	if maxExperiments <= 0 {
		maxExperiments = MaxExperiments
	}

	merged := NewSpec()
	for _, p := range partials {
		if p == nil {
			continue
		}
		if merged.Title == nil && p.Title != nil && *p.Title != "" {
			title := *p.Title
			merged.Title = &title
		}
		if merged.Abstract == nil && p.Abstract != nil && *p.Abstract != "" {
			abstract := *p.Abstract
			merged.Abstract = &abstract
		}
		if len(merged.Authors) == 0 && len(p.Authors) > 0 {
			merged.Authors = append([]string(nil), p.Authors...)
		}
	}

	seenSections := make(map[string]bool)
	for _, p := range partials {
		if p == nil {
			continue
		}
		for _, sec := range p.Sections {
			if sec.ID == "" || seenSections[sec.ID] {
				continue
			}
			seenSections[sec.ID] = true
			merged.Sections = append(merged.Sections, sec)
		}
	}

	seenExperiments := make(map[string]bool)
	dropped := 0
	for _, p := range partials {
		if p == nil {
			continue
		}
		for _, exp := range p.Experiments {
			if exp.ID == "" || seenExperiments[exp.ID] {
				continue
			}
			if len(merged.Experiments) >= maxExperiments {
				dropped++
				continue
			}
			seenExperiments[exp.ID] = true
			merged.Experiments = append(merged.Experiments, exp)
		}
	}
	if dropped > 0 {
		logging.MergeDebug("Experiment cap %d reached, dropped %d experiments", maxExperiments, dropped)
	}

	merged.Reproducibility = mergeReproducibility(partials)

	logging.Merge("Merged %d partials: sections=%d experiments=%d difficulty=%s",
		len(partials), len(merged.Sections), len(merged.Experiments), merged.Reproducibility.Difficulty)
	return merged
}

func mergeReproducibility(partials []*Spec) *Reproducibility {
	difficulty := DifficultyLow
	var unknown string
	var hours float64
	var notes []string

	for _, p := range partials {
		if p == nil || p.Reproducibility == nil {
			continue
		}
		r := p.Reproducibility
		rank, known := difficultyRank[r.Difficulty]
		switch {
		case r.Difficulty == "":
		case !known:
			if unknown == "" {
				unknown = r.Difficulty
			}
		case rank > difficultyRank[difficulty]:
			difficulty = r.Difficulty
		}
		hours += r.EstimatedEffortHours
		if r.Notes != "" {
			notes = append(notes, r.Notes)
		}
	}

	if unknown != "" {
		difficulty = unknown
	}
	return &Reproducibility{
		Difficulty:           difficulty,
		EstimatedEffortHours: math.Max(hours, 1),
		Notes:                strings.Join(notes, " | "),
	}
}
