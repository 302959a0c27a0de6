package decompose

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"paper2nb/internal/ingest"
	"paper2nb/internal/logging"
	"paper2nb/internal/perception"
)

// Options configures a Decomposer.
type Options struct {
	MaxAttempts   int // model calls per chunk (default 3)
	Workers       int // concurrent chunk extractions (default 1)
	ExperimentCap int // experiments kept after merge (default 5)
}

// Result is a validated decomposition plus extraction bookkeeping.
type Result struct {
	Spec          *Spec
	Chunks        int
	Accepted      int
	SkippedChunks []int
}

// Decomposer extracts, merges and validates a paper's structure.
type Decomposer struct {
	extractor *Extractor
	workers   int
	cap       int
}

// NewDecomposer creates a decomposer that uses client for every model call.
func NewDecomposer(client perception.Client, opts Options) *Decomposer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ExperimentCap <= 0 {
		opts.ExperimentCap = MaxExperiments
	}
	return &Decomposer{
		extractor: NewExtractor(client, opts.MaxAttempts),
		workers:   opts.Workers,
		cap:       opts.ExperimentCap,
	}
}

// Extractor exposes the per-chunk extractor.
func (d *Decomposer) Extractor() *Extractor {
	return d.extractor
}

// Decompose extracts every chunk, merges the accepted partials in chunk
// order and validates the result. It fails with ErrNoValidExtraction when no
// chunk is accepted or the merged spec has no experiments, and with a
// *SchemaError when the merged spec is malformed.
func (d *Decomposer) Decompose(ctx context.Context, chunks []ingest.Chunk) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "Decompose")
	defer timer.Stop()

	extractions, err := d.extractAll(ctx, chunks)
	if err != nil {
		return nil, err
	}

	res := &Result{Chunks: len(chunks)}
	var partials []*Spec
	for _, ex := range extractions {
		if ex.Outcome == OutcomeAccepted {
			partials = append(partials, ex.Spec)
			continue
		}
		res.SkippedChunks = append(res.SkippedChunks, ex.ChunkIndex)
	}
	res.Accepted = len(partials)
	logging.Extract("Extraction finished: chunks=%d accepted=%d skipped=%d", len(chunks), res.Accepted, len(res.SkippedChunks))

	if len(partials) == 0 {
		return nil, ErrNoValidExtraction
	}

	merged := MergeCapped(partials, d.cap)
	if err := Validate(merged); err != nil {
		logging.MergeWarn("Merged spec failed validation: %v", err)
		return nil, err
	}
	if len(merged.Experiments) == 0 {
		return nil, fmt.Errorf("%w: no experiments found in paper", ErrNoValidExtraction)
	}
	if len(merged.Experiments) > d.cap {
		logging.MergeDebug("Experiment cap %d applied to single partial with %d experiments", d.cap, len(merged.Experiments))
		merged.Experiments = merged.Experiments[:d.cap:d.cap]
	}

	res.Spec = merged
	return res, nil
}

// extractAll returns one Extraction per chunk, in chunk order.
func (d *Decomposer) extractAll(ctx context.Context, chunks []ingest.Chunk) ([]Extraction, error) {
	out := make([]Extraction, len(chunks))

	if d.workers <= 1 || len(chunks) <= 1 {
		for i, chunk := range chunks {
			logging.Extract("Processing chunk %d/%d", i+1, len(chunks))
			ex, err := d.extractor.Extract(ctx, chunk)
			if err != nil {
				return nil, err
			}
			out[i] = ex
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			logging.ExtractDebug("Processing chunk %d/%d", i+1, len(chunks))
			ex, err := d.extractor.Extract(gctx, chunk)
			if err != nil {
				return err
			}
			out[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
