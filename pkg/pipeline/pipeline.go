// Package pipeline streams deals from an NDJSON source through a deal
// processor and writes the resulting retrieval tasks as NDJSON.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/storacha/deal-ingester/pkg/deal"
	"github.com/storacha/deal-ingester/pkg/stats"
)

var log = logging.Logger("pipeline")

const (
	// MaxConcurrency bounds the deals being processed at the same time and
	// is also the default.
	MaxConcurrency       = 5
	DefaultConcurrency   = MaxConcurrency
	DefaultProgressEvery = 1000
)

// ErrAborted is returned when the run was cancelled. Tasks of every batch
// completed before cancellation have been written.
var ErrAborted = errors.New("aborted")

// DealProcessor produces the retrieval tasks for a deal.
type DealProcessor interface {
	Process(ctx context.Context, d deal.Deal) iter.Seq2[deal.RetrievalTask, error]
}

type Config struct {
	// Concurrency is the batch size, i.e. the maximum number of deals being
	// processed at the same time.
	Concurrency int
	// ProgressEvery logs progress each time this many deals were admitted.
	ProgressEvery uint64
}

type Pipeline struct {
	processor DealProcessor
	stats     *stats.Stats
	cfg       Config
}

type Option func(*Config)

func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

func WithProgressEvery(n uint64) Option {
	return func(c *Config) {
		c.ProgressEvery = n
	}
}

func New(processor DealProcessor, st *stats.Stats, opts ...Option) *Pipeline {
	cfg := Config{
		Concurrency:   DefaultConcurrency,
		ProgressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Concurrency = min(max(cfg.Concurrency, 1), MaxConcurrency)
	return &Pipeline{processor: processor, stats: st, cfg: cfg}
}

// Run reads deals from in until EOF and writes their retrieval tasks to out.
// Each non-blank line of in must hold exactly one JSON deal.
//
// Deals are processed in batches of Config.Concurrency. A batch is written
// only once every deal in it is done, with tasks in the order the deals were
// read, so out always holds complete lines of whole batches.
//
// A cancelled ctx stops admission of new deals and yields an error matching
// ErrAborted. Any other error is fatal.
func (p *Pipeline) Run(ctx context.Context, in io.Reader, out io.Writer) (err error) {
	bw := bufio.NewWriter(out)
	defer func() {
		if ferr := bw.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flushing output: %w", ferr)
		}
	}()
	enc := json.NewEncoder(bw)
	lines := bufio.NewReader(in)

	batch := make([]deal.Deal, 0, p.cfg.Concurrency)
	for lineNo := 1; ; lineNo++ {
		if ctx.Err() != nil {
			return p.aborted(ctx)
		}

		line, err := lines.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading deals: %w", err)
		}
		eof := err != nil
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if eof {
				break
			}
			continue
		}

		var d deal.Deal
		if err := json.Unmarshal(line, &d); err != nil {
			return fmt.Errorf("decoding deal on line %d: %w", lineNo, err)
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("invalid deal on line %d: %w", lineNo, err)
		}

		total := p.stats.AddDeal()
		if p.cfg.ProgressEvery > 0 && total%p.cfg.ProgressEvery == 0 {
			log.Infow("processed deals", "total", total)
		}

		batch = append(batch, d)
		if len(batch) == p.cfg.Concurrency {
			if err := p.runBatch(ctx, batch, enc); err != nil {
				return err
			}
			batch = batch[:0]
		}
		if eof {
			break
		}
	}

	if len(batch) > 0 {
		if err := p.runBatch(ctx, batch, enc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []deal.Deal, enc *json.Encoder) error {
	results := make([][]deal.RetrievalTask, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, d := range batch {
		g.Go(func() error {
			for task, err := range p.processor.Process(gctx, d) {
				if err != nil {
					return err
				}
				results[i] = append(results[i], task)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return p.aborted(ctx)
		}
		return err
	}

	for _, tasks := range results {
		for _, task := range tasks {
			if err := enc.Encode(task); err != nil {
				return fmt.Errorf("writing task: %w", err)
			}
		}
	}
	return nil
}

func (p *Pipeline) aborted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}
