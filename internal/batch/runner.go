// Package batch fans indexing and query workloads out over a bounded ants
// worker pool, aggregating per-item outcomes and publishing progress events.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// DefaultMaxParallelism is used when a batch call passes a non-positive limit.
const DefaultMaxParallelism = 4

// ErrDirectoryNotFound is returned by IndexDirectory for a missing directory.
var ErrDirectoryNotFound = errors.New("batch: directory not found")

// Engine is the part of engine.Engine the runner drives.
type Engine interface {
	Index(ctx context.Context, doc rag.Document) *engine.IndexingResult
	Query(ctx context.Context, query string, topK int, opts ...engine.QueryOption) *engine.RagResult
}

// DirectoryReader loads every supported document below a directory.
type DirectoryReader interface {
	ReadDir(ctx context.Context, dir string) ([]rag.Document, error)
}

// Kind tells index progress from query progress.
type Kind string

const (
	KindIndex Kind = "index"
	KindQuery Kind = "query"
)

// Progress is published after every finished item.
type Progress struct {
	// Kind is the batch type.
	Kind Kind `json:"kind"`
	// Item is the source or query that just finished.
	Item string `json:"item"`
	// Success reports the item outcome.
	Success bool `json:"success"`
	// Error is the item failure, if any.
	Error string `json:"error,omitempty"`
	// Completed is the number of items finished so far, this one included.
	Completed int `json:"completed"`
	// Total is the number of items in the batch.
	Total int `json:"total"`
}

// Result aggregates one batch run. Results holds one entry per item that ran,
// in input order. Items skipped after cancellation have no entry.
type Result[T any] struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Results   []T           `json:"results"`
	Elapsed   time.Duration `json:"-"`
	Cancelled bool          `json:"cancelled"`
}

// ElapsedMs is Elapsed in whole milliseconds, for JSON adapters.
func (r *Result[T]) ElapsedMs() int64 { return r.Elapsed.Milliseconds() }

// IndexResult is the outcome of an indexing batch.
type IndexResult = Result[*engine.IndexingResult]

// QueryResult is the outcome of a query batch.
type QueryResult struct {
	Result[*engine.RagResult]
	// AverageLatency is the mean processing time of the queries that ran.
	AverageLatency time.Duration `json:"-"`
}

// Runner executes batches against an Engine. It is safe for concurrent use;
// every batch gets its own worker pool.
type Runner struct {
	engine   Engine
	reader   DirectoryReader
	progress chan<- Progress
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgress publishes a Progress event per finished item to ch. Sends
// never block: events are dropped when ch is full.
func WithProgress(ch chan<- Progress) Option {
	return func(r *Runner) { r.progress = ch }
}

// WithDirectoryReader sets the loader used by IndexDirectory.
func WithDirectoryReader(reader DirectoryReader) Option {
	return func(r *Runner) { r.reader = reader }
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner returns a Runner driving eng.
func NewRunner(eng Engine, opts ...Option) *Runner {
	r := &Runner{engine: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IndexMany indexes every source → content pair. Items are scheduled in
// sorted source order.
func (r *Runner) IndexMany(ctx context.Context, docs map[string]string, maxParallelism int) (*IndexResult, error) {
	sources := make([]string, 0, len(docs))
	for s := range docs {
		sources = append(sources, s)
	}
	slices.Sort(sources)

	list := make([]rag.Document, len(sources))
	for i, s := range sources {
		list[i] = rag.Document{Source: s, Content: docs[s]}
	}
	return r.IndexDocuments(ctx, list, maxParallelism)
}

// IndexDocuments indexes docs with at most maxParallelism running at once.
// A failing item never aborts its siblings. Cancelling ctx stops scheduling
// new items; items already started run to completion.
func (r *Runner) IndexDocuments(ctx context.Context, docs []rag.Document, maxParallelism int) (*IndexResult, error) {
	res, err := run(ctx, r, KindIndex, len(docs), maxParallelism,
		func(i int) string { return docs[i].Source },
		func(ctx context.Context, i int) (*engine.IndexingResult, bool, string) {
			out := r.engine.Index(ctx, docs[i])
			return out, out.Success, out.Error
		})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// IndexDirectory loads every supported file under dir and indexes it. A
// missing directory is rejected before any work is scheduled.
func (r *Runner) IndexDirectory(ctx context.Context, dir string, maxParallelism int) (*IndexResult, error) {
	if r.reader == nil {
		return nil, fmt.Errorf("batch: no directory reader configured")
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}
	docs, err := r.reader.ReadDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("batch: read %s: %w", dir, err)
	}
	return r.IndexDocuments(ctx, docs, maxParallelism)
}

// QueryMany answers every query with at most maxParallelism running at once.
// Results keep input order.
func (r *Runner) QueryMany(ctx context.Context, queries []string, topK, maxParallelism int, opts ...engine.QueryOption) (*QueryResult, error) {
	res, err := run(ctx, r, KindQuery, len(queries), maxParallelism,
		func(i int) string { return queries[i] },
		func(ctx context.Context, i int) (*engine.RagResult, bool, string) {
			out := r.engine.Query(ctx, queries[i], topK, opts...)
			return out, out.Success, out.Error
		})
	if err != nil {
		return nil, err
	}

	qr := &QueryResult{Result: *res}
	if n := len(res.Results); n > 0 {
		var total time.Duration
		for _, rr := range res.Results {
			total += rr.ProcessingTime
		}
		qr.AverageLatency = total / time.Duration(n)
	}
	return qr, nil
}

// run executes n items on a fresh ants pool of size maxParallelism. An item
// whose do panics is recorded as failed with the value built by failed.
func run[T any](
	ctx context.Context,
	r *Runner,
	kind Kind,
	n, maxParallelism int,
	label func(i int) string,
	do func(ctx context.Context, i int) (T, bool, string),
	failed func(i int, msg string) T,
) (*Result[T], error) {
	start := time.Now()
	if maxParallelism <= 0 {
		maxParallelism = DefaultMaxParallelism
	}
	out := &Result[T]{Total: n}
	if n == 0 {
		out.Results = []T{}
		return out, nil
	}

	pool, err := ants.NewPool(min(maxParallelism, n), ants.WithPanicHandler(func(p any) {
		r.logger.Error("batch worker panicked", slog.String("kind", string(kind)), slog.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("batch: create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed atomic.Int32
		ran       = make([]bool, n)
		results   = make([]T, n)
		oks       = make([]bool, n)
	)
	// Started items must finish even if the batch is cancelled.
	workCtx := logging.WithAttrs(
		logging.WithLogger(context.WithoutCancel(ctx), r.logger),
		slog.String("batch_id", uuid.NewString()),
		slog.String("kind", string(kind)),
	)
	log := logging.FromContext(workCtx)

	finish := func(i int, value T, ok bool, errMsg string) {
		mu.Lock()
		ran[i], results[i], oks[i] = true, value, ok
		mu.Unlock()
		log.Debug("batch item finished", slog.String("item", label(i)), slog.Bool("success", ok))
		r.publish(Progress{
			Kind:      kind,
			Item:      label(i),
			Success:   ok,
			Error:     errMsg,
			Completed: int(completed.Add(1)),
			Total:     n,
		})
	}

	for i := range n {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			// Queued before cancellation but not yet started: skip.
			if ctx.Err() != nil {
				return
			}
			defer func() {
				if p := recover(); p != nil {
					msg := fmt.Sprintf("batch: item panicked: %v", p)
					log.Error("batch item panicked", slog.String("item", label(i)), slog.Any("panic", p))
					finish(i, failed(i, msg), false, msg)
				}
			}()
			value, ok, errMsg := do(workCtx, i)
			finish(i, value, ok, errMsg)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			log.Error("batch submit failed", slog.String("item", label(i)), slog.Any("error", err))
			break
		}
	}
	wg.Wait()

	out.Results = make([]T, 0, n)
	for i := range n {
		if !ran[i] {
			continue
		}
		out.Results = append(out.Results, results[i])
		if oks[i] {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	out.Skipped = n - out.Succeeded - out.Failed
	out.Cancelled = ctx.Err() != nil && out.Skipped > 0
	out.Elapsed = time.Since(start)

	log.Info("batch finished",
		slog.Int("total", out.Total),
		slog.Int("succeeded", out.Succeeded),
		slog.Int("failed", out.Failed),
		slog.Int("skipped", out.Skipped),
		slog.Bool("cancelled", out.Cancelled),
		slog.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

// publish sends p without blocking.
func (r *Runner) publish(p Progress) {
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- p:
	default:
	}
}
