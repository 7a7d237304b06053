package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/batch"
	"github.com/54b3r/docqa-go/internal/cache"
	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/metrics"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/resilience"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// janitorInterval is how often expired cache entries are purged.
const janitorInterval = time.Minute

// app bundles the wired retrieval stack shared by ask, chat and serve.
type app struct {
	settings config.Settings
	engine   *engine.Engine
	runner   *batch.Runner
	loader   *ingestion.Loader
	tracer   *tracing.Tracer
	// progress carries batch progress events when the app was built with one.
	progress chan batch.Progress
	closers  []func()
}

// Close stops background goroutines and flushes traces.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// appOptions tweak buildApp for the calling command.
type appOptions struct {
	// registry receives pipeline metrics. Nil disables metrics.
	registry prometheus.Registerer
	// progress renders batch progress to this writer. Nil disables it.
	progress io.Writer
}

// buildApp resolves settings from the environment and wires the chunker,
// cache, vector index, embedder, generator, resilience policies and batch
// runner into an engine.
func buildApp(ctx context.Context, log *slog.Logger, opts appOptions) (*app, error) {
	settings, err := config.SettingsFromEnv()
	if err != nil {
		return nil, err
	}

	chk, err := chunker.New(settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	a := &app{settings: settings, tracer: tracing.Setup(log)}
	a.closers = append(a.closers, a.tracer.Flush)

	var m *metrics.Metrics
	if opts.registry != nil {
		m = metrics.New(opts.registry)
	}

	c := cache.New(settings.CacheMaxSize)
	a.closers = append(a.closers, c.StartJanitor(janitorInterval))
	qc := cache.New(settings.CacheMaxSize)
	a.closers = append(a.closers, qc.StartJanitor(janitorInterval))

	maxTokens := settings.MaxContextTokens
	if maxTokens == 0 {
		maxTokens = -1
	}

	a.engine, err = engine.New(engine.Config{
		Chunker:    chk,
		Store:      rag.NewMemoryStore(),
		Cache:      c,
		QueryCache: qc,
		Embedder:   emb,
		Generator:  provider.NewChatGenerator(chatModel, provider.WithCallbacks(a.tracer.Handler)),
		Retrier: &resilience.Retrier{
			MaxAttempts: settings.RetryMaxAttempts,
			BaseDelay:   settings.RetryBaseDelay,
			Logger:      log,
		},
		Breakers: resilience.NewBreakers(resilience.BreakerSettings{
			FailureThreshold: settings.BreakerFailureThreshold,
			Cooldown:         settings.BreakerCooldown,
			Logger:           log,
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		Throttle:             resilience.NewThrottle(settings.EmbedRateLimit, 0),
		Metrics:              m,
		Logger:               log,
		SimilarityThreshold:  settings.SimilarityThreshold,
		DefaultTopK:          settings.TopK,
		EmbeddingConcurrency: settings.EmbedConcurrency,
		EmbeddingTTL:         settings.EmbeddingTTL,
		QueryTTL:             settings.QueryTTL,
		MaxContextTokens:     maxTokens,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	m.SetBreakerState("generate", int(a.engine.BreakerState()))

	a.loader = ingestion.NewLoader(ingestion.Config{})
	runnerOpts := []batch.Option{batch.WithDirectoryReader(a.loader), batch.WithLogger(log)}
	if opts.progress != nil {
		a.progress = make(chan batch.Progress, 64)
		runnerOpts = append(runnerOpts, batch.WithProgress(a.progress))
		done := make(chan struct{})
		go func() {
			defer close(done)
			renderProgress(opts.progress, a.progress)
		}()
		a.closers = append(a.closers, func() {
			close(a.progress)
			<-done
		})
	}
	a.runner = batch.NewRunner(a.engine, runnerOpts...)

	return a, nil
}

// renderProgress prints one line per finished batch item until ch is closed.
func renderProgress(w io.Writer, ch <-chan batch.Progress) {
	for p := range ch {
		mark := "ok"
		if !p.Success {
			mark = "FAILED: " + p.Error
		}
		fmt.Fprintf(w, "[%d/%d] %s %s %s\n", p.Completed, p.Total, p.Kind, p.Item, mark)
	}
}

// sourceFlags are the --file/--dir/--url flags shared by ask and chat.
type sourceFlags struct {
	files []string
	dirs  []string
	urls  []string
}

// register attaches the source flags to cmd.
func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.files, "file", "f", nil, "Document file to index (repeatable)")
	cmd.Flags().StringArrayVarP(&f.dirs, "dir", "d", nil, "Directory to index recursively (repeatable)")
	cmd.Flags().StringArrayVarP(&f.urls, "url", "u", nil, "Web page or document URL to index (repeatable)")
}

// empty reports whether no source was given.
func (f *sourceFlags) empty() bool {
	return len(f.files) == 0 && len(f.dirs) == 0 && len(f.urls) == 0
}

// indexSources loads and indexes every source named by f. Individual load
// or indexing failures are logged and counted; only a batch that could not
// run at all is returned as an error.
func indexSources(ctx context.Context, a *app, f *sourceFlags, log *slog.Logger) (indexed, failed int, err error) {
	var docs []rag.Document
	for _, path := range f.files {
		doc, err := a.loader.ReadFile(path)
		if err != nil {
			log.Warn("skipping file", slog.String("path", path), slog.Any("error", err))
			failed++
			continue
		}
		docs = append(docs, doc)
	}
	for _, u := range f.urls {
		doc, err := a.loader.Fetch(ctx, u)
		if err != nil {
			log.Warn("skipping url", slog.String("url", u), slog.Any("error", err))
			failed++
			continue
		}
		docs = append(docs, doc)
	}

	parallelism := a.settings.BatchMaxParallelism
	if len(docs) > 0 {
		res, err := a.runner.IndexDocuments(ctx, docs, parallelism)
		if err != nil {
			return indexed, failed, err
		}
		indexed += res.Succeeded
		failed += res.Failed
	}
	for _, dir := range f.dirs {
		res, err := a.runner.IndexDirectory(ctx, dir, parallelism)
		if err != nil {
			return indexed, failed, err
		}
		indexed += res.Succeeded
		failed += res.Failed
	}

	log.Info("indexing complete", slog.Int("indexed", indexed), slog.Int("failed", failed))
	return indexed, failed, nil
}

// printResult writes an answer with its sources to w.
func printResult(w io.Writer, res *engine.RagResult) {
	fmt.Fprintln(w, res.Answer)
	if !res.Success && res.Error != "" {
		fmt.Fprintf(w, "\nerror: %s\n", res.Error)
	}
	if len(res.RetrievedChunks) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, rr := range res.RetrievedChunks {
			fmt.Fprintf(w, "  - %s (chunk %d, similarity %.2f)\n", rr.Chunk.Source, rr.Chunk.Index, rr.Similarity)
		}
	}
	cached := ""
	if res.FromCache {
		cached = ", cached"
	}
	fmt.Fprintf(w, "\n(%dms%s)\n", res.ProcessingTime.Milliseconds(), cached)
}

// getEnvOrDefault returns the value of key, or def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
