package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/logging"
)

// chatPrompt is printed before every line read in the interactive loop.
const chatPrompt = "docqa> "

// chatEngine is the engine surface used by the interactive loop.
type chatEngine interface {
	Query(ctx context.Context, query string, topK int, opts ...engine.QueryOption) *engine.RagResult
	RemoveDocument(ctx context.Context, source string) (bool, error)
	ClearIndex(ctx context.Context) error
	ListSources(ctx context.Context) ([]string, error)
	GetStats(ctx context.Context) (engine.Stats, error)
}

// NewChatCmd constructs the `docqa chat` command, which indexes the given
// sources and then answers questions interactively.
func NewChatCmd() *cobra.Command {
	var sources sourceFlags
	var topK int

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Index documents and ask questions interactively",
		Long: `Index the given files, directories and URLs, then read questions from
stdin until EOF or /quit.

Commands:
  /stats            index, cache and circuit breaker statistics
  /sources          list indexed sources
  /remove <source>  remove a document from the index
  /clear            remove every document
  /quit             exit

Examples:
  docqa chat --dir ./docs
  docqa chat --url https://example.com/handbook --top-k 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, appOptions{progress: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer a.Close()

			if !sources.empty() {
				indexed, failed, err := indexSources(ctx, a, &sources, log)
				if err != nil {
					return fmt.Errorf("chat: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d document(s), %d failed.\n", indexed, failed)
			}

			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a.engine, topK)
		},
	}

	sources.register(cmd)
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: RAG_TOP_K)")

	return cmd
}

// runChat reads questions and slash commands from in until EOF, /quit, or
// ctx cancellation, writing answers to out.
func runChat(ctx context.Context, in io.Reader, out io.Writer, eng chatEngine, topK int) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, chatPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			printResult(out, eng.Query(ctx, line, topK))
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/stats":
			stats, err := eng.GetStats(ctx)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "chunks: %d  sources: %d  dimension: %d  memory: ~%d bytes\n",
				stats.Index.TotalChunks, stats.Index.UniqueSources, stats.Index.Dimension, stats.Index.ApproxMemoryBytes)
			fmt.Fprintf(out, "embedding cache: %d/%d entries  hit rate %.0f%%\n",
				stats.Cache.Size, stats.Cache.MaxSize, stats.Cache.HitRate*100)
			fmt.Fprintf(out, "query cache: %d/%d entries  hit rate %.0f%%\n",
				stats.QueryCache.Size, stats.QueryCache.MaxSize, stats.QueryCache.HitRate*100)
			for name, state := range stats.Breakers {
				fmt.Fprintf(out, "breaker %s: %s\n", name, state)
			}
		case "/sources":
			list, err := eng.ListSources(ctx)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "no documents indexed")
			}
			for _, s := range list {
				fmt.Fprintf(out, "  %s\n", s)
			}
		case "/remove":
			if arg == "" {
				fmt.Fprintln(out, "usage: /remove <source>")
				continue
			}
			removed, err := eng.RemoveDocument(ctx, arg)
			switch {
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			case removed:
				fmt.Fprintf(out, "removed %s\n", arg)
			default:
				fmt.Fprintf(out, "not indexed: %s\n", arg)
			}
		case "/clear":
			if err := eng.ClearIndex(ctx); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "index cleared")
		default:
			fmt.Fprintf(out, "unknown command %s (try /stats, /sources, /remove, /clear, /quit)\n", cmd)
		}
	}
}
