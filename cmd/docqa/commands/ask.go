package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/logging"
)

// NewAskCmd constructs the `docqa ask` command, which indexes the given
// sources and answers a single question about them.
func NewAskCmd() *cobra.Command {
	var sources sourceFlags
	var topK int
	var threshold float64

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Index documents and answer one question about them",
		Long: `Index the given files, directories and URLs, then answer a natural
language question using only the indexed content as context.

Examples:
  docqa ask --dir ./docs "how do I rotate the signing keys?"
  docqa ask --file README.md --url https://example.com/guide "what ports does it use?"
  docqa ask --dir ./docs --top-k 8 --threshold 0.5 "what changed in v2?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if sources.empty() {
				return fmt.Errorf("ask: at least one --file, --dir or --url is required")
			}

			a, err := buildApp(ctx, log, appOptions{progress: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			if _, _, err := indexSources(ctx, a, &sources, log); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			var opts []engine.QueryOption
			if cmd.Flags().Changed("threshold") {
				opts = append(opts, engine.WithThreshold(threshold))
			}
			res := a.engine.Query(ctx, strings.Join(args, " "), topK, opts...)
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return fmt.Errorf("ask: query failed")
			}
			return nil
		},
	}

	sources.register(cmd)
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: RAG_TOP_K)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity of a context chunk (default: RAG_SIMILARITY_THRESHOLD)")

	return cmd
}
