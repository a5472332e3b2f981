package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"luma-backend/internal/config"
	"luma-backend/internal/database"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/logger"
	"luma-backend/services"
)

type globalOptions struct {
	dbPath  string
	userID  string
	verbose bool
}

// workspace is the service graph over one SQLite file.
type workspace struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	retrieval *services.RetrievalService
	library   *services.LibraryService
	splitter  *services.Splitter
}

func (w *workspace) Close() error {
	return w.store.Close()
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "ragctl",
		Short: "Index and search documents with BM25 and TF-IDF ranking",
		Long: `ragctl runs the lexical retrieval pipeline against a local SQLite
database. Settings such as CHUNK_SIZE, ADVANCED_RAG and DEFAULT_SEARCH_METHOD
are read from the environment or a .env file, as for the API.

Examples:
  ragctl index notes.txt --title "Lecture 3"
  ragctl search "photosynthesis light reactions" -k 5 --method rrf
  ragctl extract https://go.dev/doc/effective_go`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitLoggerTo(cmd.ErrOrStderr(), opts.verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("RAGCTL_DB", "ragctl.db"), "SQLite database path")
	cmd.PersistentFlags().StringVarP(&opts.userID, "user", "u", "local", "Owner of the indexed documents")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(
		newIndexCmd(opts),
		newSearchCmd(opts),
		newInfoCmd(opts),
		newDeleteCmd(opts),
		newLibraryCmd(opts),
		newExtractCmd(opts),
		newChunkCmd(),
		newTokenCmd(),
	)
	return cmd
}

func openWorkspace(opts *globalOptions) (*workspace, error) {
	cfg, err := config.LoadRetrievalConfig()
	if err != nil {
		return nil, err
	}
	store, err := database.OpenSQLite(opts.dbPath)
	if err != nil {
		return nil, err
	}
	cache, err := indexcache.New(store, services.IndexCacheOptions(cfg, nil))
	if err != nil {
		store.Close()
		return nil, err
	}
	splitter, err := services.SplitterFrom(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	retrieval := services.NewRetrievalService(store, cache, services.RetrievalConfigFrom(cfg), nil)
	return &workspace{
		cfg:       cfg,
		store:     store,
		retrieval: retrieval,
		library:   services.NewLibraryService(store, retrieval, splitter),
		splitter:  splitter,
	}, nil
}

// readInput reads a file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
