package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"luma-backend/internal/auth"
	"luma-backend/internal/config"
	"luma-backend/internal/crawler"
	"luma-backend/models"
	"luma-backend/services"
)

func newIndexCmd(opts *globalOptions) *cobra.Command {
	var title, documentID string

	cmd := &cobra.Command{
		Use:   "index [file|-]",
		Short: "Chunk a text file and index it as a document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if title == "" && len(args) == 1 && args[0] != "-" {
				title = filepath.Base(args[0])
			}

			ws, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer ws.Close()

			resp, err := ws.library.IndexText(cmd.Context(), opts.userID, models.IndexRequest{
				DocumentID: documentID,
				Title:      title,
				Text:       text,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().StringVar(&documentID, "document", "", "Re-index an existing document")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		k          int
		method     string
		documentID string
		alpha      float64
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank indexed chunks against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer ws.Close()

			searchOpts := services.SearchOptions{Query: strings.Join(args, " "), K: k, Method: method}
			if cmd.Flags().Changed("alpha") {
				searchOpts.Alpha = &alpha
			}
			resp, err := ws.retrieval.Search(cmd.Context(), models.DocumentScope(opts.userID, documentID), searchOpts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d result(s), method %s\n", resp.Count, resp.Method)
			for i, r := range resp.Results {
				fmt.Fprintf(out, "\n%d. [%.4f] %s #%d (%s)\n", i+1, r.Score, r.DocumentID, r.ChunkIndex, r.Source)
				fmt.Fprintf(out, "   %s\n", preview(r.Content, 240))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top", "k", 0, "Number of results (0 uses RAG_TOP_K)")
	cmd.Flags().StringVarP(&method, "method", "m", "", "bm25, tfidf, hybrid or rrf")
	cmd.Flags().StringVar(&documentID, "document", "", "Search one document instead of the whole corpus")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.5, "TF-IDF weight for hybrid ranking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response")
	return cmd
}

func newInfoCmd(opts *globalOptions) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show index state and available search methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer ws.Close()

			info, err := ws.retrieval.Info(cmd.Context(), models.DocumentScope(opts.userID, documentID))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "Inspect one document")
	return cmd
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one document, or every indexed chunk of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer ws.Close()

			var res *services.DeleteResult
			if documentID != "" {
				res, err = ws.library.Delete(cmd.Context(), models.DocumentScope(opts.userID, documentID))
			} else {
				res, err = ws.retrieval.Delete(cmd.Context(), models.UserScope(opts.userID))
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "Document to delete")
	return cmd
}

func newLibraryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "library",
		Short: "List indexed documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer ws.Close()

			docs, err := ws.library.List(cmd.Context(), opts.userID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range docs {
				fmt.Fprintf(out, "%s  %-8s %4d chunks  %s\n", d.ID.Hex(), d.Status, d.ChunkCount, d.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", services.DefaultLibraryLimit, "Maximum documents to list")
	return cmd
}

// inlineEnqueuer runs nothing; extract executes the job in-process.
type inlineEnqueuer struct{}

func (inlineEnqueuer) EnqueueExtract(ctx context.Context, job *models.ExtractionJob) error {
	return nil
}

func newExtractCmd(opts *globalOptions) *cobra.Command {
	var renderJS bool
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Fetch a web page and index its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer ws.Close()

			scraperCfg := crawler.ConfigFrom(ws.cfg, nil)
			scraperCfg.RenderJS = scraperCfg.RenderJS || renderJS
			extraction := services.NewExtractionService(ws.store, ws.library, crawler.NewScraper(scraperCfg), inlineEnqueuer{}, ws.cfg.JobTTL)

			job, err := extraction.Submit(cmd.Context(), opts.userID, args[0])
			if err != nil {
				return err
			}
			runErr := extraction.Run(cmd.Context(), job.ID, opts.userID, job.URL, true)
			done, err := extraction.GetJob(cmd.Context(), opts.userID, job.ID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), done); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&renderJS, "render", false, "Render the page in headless Chrome first")
	return cmd
}

func newChunkCmd() *cobra.Command {
	var (
		size, overlap int
		strategy      string
	)
	cmd := &cobra.Command{
		Use:   "chunk [file|-]",
		Short: "Preview how a text splits into chunks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			splitter, err := services.NewSplitter(size, overlap, strategy)
			if err != nil {
				return err
			}
			chunks := splitter.Chunks(text)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d chunk(s), estimated %d, strategy %s\n", len(chunks), splitter.Estimate(text), splitter.Strategy())
			for _, ch := range chunks {
				fmt.Fprintf(out, "\n#%d sentences %d-%d, %d words\n%s\n", ch.Index, ch.StartSentence, ch.EndSentence, ch.WordCount, ch.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 512, "Chunk size in words")
	cmd.Flags().IntVar(&overlap, "overlap", 50, "Overlap in words")
	cmd.Flags().StringVar(&strategy, "strategy", services.StrategySentence, "sentence or paragraph")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for local testing of the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiresIn, nil)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWTExpiresIn
			}
			tok, err := issuer.IssueWithTTL(args[0], ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tok)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRES_IN)")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
