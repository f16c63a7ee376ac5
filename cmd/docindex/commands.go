package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/docindex"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/metrics"
	"github.com/poiesic/docindex/reprocess"
	"github.com/poiesic/docindex/search"
	"github.com/poiesic/docindex/storage"
)

func collectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "collection",
		Usage: "Collection ID (UUID) owning the documents",
	}
}

func parseCollection(c *cli.Context) (core.CollectionID, error) {
	value := c.String("collection")
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid collection id %q: %w", value, err)
	}
	return id, nil
}

func openIndex(c *cli.Context) (*docindex.Index, error) {
	cfg := loadedConfig(c)
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	idx, err := docindex.Open(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return idx, nil
}

// startWorkers runs the worker pool in the background. The returned func
// closes the queue and waits for the workers to drain it.
func startWorkers(ctx context.Context, idx *docindex.Index) (func() error, error) {
	pool, err := idx.NewWorkerPool()
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	return func() error {
		idx.Queue().Close()
		err := <-done
		pool.Release()
		return err
	}, nil
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Submit files and process them before exiting",
		ArgsUsage: "<file...>",
		Flags:     []cli.Flag{collectionFlag()},
		Action:    ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	collection, err := parseCollection(c)
	if err != nil {
		return err
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	wait, err := startWorkers(c.Context, idx)
	if err != nil {
		return err
	}

	var submitted []*core.Document
	var submitErr error
	for _, path := range c.Args().Slice() {
		doc, err := idx.Submit(c.Context, path, collection)
		if err != nil {
			submitErr = errors.Join(submitErr, fmt.Errorf("%s: %w", path, err))
			continue
		}
		submitted = append(submitted, doc)
	}

	if err := wait(); err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	for _, doc := range submitted {
		stored, err := idx.Documents().GetDocument(c.Context, doc.ID)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s\t%s\t%s", stored.ID, stored.Status, stored.OriginalFileName)
		if stored.StatusMessage != "" {
			line += "\t" + stored.StatusMessage
		}
		fmt.Fprintln(c.App.Writer, line)
	}
	return submitErr
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run workers, the upload watcher and the metrics endpoint until signalled",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "watch",
				Usage: "Directory to watch for new files (overrides uploads.watch)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Address for the Prometheus endpoint (overrides metrics.addr)",
			},
			collectionFlag(),
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collection, err := parseCollection(c)
	if err != nil {
		return err
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	cfg := idx.Config()
	watchDir := cfg.Uploads.Watch
	if c.IsSet("watch") {
		watchDir = c.String("watch")
	}
	metricsAddr := cfg.Metrics.Addr
	if c.IsSet("metrics-addr") {
		metricsAddr = c.String("metrics-addr")
	}

	pool, err := idx.NewWorkerPool()
	if err != nil {
		return err
	}
	defer pool.Release()

	errs := make(chan error, 3)
	running := 1
	go func() { errs <- pool.Run(ctx) }()

	if watchDir != "" {
		watcher, err := idx.NewWatcher(watchDir, collection)
		if err != nil {
			stop()
			<-errs
			return err
		}
		running++
		go func() { errs <- watcher.Run(ctx) }()
	}
	if metricsAddr != "" {
		running++
		go func() { errs <- metrics.Serve(ctx, metricsAddr, idx.Gatherer()) }()
	}

	slog.Info("serving", "workers", pool.Size(), "watch", watchDir, "metrics", metricsAddr)

	var result error
	for range running {
		err := <-errs
		if err != nil && !errors.Is(err, core.ErrCancelled) {
			result = errors.Join(result, err)
		}
		// One component stopping takes the rest down with it.
		stop()
	}
	return result
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find the chunks nearest to a query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of results",
				Value:   search.DefaultLimit,
			},
		},
		Action: searchAction,
	}
}

func searchAction(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a query is required")
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	results, err := idx.Search(c.Context, query, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(c.App.Writer, "No results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(c.App.Writer, "%d. %s #%d (score %.4f)\n", i+1, r.Document.OriginalFileName, r.Chunk.Index, r.Score)
		fmt.Fprintf(c.App.Writer, "   %s\n", snippet(r.Chunk.Content, 200))
	}
	return nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored documents",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "status",
				Usage: "Only documents in these states (pending, processing, completed, failed)",
			},
			collectionFlag(),
			&cli.StringFlag{
				Name:  "name",
				Usage: "Only documents whose file name contains this text",
			},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "Sort field (uploaded_at, file_name, size)",
				Value: string(storage.SortByUploadedAt),
			},
			&cli.BoolFlag{
				Name:  "desc",
				Usage: "Sort descending",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of documents",
				Value: storage.DefaultPageSize,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of documents to skip",
			},
		},
		Action: listAction,
	}
}

func parseStatuses(names []string) ([]core.DocumentStatus, error) {
	statuses := make([]core.DocumentStatus, 0, len(names))
	for _, name := range names {
		status, err := core.ParseDocumentStatus(name)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func listAction(c *cli.Context) error {
	statuses, err := parseStatuses(c.StringSlice("status"))
	if err != nil {
		return err
	}
	collection, err := parseCollection(c)
	if err != nil {
		return err
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	docs, err := idx.Documents().ListDocuments(c.Context, storage.DocumentQuery{
		CollectionID: collection,
		Statuses:     statuses,
		NameContains: c.String("name"),
		SortBy:       storage.SortField(c.String("sort")),
		Descending:   c.Bool("desc"),
		Offset:       c.Int("offset"),
		Limit:        c.Int("limit"),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSIZE\tUPLOADED\tNAME")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", doc.ID, doc.Status, doc.Size,
			doc.UploadedAt.Format(time.RFC3339), doc.OriginalFileName)
	}
	return w.Flush()
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one document and its chunk count",
		ArgsUsage: "<id>",
		Action:    showAction,
	}
}

func parseDocumentArg(c *cli.Context) (core.DocumentID, error) {
	if c.NArg() != 1 {
		return uuid.Nil, errors.New("exactly one document id is required")
	}
	return core.ParseDocumentID(c.Args().First())
}

func showAction(c *cli.Context) error {
	id, err := parseDocumentArg(c)
	if err != nil {
		return err
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	doc, err := idx.Documents().GetDocument(c.Context, id)
	if err != nil {
		return err
	}
	chunks, err := idx.Chunks().CountByDocument(c.Context, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", doc.ID)
	fmt.Fprintf(w, "Collection:\t%s\n", doc.CollectionID)
	fmt.Fprintf(w, "File:\t%s\n", doc.OriginalFileName)
	fmt.Fprintf(w, "Stored as:\t%s\n", doc.FilePath)
	fmt.Fprintf(w, "Content type:\t%s\n", doc.ContentType)
	fmt.Fprintf(w, "Size:\t%d\n", doc.Size)
	fmt.Fprintf(w, "Status:\t%s\n", doc.Status)
	if doc.StatusMessage != "" {
		fmt.Fprintf(w, "Message:\t%s\n", doc.StatusMessage)
	}
	fmt.Fprintf(w, "Uploaded:\t%s\n", doc.UploadedAt.Format(time.RFC3339))
	if !doc.ProcessedAt.IsZero() {
		fmt.Fprintf(w, "Processed:\t%s\n", doc.ProcessedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Chunks:\t%d\n", chunks)
	return w.Flush()
}

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:  "reprocess",
		Usage: "Run documents through the pipeline again",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "status",
				Usage: "Reprocess documents in these states",
				Value: cli.NewStringSlice(core.StatusFailed.String()),
			},
			&cli.StringSliceFlag{
				Name:  "id",
				Usage: "Reprocess these documents regardless of status",
			},
			collectionFlag(),
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N documents",
				Value: 10,
			},
		},
		Action: reprocessAction,
	}
}

func reprocessAction(c *cli.Context) error {
	statuses, err := parseStatuses(c.StringSlice("status"))
	if err != nil {
		return err
	}
	collection, err := parseCollection(c)
	if err != nil {
		return err
	}
	if c.Int("report-interval") <= 0 {
		return errors.New("report-interval must be greater than 0")
	}
	var ids []core.DocumentID
	for _, value := range c.StringSlice("id") {
		id, err := core.ParseDocumentID(value)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	cfg := reprocess.DefaultConfig()
	cfg.Statuses = statuses
	cfg.CollectionID = collection
	cfg.ReportInterval = c.Int("report-interval")

	r, err := idx.NewReprocessor(cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}

	wait, err := startWorkers(c.Context, idx)
	if err != nil {
		return err
	}

	var n int
	if len(ids) > 0 {
		n, err = r.RunIDs(c.Context, ids...)
	} else {
		n, err = r.Run(c.Context)
	}
	if waitErr := wait(); waitErr != nil {
		err = errors.Join(err, waitErr)
	}
	if err != nil {
		return fmt.Errorf("reprocessing failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Reprocessed %d documents\n", n)
	return nil
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a document, its chunks and its stored upload",
		ArgsUsage: "<id>",
		Action:    deleteAction,
	}
}

func deleteAction(c *cli.Context) error {
	id, err := parseDocumentArg(c)
	if err != nil {
		return err
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.DeleteDocument(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %s\n", id)
	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration",
		Action: func(c *cli.Context) error {
			data, err := loadedConfig(c).YAML()
			if err != nil {
				return err
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}
