package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ryabkov82/target-notion/internal/client"
	"github.com/ryabkov82/target-notion/internal/config"
	"github.com/ryabkov82/target-notion/internal/httpapi"
	"github.com/ryabkov82/target-notion/internal/ingest"
	"github.com/ryabkov82/target-notion/internal/job"
	"github.com/ryabkov82/target-notion/internal/metrics"
	"github.com/ryabkov82/target-notion/internal/sink"
	"github.com/ryabkov82/target-notion/internal/version"
)

func main() {
	// Stdout carries Singer state only
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// After the first signal, a second one terminates the process the default way
	context.AfterFunc(ctx, stop)

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

// run parses flags and executes one target run, reading messages from stdin unless --input is set
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to JSON or YAML configuration")
	inputPath := fs.String("input", "", "read Singer messages from file instead of stdin")
	about := fs.Bool("about", false, "print capabilities and settings, then exit")
	format := fs.String("format", "json", "--about output format: json or yaml")
	showVersion := fs.Bool("version", false, "print version, then exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		_, err := fmt.Fprintln(stdout, version.String())
		return err
	}
	if *about {
		return version.RenderAbout(stdout, *format)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log.Printf("%s starting, config: %+v", version.String(), cfg.Redacted())

	parser := ingest.NewParser(stdin)
	if *inputPath != "" {
		parser, err = ingest.OpenParser(*inputPath)
		if err != nil {
			return err
		}
	}
	defer parser.Close()

	m := metrics.New()
	store := job.NewStore()
	api := client.NewClient(cfg.APIBaseURL, cfg.APIKey, cfg.NotionVersion, cfg.TimeoutSeconds, m)

	if cfg.StatusListen != "" {
		server := &http.Server{
			Addr:    cfg.StatusListen,
			Handler: httpapi.SetupRouter(httpapi.NewHandler(store, m), cfg.StatusAPIKey),
		}
		go func() {
			log.Printf("Status server starting on %s", cfg.StatusListen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Status server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("Status server shutdown error: %v", err)
			}
		}()
	}

	return processRun(ctx, cfg, api, store, m, parser, stdout)
}

// processRun drives one run and records its outcome in store
func processRun(ctx context.Context, cfg *config.Config, api sink.Remote, store *job.Store, m *metrics.Metrics, parser *ingest.Parser, stdout io.Writer) error {
	runID := store.Start(cfg.Dedupe)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	if err := store.SetCancel(runID, runCancel); err != nil {
		log.Printf("Run %s: Failed to register cancel: %v", runID, err)
	}
	defer store.ClearCancel(runID)

	// Without deduplication every record is written as soon as it is read
	batchSize := cfg.BatchSize
	if !cfg.Dedupe {
		batchSize = 1
	}

	factory := newSinkFactory(cfg, api, store, runID, m)
	processor := ingest.NewProcessor(runID, store, m, parser, stdout, factory, batchSize)

	err := processor.Process(runCtx)
	log.Printf("Run %s: timings: %s", runID, processor.Timings())

	switch {
	case err == nil:
		if uerr := store.UpdateStatus(runID, job.StatusSucceeded); uerr != nil {
			// Canceled after the last batch was written; the outcome stays canceled
			log.Printf("Run %s: %v", runID, uerr)
			return nil
		}
		log.Printf("Run %s: Completed successfully", runID)
		return nil
	case errors.Is(err, context.Canceled):
		// Cancel() may already have marked the run
		if uerr := store.UpdateStatus(runID, job.StatusCanceled); uerr != nil {
			log.Printf("Run %s: %v", runID, uerr)
		}
		return err
	default:
		store.UpdateError(runID, err)
		if uerr := store.UpdateStatus(runID, job.StatusFailed); uerr != nil {
			log.Printf("Run %s: %v", runID, uerr)
		}
		return err
	}
}

// newSinkFactory builds sinks for streams: routing, schema discovery, and the dedupe mode
func newSinkFactory(cfg *config.Config, api sink.Remote, store *job.Store, runID string, m *metrics.Metrics) ingest.SinkFactory {
	observer := &ingest.RunObserver{RunID: runID, Store: store, Metrics: m}
	return func(ctx context.Context, stream string, keyProperties []string) (sink.Sink, error) {
		databaseID, err := cfg.DatabaseFor(stream)
		if err != nil {
			return nil, err
		}

		retry := cfg.RetryPolicy()
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Printf("%s: create page attempt %d failed, retrying in %v: %v", stream, attempt, delay, err)
			m.IncRetry(client.OpCreatePage)
		}

		sc, err := sink.NewContext(ctx, api, stream, databaseID, keyProperties, retry)
		if err != nil {
			return nil, err
		}
		sc.Observer = observer
		store.RegisterStream(runID, stream, databaseID)

		if !cfg.Dedupe {
			log.Printf("%s: writing to database %s without deduplication", stream, databaseID)
			return sink.NewImmediateSink(sc), nil
		}

		s, err := sink.NewBatchSink(sc)
		if err != nil {
			return nil, err
		}
		log.Printf("%s: writing to database %s, deduplicating on %s", stream, databaseID, sc.Key.DisplayName)
		return s, nil
	}
}
