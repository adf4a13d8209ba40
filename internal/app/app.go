// Package app initializes and holds the long-lived services of a citation
// run, acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/scholar-citations/internal/api"
	"github.com/JakeFAU/scholar-citations/internal/catalog"
	"github.com/JakeFAU/scholar-citations/internal/checkpoint"
	"github.com/JakeFAU/scholar-citations/internal/classify"
	"github.com/JakeFAU/scholar-citations/internal/clock/system"
	"github.com/JakeFAU/scholar-citations/internal/config"
	"github.com/JakeFAU/scholar-citations/internal/endpoint"
	collyfetcher "github.com/JakeFAU/scholar-citations/internal/fetcher/colly"
	"github.com/JakeFAU/scholar-citations/internal/fetcher/headless"
	idgen "github.com/JakeFAU/scholar-citations/internal/id/uuid"
	"github.com/JakeFAU/scholar-citations/internal/logging"
	"github.com/JakeFAU/scholar-citations/internal/policy/ratelimit"
	"github.com/JakeFAU/scholar-citations/internal/progress"
	"github.com/JakeFAU/scholar-citations/internal/progress/sinks"
	"github.com/JakeFAU/scholar-citations/internal/prompt"
	"github.com/JakeFAU/scholar-citations/internal/report"
	"github.com/JakeFAU/scholar-citations/internal/retrieval"
	gcsstore "github.com/JakeFAU/scholar-citations/internal/storage/gcs"
)

// Clock is what the run needs from a time source.
type Clock interface {
	retrieval.Clock
	retrieval.Sleeper
}

// Options overrides collaborators. Zero values select the production ones:
// os streams, a Chrome session for search pages, colly for the catalog and
// the checkpoint backend named in the config.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	// Prompts go here so they stay apart from the report table.
	Stderr io.Writer

	SearchFetcher  retrieval.Fetcher
	CatalogFetcher catalog.PageFetcher
	Store          retrieval.CheckpointStore
	Clock          Clock
	// GCSOptions are passed to storage.NewClient for the gcs backend.
	GCSOptions []option.ClientOption
}

// Selection is the proceedings year and optional month (0 when unset) plus
// the CSV output directory; an empty CSVDir uses report.output_dir.
type Selection struct {
	Year   int
	Month  int
	CSVDir string
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Rows      []report.Row
	CSVPath   string
	Resolved  int
	NoResult  int
	Errored   int
	Citations int
}

// App holds the shared services of one run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	opts     Options
	clock    Clock
	runID    uuid.UUID
	registry *prometheus.Registry
	status   *sinks.StatusSink
	hub      *progress.Hub
	recorder *progress.Recorder
	gcs      *storage.Client
	objects  *gcsstore.ObjectStore

	serverCancel context.CancelFunc
	serverDone   chan struct{}
	closeOnce    sync.Once
}

// GetLogger returns the run-scoped logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetRunID returns the identifier stamped on every progress event.
func (a *App) GetRunID() string {
	return a.runID.String()
}

// GetRegistry exposes the Prometheus registry backing /metrics.
func (a *App) GetRegistry() *prometheus.Registry {
	return a.registry
}

// GetStatus returns the live run snapshot.
func (a *App) GetStatus() sinks.Status {
	return a.status.Snapshot()
}

// New builds the observers, the checkpoint backend and, when configured, the
// status listener. It fails fast if any of them cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return nil, err
	}
	logger = logging.ForRun(logger, runID.String())
	logger.Info("initializing run services")

	a := &App{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		clock:    clock,
		runID:    runID,
		registry: prometheus.NewRegistry(),
		status:   sinks.NewStatusSink(),
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	a.hub = progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		a.status,
	)
	a.recorder = progress.NewRecorder(a.hub, progress.UUIDToBytes(runID), clock.Now)

	if err := a.initBackend(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		if err := a.startServer(addr); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	logger.Info("run services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("metrics_addr", cfg.Metrics.ListenAddr),
	)
	return a, nil
}

func (a *App) initBackend(ctx context.Context) error {
	if a.opts.Store != nil {
		return nil
	}
	cpCfg := a.cfg.Checkpoint
	switch cpCfg.Backend {
	case config.BackendFile, config.BackendMemory:
		return nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx, a.opts.GCSOptions...)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.gcs = client
		objects, err := gcsstore.New(client, gcsstore.Config{Bucket: cpCfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		a.objects = objects
		return nil
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", cpCfg.Backend)
	}
}

// checkpointStore opens the record for one proceedings year.
func (a *App) checkpointStore(year int) (retrieval.CheckpointStore, error) {
	if a.opts.Store != nil {
		return a.opts.Store, nil
	}
	cpCfg := a.cfg.Checkpoint
	switch cpCfg.Backend {
	case config.BackendFile:
		path := checkpoint.ForYear(cpCfg.Path, year)
		store, err := checkpoint.NewFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
		a.logger.Info("using file checkpoint", zap.String("path", path))
		return store, nil
	case config.BackendGCS:
		object := checkpoint.ForYear(cpCfg.GCSObject, year)
		store, err := checkpoint.NewRemoteStore(a.objects, object)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
		a.logger.Info("using gcs checkpoint",
			zap.String("bucket", cpCfg.GCSBucket),
			zap.String("object", object),
		)
		return store, nil
	case config.BackendMemory:
		a.logger.Warn("using in-memory checkpoint; progress will not survive a restart")
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", cpCfg.Backend)
	}
}

func (a *App) startServer(addr string) error {
	srv, err := api.NewServer(a.status, a.registry, api.Config{APIKey: a.cfg.Metrics.APIKey}, a.logger.Named("api"))
	if err != nil {
		return fmt.Errorf("init status server: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.serverCancel = cancel
	a.serverDone = make(chan struct{})
	go func() {
		defer close(a.serverDone)
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	return nil
}

// Run resolves the citations of every paper in the selected proceedings and
// writes the ranking. A fatal retrieval error is returned after the last
// checkpoint was saved; nothing is reported in that case.
func (a *App) Run(ctx context.Context, sel Selection) (Summary, error) {
	if err := catalog.ValidateSelection(sel.Year, sel.Month, a.clock.Now()); err != nil {
		return Summary{}, err
	}

	store, err := a.checkpointStore(sel.Year)
	if err != nil {
		return Summary{}, err
	}

	items, err := a.loadCatalog(ctx, sel.Year)
	if err != nil {
		return Summary{}, err
	}

	fetcher, release, err := a.searchFetcher()
	if err != nil {
		return Summary{}, err
	}
	defer release()

	classifier, err := classify.New(a.cfg.Scholar.ClassifierConfig())
	if err != nil {
		return Summary{}, fmt.Errorf("init classifier: %w", err)
	}
	rotator, err := endpoint.NewRotator(a.cfg.Scholar.Endpoints)
	if err != nil {
		return Summary{}, fmt.Errorf("init endpoints: %w", err)
	}
	terminal := prompt.NewTerminal(a.opts.Stdin, a.opts.Stderr)

	machine := retrieval.NewMachine(
		fetcher,
		classifier,
		rotator,
		a.cfg.Scholar.Template(),
		terminal,
		a.clock,
		a.recorder,
		a.logger.Named("machine"),
	)
	driver := retrieval.NewDriver(
		machine,
		store,
		terminal,
		a.clock,
		retrieval.DriverConfig{Pacing: a.cfg.Scholar.Pacing},
		a.recorder,
		a.logger.Named("driver"),
	)

	results, err := driver.Run(ctx, items)
	if err != nil {
		return Summary{RunID: a.GetRunID()}, fmt.Errorf("retrieve citations: %w", err)
	}

	return a.writeReport(sel, items, results)
}

func (a *App) loadCatalog(ctx context.Context, year int) ([]retrieval.Item, error) {
	pages := a.opts.CatalogFetcher
	if pages == nil {
		pages = collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Catalog.UserAgent,
			RespectRobots: a.cfg.Catalog.RespectRobots,
			Timeout:       a.cfg.Catalog.Timeout,
		})
	}
	loader, err := catalog.NewLoader(pages, catalog.Config{BaseURL: a.cfg.Catalog.BaseURL}, a.logger.Named("catalog"))
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	items, err := loader.Load(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return items, nil
}

// searchFetcher returns the rate-limited page source for search queries and
// its release func.
func (a *App) searchFetcher() (retrieval.Fetcher, func(), error) {
	limiter := ratelimit.New(a.cfg.Scholar.RateLimit)
	if a.opts.SearchFetcher != nil {
		return ratelimit.Wrap(a.opts.SearchFetcher, limiter, a.logger.Named("ratelimit")), func() {}, nil
	}
	browser, err := headless.NewChromedp(a.cfg.Browser, a.clock, a.logger.Named("browser"))
	if err != nil {
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}
	return ratelimit.Wrap(browser, limiter, a.logger.Named("ratelimit")), browser.Close, nil
}

func (a *App) writeReport(sel Selection, items []retrieval.Item, results []retrieval.Result) (Summary, error) {
	rows, err := report.Build(items, results, sel.Year, sel.Month, a.clock.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("build report: %w", err)
	}
	withMonth := sel.Month != 0
	if err := report.Print(a.opts.Stdout, rows, withMonth); err != nil {
		return Summary{}, err
	}
	dir := sel.CSVDir
	if dir == "" {
		dir = a.cfg.Report.OutputDir
	}
	path, err := report.WriteCSV(dir, sel.Year, rows, withMonth)
	if err != nil {
		return Summary{}, err
	}
	a.logger.Info("report written", zap.String("path", path), zap.Int("rows", len(rows)))

	sum := Summary{RunID: a.GetRunID(), Rows: rows, CSVPath: path}
	for _, res := range results {
		switch res.Note {
		case "":
			sum.Resolved++
			sum.Citations += res.Citations
		case retrieval.NoResultsNote:
			sum.NoResult++
		default:
			sum.Errored++
		}
	}
	return sum, nil
}

// Close drains the progress hub and stops the status listener and the GCS
// client. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close progress hub: %w", err))
			}
		}
		if a.serverCancel != nil {
			a.serverCancel()
			select {
			case <-a.serverDone:
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
			}
		}
		if a.gcs != nil {
			if err := a.gcs.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close gcs client: %w", err))
			}
		}
		a.logger.Info("run services closed")
	})
	return errors.Join(errs...)
}
