package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/airport-sync/internal/api"
	"github.com/johndauphine/airport-sync/internal/config"
	"github.com/johndauphine/airport-sync/internal/importer"
	"github.com/johndauphine/airport-sync/internal/logging"
	"github.com/johndauphine/airport-sync/internal/model"
	"github.com/johndauphine/airport-sync/internal/notify"
	"github.com/johndauphine/airport-sync/internal/orchestrator"
	"github.com/johndauphine/airport-sync/internal/population"
	"github.com/johndauphine/airport-sync/internal/progress"
	"github.com/johndauphine/airport-sync/internal/sizing"
	"github.com/johndauphine/airport-sync/internal/snapshot"
	"github.com/johndauphine/airport-sync/internal/target"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(c.String("config"), config.LoadOptions{
		EnvFile: c.String("env-file"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Cancelling running import...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// app bundles the components shared by the commands.
type app struct {
	cfg   *config.Config
	store *target.Store
	orch  *orchestrator.Orchestrator
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func newApp(ctx context.Context, cfg *config.Config, reporter progress.Reporter) (*app, error) {
	store, err := target.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}

	majors, err := sizing.LoadMajors(cfg.Import.MajorsFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	if majors.Len() > 0 {
		logging.Info("Loaded %d curated major airports", majors.Len())
	}

	a.orch = orchestrator.New(orchestrator.Options{
		Store:        store,
		Pipelines:    orchestrator.Pipelines(importer.Pipelines(store, majors)),
		Locator:      snapshot.NewLocator(cfg.Import.SnapshotDir, objectStore(ctx, cfg)),
		Registry:     progress.NewRegistry(reporter),
		Notifier:     notify.New(&cfg.Slack),
		StoreType:    cfg.Store.Type,
		PollInterval: cfg.Import.PollInterval,
		ErrorBackoff: cfg.Import.ErrorBackoff,
	})
	return a, nil
}

// objectStore returns nil when no S3 client can be built; local snapshot
// handles keep working.
func objectStore(ctx context.Context, cfg *config.Config) snapshot.ObjectStore {
	client, err := snapshot.NewS3Client(ctx, cfg.S3)
	if err != nil {
		logging.Warn("S3 snapshots disabled: %v", err)
		return nil
	}
	return client
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var reporter progress.Reporter
	if cfg.Import.ProgressJSON {
		reporter = progress.NewJSONReporter(os.Stderr, 5*time.Second)
	}
	a, err := newApp(ctx, cfg, reporter)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errOnce.Do(func() { runErr = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	start("orchestrator", a.orch.Run)

	if cfg.Population.Enabled {
		client := population.NewHTTPClient(cfg.Population.URL, cfg.Population.Timeout)
		for _, name := range cfg.Population.Sources {
			src, err := model.ParseSource(name)
			if err != nil {
				cancel()
				wg.Wait()
				return err
			}
			s := population.NewScheduler(src, a.store, client, cfg.Population.BatchSize, cfg.Population.PollInterval)
			start("population "+name, s.Run)
		}
	}

	if cfg.Metrics.Listen != "" {
		handler := api.NewHandler(a.orch)
		start("http", func(ctx context.Context) error {
			return api.Serve(ctx, cfg.Metrics.Listen, handler)
		})
	}

	wg.Wait()
	return runErr
}

func runQueued(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var reporters progress.MultiReporter
	if progress.IsTerminal(os.Stderr) {
		reporters = append(reporters, progress.NewBarReporter(os.Stderr))
	}
	if c.Bool("progress-json") || cfg.Import.ProgressJSON {
		reporters = append(reporters, progress.NewJSONReporter(os.Stdout, 2*time.Second))
	}
	var reporter progress.Reporter
	if len(reporters) > 0 {
		reporter = reporters
		defer reporters.Close()
	}

	a, err := newApp(ctx, cfg, reporter)
	if err != nil {
		return err
	}
	defer a.Close()

	processed := 0
	for ctx.Err() == nil {
		ok, err := a.orch.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		processed++
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	logging.Info("%d import jobs processed", processed)
	return nil
}

func enqueue(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	typ := c.String("type")
	if _, ok := importer.Pipelines(nil, nil)[typ]; !ok {
		return fmt.Errorf("%w %q", orchestrator.ErrUnknownJobType, typ)
	}

	ctx := context.Background()
	store, err := target.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	job := &model.ImportJob{
		Type:           typ,
		Source:         c.String("source"),
		RequestingUser: c.String("user"),
	}
	if err := store.CreateJob(ctx, job); err != nil {
		return err
	}
	fmt.Println(job.ID)
	return nil
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orch.JobStatus(ctx, c.String("job"))
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return printJSON(result)
	}
	orchestrator.PrintStatus(os.Stdout, result)
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.orch.History(ctx, c.Int("limit"))
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return printJSON(jobs)
	}
	orchestrator.PrintHistory(os.Stdout, jobs)
	return nil
}

func classify(c *cli.Context) error {
	majorsFile := ""
	if cfg, err := loadConfig(c); err == nil {
		majorsFile = cfg.Import.MajorsFile
	} else {
		logging.Debug("Classifying without config: %v", err)
	}

	majors, err := sizing.LoadMajors(majorsFile)
	if err != nil {
		return err
	}

	res, in, err := importer.ClassifySnapshot(context.Background(), c.String("snapshot"), c.String("ident"), majors)
	if err != nil {
		return err
	}

	fmt.Printf("Airport:    %s\n", in.Ident)
	fmt.Printf("Runways:    %d\n", len(in.Runways))
	fmt.Printf("Approaches: %d\n", len(in.ApproachTypes))
	fmt.Printf("Gates:      %d\n", in.ParkingGates)
	fmt.Printf("Size:       %d\n", res.Size)
	if res.Inconsistent {
		fmt.Println("Warning:    curated major does not qualify for class 5")
	}
	return nil
}

func showPopulation(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := target.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("%-8s %15s %8s %8s\n", "Source", "NeedsHandling", "Queued", "Handled")
	for _, src := range []model.Source{model.SourceMSFS, model.SourceXPlane} {
		counts, err := store.PopulationCounts(ctx, src)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %15d %8d %8d\n", src,
			counts[model.NeedsHandling], counts[model.Queued], counts[model.Handled])
	}
	return nil
}

func initDB(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := target.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logging.Info("Schema ready on %s store", cfg.Store.Type)
	return nil
}

func showConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg.Sanitized())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
