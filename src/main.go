package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"

	"SpeedRecords/src/cache"
	"SpeedRecords/src/config"
	"SpeedRecords/src/datapush"
	"SpeedRecords/src/datasource/email"
	"SpeedRecords/src/datasource/file"
	"SpeedRecords/src/metrics"
	"SpeedRecords/src/processor"
	"SpeedRecords/src/server"
	"SpeedRecords/src/storage"
)

const (
	jsonFile     = "config.json"
	dataJsonFile = "dataconfig.json"
)

// app ties the pipeline cache to its inputs and outputs.
type app struct {
	cfg       *config.Config
	logger    *storage.Logger
	store     *cache.Store
	collector *metrics.Collector
	opts      processor.Options

	mailbox email.MailService
	handler *email.AttachmentHandler
	pusher  *datapush.Pusher

	mu     sync.RWMutex
	source string
}

func newApp(cfg *config.Config, dcfg *config.DataConfig, logger *storage.Logger) *app {
	collector := metrics.NewCollector("speed_records")
	opts := processor.OptionsFromConfig(cfg, dcfg)
	opts.Logger = logger
	opts.Observer = collector

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     cache.NewStore(opts),
		collector: collector,
		opts:      opts,
		source:    cfg.InputFile,
	}
	if cfg.Email.Enabled {
		a.mailbox = email.NewEmailClient(cfg.Email.Server, cfg.Email.Username, cfg.Email.Password, logger)
		a.handler = email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.DataDir,
			email.PipelineCheck(context.Background(), opts))
	}
	if cfg.Push.Enabled {
		a.pusher = datapush.NewPusher(cfg.Push.Webhook)
	}
	return a
}

func (a *app) sourcePath() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.source
}

func (a *app) setSource(path string) {
	a.mu.Lock()
	a.source = path
	a.mu.Unlock()
	a.logger.Infow("source switched", "path", path)
}

// current is the server's view of the data.
func (a *app) current(ctx context.Context) (*processor.Result, error) {
	return a.store.Get(ctx, a.sourcePath())
}

// refresh reloads the source and publishes the result.
func (a *app) refresh(ctx context.Context) error {
	start := time.Now()
	res, err := a.current(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if a.cfg.ExportPath == "" {
			return nil
		}
		if err := res.Export(a.cfg.ExportPath); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		a.logger.Infow("workbook exported", "path", a.cfg.ExportPath, "run", res.RunID)
		if !a.cfg.SendEmail.Enabled {
			return nil
		}
		report, err := email.NewReport(a.cfg, res, a.cfg.ExportPath)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		return email.SendReport(a.cfg, report)
	})
	g.Go(func() error {
		if a.pusher == nil {
			return nil
		}
		if err := a.pusher.PushSummary(gctx, res); err != nil {
			return fmt.Errorf("push: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := a.logger.CheckRotate(a.cfg); err != nil {
		a.logger.Errorw("log rotation failed", "error", err)
	}
	a.logger.Infow("refresh finished", "run", res.RunID, "elapsed", time.Since(start))
	return nil
}

// checkMail saves the newest drop and makes it the source. It reports
// whether the source changed.
func (a *app) checkMail() bool {
	newEmail, err := email.CheckAndProcessEmails(a.mailbox, a.cfg.Email.TargetSubject, a.logger)
	if err != nil {
		a.logger.Errorw("mail check failed", "error", err)
		return false
	}
	if newEmail == nil {
		return false
	}
	saved, err := a.handler.Handle(newEmail, a.logger)
	if err != nil {
		a.logger.Errorw("mail handling failed", "uid", newEmail.UID, "error", err)
	}
	if len(saved) == 0 {
		return false
	}
	if err := email.MarkHandled(a.mailbox, newEmail.UID); err != nil {
		a.logger.Warningw("mark mail seen failed", "uid", newEmail.UID, "error", err)
	}
	a.setSource(saved[len(saved)-1])
	return true
}

// watch reloads whenever the current source file changes on disk.
func (a *app) watch(ctx context.Context) error {
	dir := filepath.Dir(a.sourcePath())
	monitor, err := file.NewFileMonitor(dir, func(path string) bool {
		ext := strings.ToLower(filepath.Ext(path))
		return ext == ".csv" || ext == ".xlsx"
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	defer monitor.Close()

	// mailed drops land in data_dir and may become the source later
	if a.handler != nil && a.cfg.DataDir != "" {
		if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", a.cfg.DataDir, err)
		}
		if err := monitor.Add(a.cfg.DataDir); err != nil {
			return fmt.Errorf("watch %s: %w", a.cfg.DataDir, err)
		}
	}

	a.logger.Infow("watching for changes", "dir", dir, "data_dir", a.cfg.DataDir)
	return monitor.Watch(ctx, func(path string) {
		a.store.Invalidate(path)
		if !file.MatchPath(a.sourcePath())(path) {
			return
		}
		a.logger.Infow("source changed", "path", path)
		if _, err := a.current(ctx); err != nil {
			a.logger.Errorw("reload failed", "path", path, "error", err)
		}
	})
}

// reopen handles SIGHUP: reopen the log file and forget cached results.
func (a *app) reopen() {
	if err := a.logger.Reopen(""); err != nil {
		log.Println("reopen log:", err)
	}
	a.store.Clear()
	a.logger.Info("reloaded on SIGHUP")
}

// job is a periodic task run by cron.
type job struct {
	name     string
	interval time.Duration
	run      func()
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func configDir() string {
	if dir := os.Getenv(config.EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "./config"
}

func main() {
	cfg, dcfg, err := config.LoadConfig(configDir(), jsonFile, dataJsonFile)
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	logger.SetLevel(storage.ParseLevel(cfg.LogLevel))

	if err := writePidFile(cfg.PidFile); err != nil {
		logger.Errorw("write pid file failed", "path", cfg.PidFile, "error", err)
	} else if cfg.PidFile != "" {
		defer os.Remove(cfg.PidFile)
	}

	a := newApp(cfg, dcfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.mailbox != nil {
		a.checkMail()
	}
	if err := a.refresh(ctx); err != nil {
		logger.Errorw("initial refresh failed", "source", a.sourcePath(), "error", err)
	}

	c := cron.New()
	jobs := []job{
		{"refresh", cfg.RefreshInterval.Std(), func() {
			if err := a.refresh(ctx); err != nil {
				logger.Errorw("scheduled refresh failed", "error", err)
			}
		}},
	}
	if a.mailbox != nil {
		jobs = append(jobs, job{"mail", cfg.Email.CheckInterval.Std(), func() {
			if a.checkMail() {
				if err := a.refresh(ctx); err != nil {
					logger.Errorw("refresh after mail failed", "error", err)
				}
			}
		}})
	}
	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		spec := fmt.Sprintf("@every %s", j.interval)
		if err := c.AddFunc(spec, j.run); err != nil {
			logger.Errorw("schedule failed", "job", j.name, "spec", spec, "error", err)
			return
		}
		logger.Infow("job scheduled", "job", j.name, "spec", spec)
	}
	c.Start()
	defer c.Stop()

	if cfg.Watch {
		go func() {
			if err := a.watch(ctx); err != nil {
				logger.Errorw("file watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(cfg.HTTP, a.current, logger, a.collector)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Errorw("http server failed", "error", err)
			cancel()
		}
	}()

	waitForShutdown(ctx, logger, a.reopen)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("http shutdown failed", "error", err)
	}
	logger.Info("stopped")
	logger.Close()
}

// waitForShutdown blocks until SIGINT, SIGTERM or ctx is done. SIGHUP runs
// onHup and keeps waiting.
func waitForShutdown(ctx context.Context, logger *storage.Logger, onHup func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				onHup()
				continue
			}
			logger.Info("Received signal: " + sig.String() + ", shutting down...")
			return
		}
	}
}
