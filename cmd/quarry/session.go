package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/config"
	"github.com/quarrypm/quarry/internal/dispatch"
	"github.com/quarrypm/quarry/internal/lock"
	"github.com/quarrypm/quarry/internal/log"
	"github.com/quarrypm/quarry/internal/report"
	"github.com/quarrypm/quarry/internal/solve"
)

// session holds everything one CLI invocation needs: the loaded config, a
// running dispatcher, and the optional monitor UI and metrics endpoint.
// Output is buffered while the monitor owns the terminal and flushed by
// Close.
type session struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	channels   solve.ChannelConfig
	platform   buildenv.Platform
	cacheRoot  string

	program    *tea.Program
	programErr chan error
	metricsSrv *http.Server
	cacheLock  *lock.PIDLock

	closeOnce sync.Once
	closeErr  error
	output    []string
}

// runCommand wraps a command body with session setup, signal handling, and
// teardown.
func runCommand(flags *appFlags, body func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, flags)
	if err != nil {
		return err
	}

	bodyErr := body(ctx, s)
	if closeErr := s.Close(); bodyErr == nil {
		bodyErr = closeErr
	}
	return bodyErr
}

func openSession(ctx context.Context, flags *appFlags) (*session, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	log.Setup(level)

	channelEntries := cfg.Channels
	if len(flags.channels) > 0 {
		channelEntries = flags.channels
	}
	channels, err := resolveChannels(channelEntries)
	if err != nil {
		return nil, err
	}

	platform := buildenv.Current()
	if cfg.Platform != "" {
		platform = buildenv.Platform(cfg.Platform)
	}
	if flags.platform != "" {
		platform = buildenv.Platform(flags.platform)
	}

	s := &session{cfg: cfg, channels: channels, platform: platform}

	reporters := report.Multi{report.NewLogReporter()}
	if flags.monitor {
		monitor, feed := report.NewMonitor()
		reporters = append(reporters, feed)
		s.program = tea.NewProgram(monitor)
		s.programErr = make(chan error, 1)
		go func() {
			_, err := s.program.Run()
			s.programErr <- err
		}()
	} else {
		reporters = append(reporters, report.NewConsoleReporter(os.Stderr))
	}
	if cfg.Metrics.Enabled {
		metrics := report.NewMetricsReporter()
		reporters = append(reporters, metrics)
		s.metricsSrv = serveMetrics(cfg.Metrics.Listen, metrics)
	}

	cacheRoot := cfg.CacheDir
	if cacheRoot == "" {
		cacheRoot, err = cache.DefaultRoot()
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	s.cacheRoot = cacheRoot
	dirs, err := cache.NewDirs(cacheRoot)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Work directories and prefixes are mutated in place; one process per
	// cache root.
	s.cacheLock, err = lock.AcquirePIDLock(filepath.Join(cacheRoot, "quarry.lock"))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("cache root %s is in use: %w", cacheRoot, err)
	}

	builder := dispatch.NewBuilder().
		WithCacheDirs(dirs).
		WithSolver(solve.NewLocalSolver()).
		WithInstaller(solve.NewLocalInstaller()).
		WithReporter(reporters).
		WithLimits(dispatch.Limits{
			MaxConcurrentSolves: dispatch.Limit(cfg.Limits.MaxConcurrentSolves),
			MaxConcurrentBuilds: dispatch.Limit(cfg.Limits.MaxConcurrentBuilds),
		})

	dispatcher, err := builder.Finish(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dispatcher = dispatcher
	return s, nil
}

func serveMetrics(listen string, metrics *report.MetricsReporter) *http.Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: listen, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics endpoint failed", "listen", listen, "error", err)
		}
	}()
	return srv
}

// printf queues user-facing output. It prints immediately unless the monitor
// owns the terminal.
func (s *session) printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.program != nil {
		s.output = append(s.output, line)
		return
	}
	fmt.Print(line)
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.dispatcher != nil {
			s.closeErr = s.dispatcher.Close()
		}
		if s.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = s.metricsSrv.Shutdown(ctx)
			cancel()
		}
		if s.program != nil {
			s.program.Quit()
			<-s.programErr
		}
		if s.cacheLock != nil {
			_ = s.cacheLock.Release()
		}
		for _, line := range s.output {
			fmt.Print(line)
		}
	})
	return s.closeErr
}

// resolveChannels turns config or flag channel entries into named channels.
// Anything without a URL scheme is treated as a local directory.
func resolveChannels(entries []string) (solve.ChannelConfig, error) {
	cc := solve.ChannelConfig{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "://") {
			cc.Channels = append(cc.Channels, solve.Channel{Name: entry, URL: entry})
			continue
		}
		abs, err := filepath.Abs(entry)
		if err != nil {
			return solve.ChannelConfig{}, fmt.Errorf("invalid channel %q: %w", entry, err)
		}
		cc.Channels = append(cc.Channels, solve.Channel{Name: filepath.Base(abs), URL: abs})
	}
	return cc, nil
}
