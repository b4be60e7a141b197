package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cilium/ebpf/btf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tcassar-diss/retsnoop/bpf"
	"github.com/tcassar-diss/retsnoop/funcs"
	"github.com/tcassar-diss/retsnoop/ksyms"
	"github.com/tcassar-diss/retsnoop/pipeline"
	"github.com/tcassar-diss/retsnoop/report"
	"github.com/tcassar-diss/retsnoop/stack"
	"github.com/tcassar-diss/retsnoop/symbolize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var ErrNoEventSource = errors.New("no event source, use --ringbuf or --replay")

type RetsnoopCfg struct {
	FuncsPath    string // function table written by the attacher
	BTFPath      string // empty: running kernel's BTF
	KallsymsPath string
	VmlinuxPath  string // empty: look in the usual places

	RingbufPath string
	ReplayPath  string
	RecordPath  string

	Entry   []string
	Presets []string

	Verbosity    int // -v count
	Symbolize    int // -s count: 1 adds source lines, 2 adds inlined calls too
	FtraceOffset uint64

	CSVPath     string
	MetricsAddr string
	PollTimeout time.Duration

	Stdout io.Writer
}

func DefaultRetsnoopCfg() *RetsnoopCfg {
	return &RetsnoopCfg{
		KallsymsPath: ksyms.DefaultPath,
		FtraceOffset: stack.FtraceOffset,
		PollTimeout:  pipeline.DefaultPollTimeout,
		Stdout:       os.Stdout,
	}
}

// RunRetsnoop prints every error stack delivered until ctx is cancelled or
// the event source is exhausted.
func RunRetsnoop(ctx context.Context, cfg *RetsnoopCfg) error {
	logger, err := initLogger(cfg.Verbosity)
	if err != nil {
		return fmt.Errorf("failed to get a logger: %w", err)
	}
	defer logger.Sync()

	logger.Infow("=== Launching retsnoop ===")

	table, err := loadFunctions(logger, cfg)
	if err != nil {
		return err
	}

	syms, err := ksyms.Load(cfg.KallsymsPath)
	if err != nil {
		return fmt.Errorf("failed to load kernel symbols: %w", err)
	}

	logger.Infow("loaded kernel symbols", "path", cfg.KallsymsPath, "count", syms.Len())

	printCfg := report.DefaultConfig()
	printCfg.Verbose = cfg.Verbosity > 0

	if cfg.Symbolize > 0 {
		resolver, closeFn, err := initSymbolizer(ctx, logger, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialise symbolization: %w", err)
		}
		defer closeFn()

		printCfg.Resolver = resolver
	}

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.Filter.Verbose = printCfg.Verbose
	pipeCfg.Filter.FtraceOffset = cfg.FtraceOffset
	pipeCfg.Debug = cfg.Verbosity > 1

	handler := pipeline.NewHandler(logger, table, syms, report.NewPrinter(logger, cfg.Stdout, printCfg), pipeCfg)

	if cfg.CSVPath != "" {
		f, err := os.Create(cfg.CSVPath)
		if err != nil {
			return fmt.Errorf("failed to create csv output: %w", err)
		}
		defer f.Close()

		handler.SetCSV(report.NewCSVWriter(f, printCfg.Errnos))
	}

	handle := handler.HandleEvent

	if cfg.RecordPath != "" {
		f, err := os.Create(cfg.RecordPath)
		if err != nil {
			return fmt.Errorf("failed to create record file: %w", err)
		}
		defer f.Close()

		handle = bpf.NewRecorder(f).Wrap(handle)
	}

	src, err := openSource(logger, cfg, handle)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		return pipeline.Run(gctx, logger, src, cfg.PollTimeout)
	})

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(handler); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}

		g.Go(func() error {
			return serveMetrics(gctx, logger, cfg.MetricsAddr, reg)
		})
	}

	err = g.Wait()

	stats := handler.Stats()
	logger.Infow("done",
		"received", stats.Received,
		"printed", stats.Printed,
		"skipped", stats.Skipped,
		"malformed", stats.Malformed,
	)

	return err
}

func initLogger(verbosity int) (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()

	switch {
	case verbosity <= 0:
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case verbosity == 1:
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to get production zap logger: %w", err)
	}

	return l.Sugar(), nil
}

func loadFunctions(logger *zap.SugaredLogger, cfg *RetsnoopCfg) (*funcs.Table, error) {
	table, err := ParseTOMLFunctions(cfg.FuncsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load function table: %w", err)
	}

	logger.Infow("loaded function table", "path", cfg.FuncsPath, "count", table.Len())

	var spec *btf.Spec

	if cfg.BTFPath != "" {
		spec, err = btf.LoadSpec(cfg.BTFPath)
	} else {
		spec, err = btf.LoadKernelSpec()
	}

	if err != nil {
		// functions without a classification keep plain int handling
		logger.Warnw("failed to load BTF, return values are not classified", "error", err)
	} else if err := table.ClassifyFromBTF(logger, spec); err != nil {
		return nil, fmt.Errorf("failed to classify functions: %w", err)
	}

	globs := cfg.Entry

	for _, name := range cfg.Presets {
		p, err := funcs.FindPreset(name)
		if err != nil {
			return nil, err
		}

		globs = append(globs, p.Entry...)
	}

	if len(globs) > 0 {
		n, err := table.MarkEntries(logger, globs)
		if err != nil {
			return nil, fmt.Errorf("failed to mark entry functions: %w", err)
		}

		if n == 0 {
			logger.Warnw("no function matches the entry globs", "globs", globs)
		}
	}

	return table, nil
}

func initSymbolizer(ctx context.Context, logger *zap.SugaredLogger, cfg *RetsnoopCfg) (symbolize.Resolver, func() error, error) {
	path := cfg.VmlinuxPath

	if path == "" {
		release, err := KernelRelease()
		if err != nil {
			return nil, nil, err
		}

		path, err = FindVmlinux(logger, "/", release)
		if err != nil {
			return nil, nil, err
		}
	}

	a2l, err := symbolize.NewAddr2Line(ctx, logger, "", path, cfg.Symbolize > 1)
	if err != nil {
		return nil, nil, err
	}

	cached, err := symbolize.NewCached(a2l, symbolize.DefaultCacheSize)
	if err != nil {
		a2l.Close()
		return nil, nil, err
	}

	return cached, a2l.Close, nil
}

func openSource(logger *zap.SugaredLogger, cfg *RetsnoopCfg, handler bpf.EventHandler) (bpf.Source, error) {
	switch {
	case cfg.ReplayPath != "":
		logger.Infow("replaying events", "path", cfg.ReplayPath)

		return bpf.OpenReplay(cfg.ReplayPath, handler)
	case cfg.RingbufPath != "":
		m, err := bpf.OpenPinnedRingbuf(logger, cfg.RingbufPath)
		if err != nil {
			return nil, err
		}

		src, err := bpf.NewRingbufSource(logger, m, handler)
		if err != nil {
			m.Close()
			return nil, err
		}

		return src, nil
	default:
		return nil, ErrNoEventSource
	}
}

func serveMetrics(ctx context.Context, logger *zap.SugaredLogger, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("failed to shut down metrics server", "error", err)
		}
	}()

	logger.Infow("serving metrics", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}

	return nil
}
