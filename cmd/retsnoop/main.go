package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tcassar-diss/retsnoop/frontend"
	"github.com/tcassar-diss/retsnoop/ksyms"
	"github.com/tcassar-diss/retsnoop/pipeline"
	"github.com/tcassar-diss/retsnoop/stack"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg := frontend.DefaultRetsnoopCfg()

	app := &cli.App{
		Name:                   "retsnoop",
		Usage:                  "print kernel call stacks that ended in an error",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "funcs",
				Usage:       "function table written by the attacher (TOML)",
				Required:    true,
				Destination: &cfg.FuncsPath,
			}, &cli.StringFlag{
				Name:        "ringbuf",
				Usage:       "pinned ring buffer the attacher delivers events through",
				Destination: &cfg.RingbufPath,
			}, &cli.StringFlag{
				Name:        "replay",
				Usage:       "read events from a file recorded with --record instead of a ring buffer",
				Destination: &cfg.ReplayPath,
			}, &cli.StringFlag{
				Name:        "record",
				Usage:       "append every raw event to this file",
				Destination: &cfg.RecordPath,
			}, &cli.StringSliceFlag{
				Name:    "entry",
				Aliases: []string{"e"},
				Usage:   "glob of functions that are entry points (repeatable)",
			}, &cli.StringSliceFlag{
				Name:    "preset",
				Aliases: []string{"p"},
				Usage:   "named set of entry globs: bpf, perf",
			}, &cli.StringFlag{
				Name:        "vmlinux",
				Aliases:     []string{"k"},
				Usage:       "vmlinux image with DWARF, for -s",
				Destination: &cfg.VmlinuxPath,
			}, &cli.StringFlag{
				Name:        "btf",
				Usage:       "BTF used to classify return types (default: running kernel)",
				Destination: &cfg.BTFPath,
			}, &cli.StringFlag{
				Name:        "kallsyms",
				Value:       ksyms.DefaultPath,
				Destination: &cfg.KallsymsPath,
			}, &cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "-v keeps instrumentation frames and logs progress, -vv adds debug output",
				Count:   &cfg.Verbosity,
			}, &cli.BoolFlag{
				Name:    "symbolize",
				Aliases: []string{"s"},
				Usage:   "-s adds source lines, -ss also inlined calls",
				Count:   &cfg.Symbolize,
			}, &cli.Uint64Flag{
				Name:        "ftrace-offset",
				Usage:       "offset of the fentry return site in an instrumented function",
				Value:       stack.FtraceOffset,
				Destination: &cfg.FtraceOffset,
			}, &cli.StringFlag{
				Name:        "csv",
				Usage:       "also write every printed frame to this CSV file",
				Destination: &cfg.CSVPath,
			}, &cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve prometheus metrics on this address",
				Destination: &cfg.MetricsAddr,
			}, &cli.DurationFlag{
				Name:        "poll-timeout",
				Value:       pipeline.DefaultPollTimeout,
				Destination: &cfg.PollTimeout,
			},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.String("ringbuf") == "" && cCtx.String("replay") == "" {
				_ = cli.ShowAppHelp(cCtx)

				return cli.Exit("\nERROR: one of --ringbuf or --replay is required", 1)
			}

			cfg.Entry = cCtx.StringSlice("entry")
			cfg.Presets = cCtx.StringSlice("preset")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := frontend.RunRetsnoop(ctx, cfg); err != nil {
				return cli.Exit(
					fmt.Sprintf("retsnoop encountered an error it couldn't recover from: %v", err),
					2,
				)
			}

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
