package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/AustinTapp/FAST"
	fastconfig "github.com/AustinTapp/FAST/config"
	"github.com/AustinTapp/FAST/log"
	"github.com/AustinTapp/FAST/metric"
	"github.com/AustinTapp/FAST/pipeline"
)

const stopTimeout = 5 * time.Second

type runCommand struct {
	config   string
	pipeline string
	frames   int
	timeout  time.Duration
}

func (cmd *runCommand) Name() string {
	return "run"
}

func (cmd *runCommand) Help() string {
	return "Run a pipeline description"
}

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.config, "config", "", "configuration file")
	fs.StringVar(&cmd.pipeline, "pipeline", "", "pipeline description, overrides the configured one")
	fs.IntVar(&cmd.frames, "frames", 0, "stop after this number of updates, 0 runs until the streams end")
	fs.DurationVar(&cmd.timeout, "timeout", 0, "stop after this duration")
}

func (cmd *runCommand) Run(w io.Writer) error {
	cfg, err := fastconfig.Load(cmd.config)
	if err != nil {
		return err
	}
	if cmd.pipeline != "" {
		cfg.Pipeline = cmd.pipeline
	}
	if cfg.Pipeline == "" {
		return fmt.Errorf("missing -pipeline flag")
	}

	logger, closer, err := log.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg.Runtime.Logger = logger

	d, err := pipeline.Load(cfg.Pipeline)
	if err != nil {
		return err
	}
	r, err := newRegistry()
	if err != nil {
		return err
	}
	p, err := pipeline.Build(d, r, fast.WithConfig(cfg.Runtime))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if cmd.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, cmd.timeout)
		defer cancelTimeout()
	}

	logger.WithField("pipeline", p.Name).Info("running")
	n, err := p.Run(ctx, cmd.frames)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if stopErr := p.Stop(stopCtx); err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Pipeline %s finished after %d updates\n", p.Name, n)
	printMetrics(w)
	return nil
}

func printMetrics(w io.Writer) {
	all := metric.GetAll()
	components := make([]string, 0, len(all))
	for c := range all {
		components = append(components, c)
	}
	sort.Strings(components)
	for _, c := range components {
		fmt.Fprintf(w, "%s:", c)
		counters := all[c]
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, " %s=%s", name, counters[name])
		}
		fmt.Fprintln(w)
	}
}
