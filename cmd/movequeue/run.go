package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"klipper-go-movequeue/pkg/log"
)

type logOptions struct {
	file   string
	level  string
	format string
}

func (o logOptions) apply(cmd *cobra.Command) (func() error, error) {
	root := log.Default()
	if o.level != "" {
		root.SetLevel(log.ParseLevel(o.level))
	}
	if o.format != "" {
		root.SetFormat(log.ParseFormat(o.format))
	}
	if o.file == "" {
		return func() error { return nil }, nil
	}
	fw, err := log.AttachFile(root, log.RotationConfig{Filename: o.file, Compress: true}, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return fw.Close, nil
}

func cmdRun() *cobra.Command {
	var (
		opts runOptions
		lo   logOptions
	)
	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Run a job or serve serial commands through the queue",
		Args:  cobra.ExactArgs(1),
		Example: `  movequeue run printer.cfg --job demo.yaml --virtual
  movequeue run printer.cfg --serial --journal events.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := lo.apply(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			opts.configPath = args[0]
			opts.out = cmd.OutOrStdout()
			return runSession(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.jobPath, "job", "j", "", "Job file (.yaml or line commands)")
	f.BoolVar(&opts.virtual, "virtual", false, "Drive the step timer in virtual time as fast as possible")
	f.Float64Var(&opts.scale, "scale", 1, "Stretch real-time step periods by this factor")
	f.BoolVar(&opts.trace, "trace", false, "Print step and direction pulses")
	f.BoolVar(&opts.metrics, "metrics", false, "Serve Prometheus metrics even without a [metrics] section")
	f.BoolVar(&opts.monitor, "monitor", false, "Serve the websocket monitor even without a [monitor] section")
	f.StringVar(&opts.journal, "journal", "", "Record queue events to this sqlite database")
	f.BoolVar(&opts.serial, "serial", false, "Read line commands from the [serial] port")
	f.StringVar(&lo.file, "logfile", "", "Also write logs to this rotating file")
	f.StringVar(&lo.level, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&lo.format, "log-format", "", "Log format (text, json)")
	return cmd
}

func runSession(parent context.Context, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(opts)
	if err != nil {
		return err
	}
	defer s.close()

	logger := log.GetLogger("movequeue")
	logger.WithFields(log.Fields{
		"capacity": s.qcfg.Capacity,
		"axes":     s.dcfg.AxisNames,
		"heaters":  s.heaters.Names(),
		"virtual":  opts.virtual,
	}).Info("queue ready")

	err = s.run(ctx)
	if err != nil && ctx.Err() != nil {
		logger.Info("interrupted")
		err = nil
	}
	s.summary(opts.out)
	return err
}
