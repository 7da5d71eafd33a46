package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"klipper-go-movequeue/pkg/config"
	"klipper-go-movequeue/pkg/dda"
	"klipper-go-movequeue/pkg/heater"
	"klipper-go-movequeue/pkg/journal"
	"klipper-go-movequeue/pkg/metrics"
	"klipper-go-movequeue/pkg/monitor"
	"klipper-go-movequeue/pkg/movequeue"
	"klipper-go-movequeue/pkg/serial"
)

func cmdValidate() *cobra.Command {
	return &cobra.Command{
		Use:   "validate CONFIG [JOB]",
		Short: "Check a configuration and optionally a job without running",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			qcfg, err := movequeue.LoadConfig(cfg)
			if err != nil {
				return err
			}
			dcfg, err := dda.LoadConfig(cfg, qcfg.ClockHz)
			if err != nil {
				return err
			}
			hs, err := heater.LoadHeaters(cfg, nil)
			if err != nil {
				return err
			}
			set := heater.NewSet(hs...)
			if _, _, err := serial.LoadConfig(cfg); err != nil {
				return err
			}
			if _, _, err := metrics.LoadServerConfig(cfg); err != nil {
				return err
			}
			if _, _, err := monitor.LoadConfig(cfg); err != nil {
				return err
			}
			if _, _, err := journal.LoadConfig(cfg); err != nil {
				return err
			}
			for _, w := range cfg.Warnings() {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "config ok: capacity %d, wait budget %d ticks, axes %s, heaters %s\n",
				qcfg.Capacity, qcfg.WaitBudget(), strings.Join(dcfg.AxisNames, ","), strings.Join(set.Names(), ","))

			if len(args) < 2 {
				return nil
			}
			j, err := loadJob(args[1], dcfg)
			if err != nil {
				return err
			}
			if err := j.CheckHeaters(set.Names()); err != nil {
				return err
			}
			sum := j.Summary()
			fmt.Fprintf(out, "job %s: %d moves, %d waits, %d heats\n", j.Name, sum.Moves, sum.Waits, sum.Heats)
			for i, name := range dcfg.AxisNames {
				fmt.Fprintf(out, "  %s: %d steps\n", name, sum.Steps[i])
			}
			return nil
		},
	}
}
