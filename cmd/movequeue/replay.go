package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/journal"
)

func cmdReplay() *cobra.Command {
	var (
		run  string
		list bool
	)
	cmd := &cobra.Command{
		Use:   "replay DB",
		Short: "Print the queue events recorded in a journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			r, err := journal.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if list {
				runs, err := r.Runs()
				if err != nil {
					return err
				}
				for _, ri := range runs {
					fmt.Fprintf(out, "%s  %s  %6d events  %s\n",
						ri.ID, ri.Started.Format("2006-01-02 15:04:05"), ri.Events, ri.Note)
				}
				return nil
			}

			if run == "" {
				if run, err = r.Latest(); err != nil {
					return err
				}
				if run == "" {
					return errors.New(errors.ErrJournal, "journal holds no runs")
				}
			}
			records, err := r.Records(run)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "run %s, %d events\n", run, len(records))
			return journal.Replay(out, records)
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "Run id (default: latest)")
	cmd.Flags().BoolVar(&list, "list", false, "List recorded runs")
	return cmd
}
