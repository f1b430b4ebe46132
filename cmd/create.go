package cmd

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/agentsim/sim/storage"
)

func newCreateCmd(a *app) *cobra.Command {
	var spec runSpec
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a new run and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.settings.DB == "" {
				return errors.New("create requires --db")
			}
			run, err := spec.build()
			if err != nil {
				return err
			}
			store, err := storage.Open(a.settings.DB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := store.CreateRun(cmd.Context(), run)
			if err != nil {
				return err
			}
			logrus.Infof("created run %d (scenario %s, finish time %d)", id, run.Scenario, run.FinishTime)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	spec.addFlags(cmd)
	return cmd
}
