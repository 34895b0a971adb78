package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/tphakala/errintake/internal/intake"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/routing"
	"github.com/tphakala/errintake/internal/seed"
)

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := bootstrap(*configFile)
			if err != nil {
				return err
			}
			mgr, err := openDatabase(cmd.Context(), settings, log)
			if err != nil {
				return err
			}
			return mgr.Close()
		},
	}
}

func newSeedCmd(configFile *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert services, users and rules from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := bootstrap(*configFile)
			if err != nil {
				return err
			}
			doc, err := seed.Load(file)
			if err != nil {
				return err
			}
			mgr, err := openDatabase(cmd.Context(), settings, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := mgr.Close(); err != nil {
					log.Warn("failed to close database", logger.Error(err))
				}
			}()

			validator, err := intake.NewValidator()
			if err != nil {
				return err
			}
			store := mgr.Store()
			res, err := seed.Apply(cmd.Context(), routing.NewUpserter(store, log, nil), store, validator, doc, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "services created: %d, users created: %d, rules created: %d, rules updated: %d\n",
				res.ServicesCreated, res.UsersCreated, res.RulesCreated, res.RulesUpdated)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "errintake %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
}
