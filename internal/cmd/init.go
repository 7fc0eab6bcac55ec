package cmd

import (
	"github.com/spf13/cobra"

	"ghmirror/config"
	"ghmirror/internal/db"
)

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(a.cfgPath); err != nil {
				return err
			}

			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}

			store, err := db.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Initialize(); err != nil {
				return err
			}

			return printJSON(map[string]string{
				"config":   a.cfgPath,
				"database": cfg.DatabasePath,
			})
		},
	}
}
