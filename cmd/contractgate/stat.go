package main

import (
	"fmt"

	"github.com/contractgate/contractgate/internal/config"
	"github.com/contractgate/contractgate/internal/jsight"
	"github.com/spf13/cobra"
)

func newStatCmd() *cobra.Command {
	var configPath string
	var library string

	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Load the validation engine and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := library
			if path == "" {
				path = config.DefaultLibrary
				if configPath != "" {
					cfg, err := config.Load(configPath)
					if err != nil {
						return err
					}
					path = cfg.ResolvePath(cfg.Engine.Library)
				}
			}

			engine, err := jsight.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			stat, err := engine.Stat(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), stat)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&library, "library", "", "Path to libjsight (overrides config)")

	return cmd
}
