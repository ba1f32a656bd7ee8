package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/config"
	"github.com/quarrypm/quarry/internal/doctor"
)

func doctorCmd(flags *appFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, cache root, and host tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if len(flags.channels) > 0 {
				cfg.Channels = flags.channels
			}

			cacheRoot := cfg.CacheDir
			if cacheRoot == "" {
				cacheRoot, err = cache.DefaultRoot()
				if err != nil {
					return err
				}
			}

			result := doctor.New(cfg, cacheRoot).Validate()
			if asJSON {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Println(out)
			} else {
				fmt.Print(doctor.FormatHuman(result))
			}

			if !result.Valid {
				return fmt.Errorf("environment checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}
