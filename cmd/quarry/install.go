package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrypm/quarry/internal/solve"
)

func installCmd(flags *appFlags) *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "install PREFIX SPEC...",
		Short: "Solve specs and install the environment into a prefix",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			specs, err := parseSpecs(args[1:])
			if err != nil {
				return err
			}
			return runCommand(flags, func(ctx context.Context, s *session) error {
				records, err := s.dispatcher.SolveEnvironment(ctx, solve.Problem{
					Name:     name,
					Specs:    specs,
					Channels: s.channels,
					Platform: s.platform,
				})
				if err != nil {
					return err
				}
				result, err := s.dispatcher.InstallEnvironment(ctx, solve.InstallRequest{
					Name:    name,
					Prefix:  prefix,
					Records: records,
					Force:   force,
				})
				if err != nil {
					return err
				}
				if result.WasUpToDate {
					s.printf("%s is already up to date\n", result.Prefix)
					return nil
				}
				s.printf("installed %d packages into %s\n", result.Installed, result.Prefix)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "Environment name")
	cmd.Flags().BoolVar(&force, "force", false, "Reinstall even if the prefix is up to date")
	return cmd
}
