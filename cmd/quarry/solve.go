package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quarrypm/quarry/internal/solve"
)

func solveCmd(flags *appFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "solve SPEC...",
		Short: "Resolve package specs against the configured channels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseSpecs(args)
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
				out, err := yaml.Marshal(records)
				if err != nil {
					return err
				}
				s.printf("%s", out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "Environment name")
	return cmd
}

func parseSpecs(args []string) ([]solve.MatchSpec, error) {
	specs := make([]solve.MatchSpec, 0, len(args))
	for _, arg := range args {
		spec, err := solve.ParseMatchSpec(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid spec %q: %w", arg, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
