package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/dispatch"
	"github.com/quarrypm/quarry/internal/source"
)

func infoCmd(flags *appFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [PATH]",
		Short: "Show the effective configuration, or inspect a source package",
		Long: `Without arguments, info prints the effective configuration: platform,
cache root, and channels. With a path, it discovers the source's build
backend and prints the package metadata it reports.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(flags, func(ctx context.Context, s *session) error {
				if len(args) == 0 {
					return printEnvironmentInfo(s)
				}
				return printSourceInfo(ctx, s, args[0])
			})
		},
	}
	return cmd
}

func printEnvironmentInfo(s *session) error {
	s.printf("platform:   %s\n", s.platform)
	s.printf("cache root: %s\n", s.cacheRoot)
	if len(s.channels.Channels) == 0 {
		s.printf("channels:   (none configured)\n")
	}
	for i, ch := range s.channels.Channels {
		if i == 0 {
			s.printf("channels:   %s\n", ch.URL)
			continue
		}
		s.printf("            %s\n", ch.URL)
	}
	return nil
}

func printSourceInfo(ctx context.Context, s *session, path string) error {
	metadata, err := s.dispatcher.SourceMetadata(ctx, dispatch.SourceMetadataSpec{
		Source:   source.Spec{Path: &source.PathSpec{Path: path}},
		Channels: s.channels,
		Override: buildenv.Override{HostPlatform: s.platform},
	})
	if err != nil {
		return err
	}

	s.printf("source:  %s\n", metadata.Checkout.Path)
	s.printf("backend: %s %s\n", metadata.Backend.BackendName, metadata.Backend.BackendVersion)
	for _, record := range metadata.Records {
		s.printf("package: %s %s\n", record.Name, record.Version)
	}
	for _, out := range metadata.Outputs {
		if out.Build != "" {
			s.printf("output:  %s %s %s\n", out.Name, out.Version, out.Build)
			continue
		}
		s.printf("output:  %s %s\n", out.Name, out.Version)
	}
	return nil
}
