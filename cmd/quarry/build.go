package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/dispatch"
	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/source"
)

func buildCmd(flags *appFlags) *cobra.Command {
	var (
		gitURL string
		gitRev string
		output string
	)

	cmd := &cobra.Command{
		Use:   "build [PATH]",
		Short: "Build a source package through its discovered backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := sourceSpec(args, gitURL, gitRev)
			if err != nil {
				return err
			}
			return runCommand(flags, func(ctx context.Context, s *session) error {
				buildSpec := dispatch.SourceBuildSpec{
					Source:   spec,
					Channels: s.channels,
					Override: buildenv.Override{HostPlatform: s.platform},
				}
				if output != "" {
					buildSpec.Output = &protocol.OutputIdent{Name: output}
				}
				built, err := s.dispatcher.SourceBuild(ctx, buildSpec)
				if err != nil {
					return err
				}
				for _, artifact := range built.Artifacts {
					suffix := ""
					if built.CachedBuild {
						suffix = " (cached)"
					}
					s.printf("built %s %s: %s%s\n", artifact.Name, artifact.Version, artifact.Path, suffix)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&gitURL, "git", "", "Build from a git repository instead of a local path")
	cmd.Flags().StringVar(&gitRev, "rev", "", "Git revision, tag, or branch (with --git)")
	cmd.Flags().StringVar(&output, "output", "", "Build only the named output")
	return cmd
}

// sourceSpec builds the source reference from the positional path or the
// --git flags. The default is the current directory.
func sourceSpec(args []string, gitURL, gitRev string) (source.Spec, error) {
	if gitURL != "" {
		return source.Spec{Git: &source.GitSpec{URL: gitURL, Rev: gitRev}}, nil
	}
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	return source.Spec{Path: &source.PathSpec{Path: path}}, nil
}
