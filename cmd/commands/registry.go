package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/config"
)

// NewRegistryCommand returns the registry subcommand.
func NewRegistryCommand() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "Manage the capability registry",
		Commands: []*cli.Command{
			{
				Name:   "rebuild",
				Usage:  "Rebuild the registry artifact from capability declarations",
				Action: runRegistryRebuild,
			},
			{
				Name:   "list",
				Usage:  "List registered capabilities",
				Action: runRegistryList,
			},
			{
				Name:      "find",
				Usage:     "Rank capabilities for a set of tags",
				ArgsUsage: "<tag> [tag...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "classification", Usage: "Preferred classification"},
				},
				Action: runRegistryFind,
			},
		},
		DefaultCommand: "list",
	}
}

func runRegistryRebuild(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	n, err := capability.Build(cfg.Registry.DeclarationsDir, cfg.Registry.Artifact)
	if err != nil {
		return fmt.Errorf("rebuild registry: %w", err)
	}
	fmt.Printf("%d capabilit%s written to %s\n", n, plural(n, "y", "ies"), cfg.Registry.Artifact)
	return nil
}

func runRegistryList(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	reg, err := capability.LoadArtifact(cfg.Registry.Artifact)
	if err != nil {
		return err
	}

	caps := reg.All()
	if len(caps) == 0 {
		fmt.Println("No capabilities registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASSIFICATION\tTAGS\tESCALATES TO")
	for _, c := range caps {
		escalate := "-"
		if len(c.EscalateTo) > 0 {
			escalate = strings.Join(c.EscalateTo, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Classification, strings.Join(c.Tags, ", "), escalate)
	}
	return w.Flush()
}

func runRegistryFind(_ context.Context, cmd *cli.Command) error {
	tags := cmd.Args().Slice()
	if len(tags) == 0 {
		return fmt.Errorf("usage: foreman registry find <tag> [tag...]")
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	reg, err := capability.LoadArtifact(cfg.Registry.Artifact)
	if err != nil {
		return err
	}

	ranked := reg.Find(tags, capability.Classification(cmd.String("classification")))
	if len(ranked) == 0 {
		return fmt.Errorf("%w: no capability matches tags %v", capability.ErrCapabilityNotFound, tags)
	}
	for i, id := range ranked {
		fmt.Printf("%d. %s\n", i+1, id)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
