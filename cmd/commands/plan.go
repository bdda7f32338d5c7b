package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/marcozac/go-jsonc"
	"github.com/urfave/cli/v3"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/delegation"
	"github.com/forgecrew/foreman/internal/orchestrator"
)

// NewPlanCommand returns the plan subcommand.
func NewPlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Execute a delegation plan",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a plan file, delegating each node to its capability",
				ArgsUsage: "<plan_file>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "poll", Value: time.Second, Usage: "Interval for checking externally resolved tasks"},
				},
				Action: runPlanRun,
			},
		},
	}
}

// planFile is the on-disk plan format: a goal plus its nodes, JSONC so plans
// can carry comments.
type planFile struct {
	Goal  string         `json:"goal"`
	Tags  []string       `json:"tags"`
	Nodes []planFileNode `json:"nodes"`
}

type planFileNode struct {
	ID             string   `json:"id"`
	Objective      string   `json:"objective"`
	Tags           []string `json:"tags"`
	Classification string   `json:"classification,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	Risky          bool     `json:"risky,omitempty"`
	MaxRetries     int      `json:"max_retries,omitempty"`
}

func loadPlanFile(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var pf planFile
	if err := jsonc.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if pf.Goal == "" {
		return nil, fmt.Errorf("plan %s: missing goal", path)
	}
	return &pf, nil
}

func (pf *planFile) planNodes() []orchestrator.PlanNode {
	nodes := make([]orchestrator.PlanNode, len(pf.Nodes))
	for i, n := range pf.Nodes {
		nodes[i] = orchestrator.PlanNode{
			ID:             n.ID,
			Objective:      n.Objective,
			Tags:           n.Tags,
			Classification: capability.Classification(n.Classification),
			DependsOn:      n.DependsOn,
			Risky:          n.Risky,
			MaxRetries:     n.MaxRetries,
		}
	}
	return nodes
}

// runPlanRun drives a whole plan. Every capability is served by a watch
// delegate, so the run waits on `foreman tasks resolve` from the specialists
// doing the actual work; risky nodes prompt for confirmation right here.
func runPlanRun(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: foreman plan run <plan_file>")
	}

	pf, err := loadPlanFile(path)
	if err != nil {
		return err
	}
	plan, err := orchestrator.NewPlan(pf.planNodes())
	if err != nil {
		return err
	}

	l, cfg, err := openLedger(cmd)
	if err != nil {
		return err
	}

	delegates := delegation.NewDelegateRegistry()
	watch := delegation.NewWatchDelegate(l, cmd.Duration("poll"))
	for _, c := range l.Registry().All() {
		delegates.Register(c.ID, watch)
	}

	d := delegation.NewDelegator(l, l.Registry(), delegates, orchestrator.NewTerminalConfirmer(), l.Bus(), delegation.Options{
		Timeout:    cfg.Delegation.Timeout.Duration(),
		MaxRetries: cfg.Delegation.MaxRetries,
	}, nil)
	o := orchestrator.New(l, l.Registry(), d, l.Bus(), orchestrator.Options{
		MaxConcurrent: cfg.Delegation.MaxConcurrent,
	}, nil)

	report, err := o.Run(ctx, pf.Goal, pf.Tags, plan)
	if report != nil && report.RootID != "" {
		fmt.Printf("root: %s\n", report.RootID)
		for node, taskID := range report.NodeTasks {
			fmt.Printf("  %s -> %s\n", node, taskID)
		}
		for _, node := range report.Skipped {
			fmt.Printf("  %s skipped (dependency failed)\n", node)
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d node(s) completed\n", len(report.Completed))
	return nil
}
