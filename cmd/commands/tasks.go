package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/config"
	"github.com/forgecrew/foreman/internal/delegation"
	"github.com/forgecrew/foreman/internal/events"
	"github.com/forgecrew/foreman/internal/ledger"
	"github.com/forgecrew/foreman/internal/storage"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage the task ledger",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a task and resolve its owner from capability tags",
				ArgsUsage: "<objective>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "tag", Usage: "Capability tag to match (repeatable)"},
					&cli.StringFlag{Name: "parent", Usage: "Parent task id"},
					&cli.StringFlag{Name: "owner", Usage: "Explicit owner capability id (skips tag matching)"},
					&cli.StringFlag{Name: "classification", Usage: "Preferred classification (coordinator, director, lead, worker, assistant)"},
					&cli.IntFlag{Name: "max-retries", Usage: "Retry bound for transient failures"},
				},
				Action: runTasksCreate,
			},
			{
				Name:      "transition",
				Usage:     "Move a task to a new status",
				ArgsUsage: "<task_id> <status>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "evidence", Usage: "Reason or evidence recorded with the transition"},
				},
				Action: runTasksTransition,
			},
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "tree", Usage: "Render tasks as indented trees"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.StringFlag{Name: "parent", Usage: "Filter by parent task id"},
					&cli.StringFlag{Name: "owner", Usage: "Filter by owner capability id"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and transition history",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task and its open descendants",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "cancelled by user", Usage: "Reason recorded with the cancellation"},
				},
				Action: runTasksCancel,
			},
			{
				Name:      "approve",
				Usage:     "Approve a task awaiting confirmation",
				ArgsUsage: "<task_id>",
				Action:    runTasksApprove,
			},
			{
				Name:      "decline",
				Usage:     "Decline a task awaiting confirmation",
				ArgsUsage: "<task_id>",
				Action:    runTasksDecline,
			},
			{
				Name:      "resolve",
				Usage:     "Record a result bundle for a task a plan run is waiting on",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "outcome", Value: "success", Usage: "Outcome: success, failure or cancelled"},
					&cli.StringFlag{Name: "summary", Usage: "What was done (required for success)"},
					&cli.StringFlag{Name: "error", Usage: "What went wrong (required for failure)"},
					&cli.StringSliceFlag{Name: "artifact", Usage: "Path produced by the work (repeatable)"},
				},
				Action: runTasksResolve,
			},
			{
				Name:      "archive",
				Usage:     "Move a terminal task into the archive database",
				ArgsUsage: "<task_id>",
				Action:    runTasksArchive,
			},
			{
				Name:   "recover",
				Usage:  "Resolve tasks stranded by an unclean shutdown",
				Action: runTasksRecover,
			},
		},
		DefaultCommand: "list",
	}
}

// openLedger wires the ledger against the configured registry artifact. A
// missing or unparseable artifact is fatal: the registry is never silently
// substituted with a default. Run `foreman registry rebuild` first.
func openLedger(cmd *cli.Command) (*ledger.Ledger, *config.Config, error) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	reg, err := capability.LoadArtifact(cfg.Registry.Artifact)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	// The JSONL sink lives as long as the process; it is never detached.
	storage.NewEventLogger(cfg.Events.LogDir, bus)
	bus.Publish(events.NewTypedEvent(events.SourceRegistry, events.RegistryLoadedPayload{
		Artifact:     cfg.Registry.Artifact,
		Capabilities: reg.Len(),
	}))
	return ledger.New(cfg.Ledger.Dir, reg, bus), cfg, nil
}

func runTasksCreate(_ context.Context, cmd *cli.Command) error {
	objective := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if objective == "" {
		return fmt.Errorf("usage: foreman tasks create [flags] <objective>")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}

	task, err := l.Create(cmd.String("parent"), cmd.StringSlice("tag"), objective, ledger.CreateOptions{
		Owner:          cmd.String("owner"),
		Classification: capability.Classification(cmd.String("classification")),
		MaxRetries:     int(cmd.Int("max-retries")),
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Printf("%s  owner=%s status=%s\n", task.ID, task.Owner, task.Status)
	return nil
}

func runTasksTransition(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().Get(0)
	status := cmd.Args().Get(1)
	if taskID == "" || status == "" {
		return fmt.Errorf("usage: foreman tasks transition <task_id> <status>")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}

	task, err := l.Transition(taskID, ledger.Status(status), cmd.String("evidence"))
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}

	fmt.Printf("%s  status=%s\n", task.ID, task.Status)
	return nil
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("tree") {
		return printTaskTrees(l)
	}

	list, err := l.List(ledger.ListFilter{
		Status:   ledger.Status(cmd.String("status")),
		ParentID: cmd.String("parent"),
		Owner:    cmd.String("owner"),
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tOWNER\tOBJECTIVE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Owner, firstLine(t.Objective))
	}
	return w.Flush()
}

// printTaskTrees renders every root task with its subtree, depth-first in
// creation order.
func printTaskTrees(l *ledger.Ledger) error {
	roots, err := l.List(ledger.ListFilter{RootsOnly: true})
	if err != nil {
		return fmt.Errorf("list roots: %w", err)
	}
	if len(roots) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	for _, root := range roots {
		tree, err := l.QueryTree(root.ID)
		if err != nil {
			return fmt.Errorf("query tree %s: %w", root.ID, err)
		}
		depths := map[string]int{root.ID: 0}
		for _, t := range tree {
			if t.ParentID != "" {
				depths[t.ID] = depths[t.ParentID] + 1
			}
			indent := strings.Repeat("  ", depths[t.ID])
			fmt.Printf("%s%s  [%s] %s (%s)\n", indent, t.ID, t.Status, firstLine(t.Objective), t.Owner)
		}
	}
	return nil
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: foreman tasks show <task_id>")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}

	t, err := l.Get(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Owner:       %s\n", t.Owner)
	if t.ParentID != "" {
		fmt.Printf("Parent:      %s\n", t.ParentID)
	}
	if len(t.DependsOn) > 0 {
		fmt.Printf("Depends on:  %s\n", strings.Join(t.DependsOn, ", "))
	}
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
	if t.Retries > 0 {
		fmt.Printf("Retries:     %d/%d\n", t.Retries, t.MaxRetries)
	}
	if t.ContextRef != "" {
		fmt.Printf("Context:     %s\n", t.ContextRef)
	}
	if t.ResultRef != "" {
		fmt.Printf("Result:      %s\n", t.ResultRef)
	}

	fmt.Printf("\nObjective:\n%s\n", t.Objective)

	if len(t.Log) > 0 {
		fmt.Println("\nLog:")
		for _, entry := range t.Log {
			fmt.Printf("  - %s\n", entry)
		}
	}

	trs, err := l.Transitions(taskID)
	if err != nil {
		return fmt.Errorf("read transitions: %w", err)
	}
	fmt.Println("\nTransitions:")
	for _, tr := range trs {
		from := string(tr.From)
		if from == "" {
			from = "-"
		}
		line := fmt.Sprintf("  [%s] %s -> %s", tr.Ts.Format("2006-01-02 15:04:05"), from, tr.To)
		if tr.Evidence != "" {
			line += ": " + tr.Evidence
		}
		fmt.Println(line)
	}
	return nil
}

func runTasksCancel(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: foreman tasks cancel <task_id>")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	if err := l.Cancel(taskID, cmd.String("reason")); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	fmt.Printf("%s cancelled\n", taskID)
	return nil
}

func runTasksApprove(_ context.Context, cmd *cli.Command) error {
	return resolveConfirmation(cmd, true)
}

func runTasksDecline(_ context.Context, cmd *cli.Command) error {
	return resolveConfirmation(cmd, false)
}

// resolveConfirmation answers a suspended task from the CLI. Approval resumes
// it; a decline cancels it, same as an interactive decline would.
func resolveConfirmation(cmd *cli.Command, approved bool) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: foreman tasks approve|decline <task_id>")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}

	t, err := l.Get(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if t.Status != ledger.StatusAwaitingConfirmation {
		return fmt.Errorf("task %s is %s, not awaiting confirmation", taskID, t.Status)
	}

	if approved {
		if _, err := l.Transition(taskID, ledger.StatusInProgress, "confirmation: approve"); err != nil {
			return fmt.Errorf("approve task: %w", err)
		}
		fmt.Printf("%s approved\n", taskID)
		return nil
	}
	if err := l.Cancel(taskID, "confirmation declined"); err != nil {
		return fmt.Errorf("decline task: %w", err)
	}
	fmt.Printf("%s declined\n", taskID)
	return nil
}

// runTasksResolve writes a result bundle into the task directory without
// touching the task's status. A waiting plan run picks the bundle up and
// applies the terminal transition itself.
func runTasksResolve(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: foreman tasks resolve [flags] <task_id>")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	if _, err := l.Get(taskID); err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	result := &delegation.ResultBundle{
		TaskID:    taskID,
		Outcome:   delegation.Outcome(cmd.String("outcome")),
		Summary:   cmd.String("summary"),
		Artifacts: cmd.StringSlice("artifact"),
		Err:       cmd.String("error"),
	}
	if err := result.Validate(); err != nil {
		return err
	}
	if err := l.Store().WriteBundle(taskID, delegation.ResultBundleName, result); err != nil {
		return fmt.Errorf("write result bundle: %w", err)
	}
	fmt.Printf("%s resolved: %s\n", taskID, result.Outcome)
	return nil
}

func runTasksArchive(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: foreman tasks archive <task_id>")
	}

	l, cfg, err := openLedger(cmd)
	if err != nil {
		return err
	}

	t, err := l.Get(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	trs, err := l.Transitions(taskID)
	if err != nil {
		return fmt.Errorf("read transitions: %w", err)
	}

	arch, err := ledger.OpenArchive(cfg.Ledger.ArchiveDB)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer arch.Close()

	if err := arch.ArchiveTask(t, trs); err != nil {
		return err
	}
	fmt.Printf("%s archived\n", taskID)
	return nil
}

func runTasksRecover(_ context.Context, cmd *cli.Command) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}

	n, err := ledger.Recover(l)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	fmt.Printf("%d task(s) recovered\n", n)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
