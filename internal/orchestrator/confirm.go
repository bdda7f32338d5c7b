package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/forgecrew/foreman/internal/delegation"
)

// TerminalConfirmer asks the user on the controlling terminal. There is no
// auto-approve path: with no interactive terminal the request errors out and
// the task fails rather than proceeding unconfirmed.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer
	// IsInteractive overrides terminal detection, for tests.
	IsInteractive func() bool
}

func NewTerminalConfirmer() *TerminalConfirmer {
	return &TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
}

func (c *TerminalConfirmer) interactive() bool {
	if c.IsInteractive != nil {
		return c.IsInteractive()
	}
	f, ok := c.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Ask prompts for a decision and blocks until one is read or ctx is done.
func (c *TerminalConfirmer) Ask(ctx context.Context, req delegation.ConfirmRequest) (delegation.Decision, error) {
	if !c.interactive() {
		return "", fmt.Errorf("confirmation for task %s requires an interactive terminal", req.TaskID)
	}

	fmt.Fprintf(c.Out, "\ntask %s requests confirmation:\n  %s\n  [%s]: ", req.TaskID, req.Question, strings.Join(req.Choices, "/"))

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(c.In).ReadString('\n')
		ch <- answer{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return "", fmt.Errorf("reading confirmation: %w", a.err)
		}
		switch strings.ToLower(a.text) {
		case "approve", "a", "yes", "y":
			return delegation.DecisionApprove, nil
		default:
			return delegation.DecisionDecline, nil
		}
	}
}
