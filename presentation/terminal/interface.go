// Package terminal is the command line and interactive front end of the engine.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
)

// StepAgent - the agent operations the terminal drives
type StepAgent interface {
	ResolveAndAct(ctx context.Context, spec entities.TargetSpec, contextID string) (*entities.ActionOutcome, error)
	Inspect(ctx context.Context, spec entities.TargetSpec, contextID string) (*entities.ScreenState, *entities.MatchResult, error)
	ExecuteActionWithConfirmation(ctx context.Context) (*entities.ActionOutcome, error)
	GetPendingAction() *entities.TargetSpec
	GetHistory() []*entities.ActionOutcome
}

// MemoryLister - read access to the coordinate memory
type MemoryLister interface {
	List(ctx context.Context, contextID string) ([]entities.MemoryRecord, error)
}

// TerminalInterface - interactive loop: one step per line
type TerminalInterface struct {
	agent     StepAgent
	memory    MemoryLister
	contextID string
	logger    *logrus.Logger
	reader    *bufio.Reader
	out       io.Writer
}

func NewTerminalInterface(agent StepAgent, memory MemoryLister, contextID string, in io.Reader, out io.Writer, logger *logrus.Logger) *TerminalInterface {
	return &TerminalInterface{
		agent:     agent,
		memory:    memory,
		contextID: contextID,
		logger:    logger,
		reader:    bufio.NewReader(in),
		out:       out,
	}
}

const replHelp = `Steps:
  click <label> [#index]     click the matching element
  type <label> = <value>     click the field, then type
  clear <label> = <value>    click the field, select all, then type
  wait <label>               wait until the label appears
Commands:
  resolve <label>            show where <label> resolves without clicking
  confirm                    run the step held back for confirmation
  history                    outcomes so far
  memory                     remembered coordinates of this context
  help, quit`

// Run - reads lines until quit or EOF
func (t *TerminalInterface) Run(ctx context.Context) error {
	fmt.Fprintln(t.out, "Vision automation agent")
	fmt.Fprintln(t.out, "=======================")
	fmt.Fprintf(t.out, "Context: %s. Type 'help' for commands, 'quit' to exit\n\n", t.contextID)

	for {
		fmt.Fprint(t.out, "> ")
		input, err := t.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && input != "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" || input == "q" {
			fmt.Fprintln(t.out, "Bye!")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.handle(ctx, input)
	}
}

func (t *TerminalInterface) handle(ctx context.Context, input string) {
	verb, rest, _ := strings.Cut(input, " ")
	switch strings.ToLower(verb) {
	case "help":
		fmt.Fprintln(t.out, replHelp)
	case "history":
		t.printHistory()
	case "memory":
		t.printMemory(ctx)
	case "confirm":
		out, err := t.agent.ExecuteActionWithConfirmation(ctx)
		t.printOutcome(out, err)
	case "resolve":
		t.resolve(ctx, strings.TrimSpace(rest))
	default:
		spec, err := ParseStep(input)
		if err != nil {
			fmt.Fprintf(t.out, "%v (type 'help')\n", err)
			return
		}
		out, err := t.agent.ResolveAndAct(ctx, spec, t.contextID)
		t.printOutcome(out, err)
	}
}

func (t *TerminalInterface) resolve(ctx context.Context, label string) {
	spec, err := ParseStep("click " + label)
	if err != nil {
		fmt.Fprintln(t.out, err)
		return
	}
	_, res, err := t.agent.Inspect(ctx, spec, t.contextID)
	if err != nil {
		fmt.Fprintf(t.out, "Not resolved: %v\n", err)
		return
	}
	fmt.Fprintln(t.out, describeMatch(res))
}

func (t *TerminalInterface) printOutcome(out *entities.ActionOutcome, err error) {
	if errors.Is(err, entities.ErrApprovalRequired) {
		if p := t.agent.GetPendingAction(); p != nil {
			fmt.Fprintf(t.out, "Step %s %q needs confirmation. Type 'confirm' to run it.\n", p.Kind, p.Label)
			return
		}
	}
	if err != nil {
		fmt.Fprintf(t.out, "Step failed: %v\n", err)
		return
	}
	writeOutcome(t.out, out)
}

func writeOutcome(w io.Writer, out *entities.ActionOutcome) {
	fmt.Fprintf(w, "%s %q: %s", out.Target.Kind, out.Target.Label, out.Status)
	if out.Result != nil {
		fmt.Fprintf(w, " at (%d,%d) via %s", out.Result.Point.X, out.Result.Point.Y, out.Result.Method)
	}
	if n := out.Retries(); n > 0 {
		fmt.Fprintf(w, " after %d retries", n)
	}
	fmt.Fprintln(w)
}

func (t *TerminalInterface) printHistory() {
	history := t.agent.GetHistory()
	if len(history) == 0 {
		fmt.Fprintln(t.out, "No steps yet")
		return
	}
	for i, o := range history {
		line := fmt.Sprintf("%2d. %-15s %-25q %-9s retries=%d", i+1, o.Target.Kind, o.Target.Label, o.Status, o.Retries())
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Fprintln(t.out, line)
	}
}

func (t *TerminalInterface) printMemory(ctx context.Context) {
	if t.memory == nil {
		fmt.Fprintln(t.out, "Memory is not available")
		return
	}
	recs, err := t.memory.List(ctx, t.contextID)
	if err != nil {
		fmt.Fprintf(t.out, "Failed to list memory: %v\n", err)
		return
	}
	writeRecords(t.out, recs)
}

func describeMatch(res *entities.MatchResult) string {
	s := fmt.Sprintf("(%d,%d) via %s, confidence %.2f", res.Point.X, res.Point.Y, res.Method, res.Confidence)
	if res.Element != nil {
		s += fmt.Sprintf(", element %q at %d,%d %dx%d", res.Element.Text,
			res.Element.Box.X, res.Element.Box.Y, res.Element.Box.W, res.Element.Box.H)
	}
	if res.Expanded {
		s += ", region expanded"
	}
	return s
}

func writeRecords(w io.Writer, recs []entities.MemoryRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No remembered targets")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%-16s %-25q (%d,%d) ok=%d fail=%d rate=%.2f last=%s\n",
			r.Key.ScreenID, r.Key.Target, r.X, r.Y, r.SuccessCount, r.FailureCount,
			r.SuccessRate(), r.LastUsed.Format("2006-01-02 15:04:05"))
	}
}
