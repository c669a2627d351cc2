package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/logrusorgru/aurora"
	"golang.org/x/term"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/qlearning"
)

// Console prints run results for a human. Colors are used only on a
// terminal.
type Console struct {
	out io.Writer
	au  aurora.Aurora
}

// NewConsole writes to f and enables colors when f is a terminal.
func NewConsole(f *os.File) *Console {
	return NewConsoleWriter(f, term.IsTerminal(int(f.Fd())))
}

func NewConsoleWriter(w io.Writer, colors bool) *Console {
	return &Console{out: w, au: aurora.NewAurora(colors)}
}

// Notify implements core.Notifier by printing evolution events as they
// happen.
func (c *Console) Notify(ev core.Event) {
	if ev.Kind != core.EventEvolution || ev.Evolution == nil {
		return
	}
	e := ev.Evolution
	fmt.Fprintf(c.out, "%s round %d: %s %s (%s, trailing average %.2f)\n",
		c.au.Magenta("evolution"), e.Round, e.Role, c.au.Bold(string(e.Kind)), e.Detail, e.TrailingAverage)
}

func (c *Console) outcome(o core.Outcome) aurora.Value {
	switch o {
	case core.OutcomeCorrect:
		return c.au.Green(string(o))
	case core.OutcomePartial:
		return c.au.Yellow(string(o))
	case core.OutcomeIncorrect:
		return c.au.Red(string(o))
	}
	return c.au.Gray(12, string(o))
}

func (c *Console) reward(r float64) aurora.Value {
	s := fmt.Sprintf("%+.2f", r)
	switch {
	case r > 0:
		return c.au.Green(s)
	case r < 0:
		return c.au.Red(s)
	}
	return c.au.White(s)
}

// PrintRounds prints one line per round.
func (c *Console) PrintRounds(rounds []core.RoundRecord) {
	for _, r := range rounds {
		degraded := ""
		if r.Degraded {
			degraded = c.au.Red(" degraded").String()
		}
		fmt.Fprintf(c.out, "%3d  %-24s %-6s %-10s student %-18s %s  teacher %-20s %s%s\n",
			r.Index+1, r.Topic, r.Difficulty, c.outcome(r.Outcome),
			r.Student.Action, c.reward(r.Student.Reward),
			r.Teacher.Action, c.reward(r.Teacher.Reward), degraded)
	}
}

// PrintSummary prints the aggregate statistics of a run.
func (c *Console) PrintSummary(s core.Summary) {
	fmt.Fprintln(c.out, c.au.Bold(c.au.Cyan("Simulation summary")))
	fmt.Fprintf(c.out, "  run:              %s\n", s.RunID)
	fmt.Fprintf(c.out, "  rounds:           %d\n", s.TotalRounds)
	fmt.Fprintf(c.out, "  average reward:   %s\n", c.reward(s.AverageReward))
	fmt.Fprintf(c.out, "  reward range:     %s .. %s\n", c.reward(s.MinReward), c.reward(s.MaxReward))
	fmt.Fprintf(c.out, "  topics covered:   %s\n", strings.Join(s.TopicsCovered, ", "))
	fmt.Fprintf(c.out, "  evolution events: %d\n", s.EvolutionEventCount)
	if s.DegradedRounds > 0 {
		fmt.Fprintf(c.out, "  degraded rounds:  %s\n", c.au.Red(s.DegradedRounds))
	}
}

// PrintTable prints the first limit entries of a value table. A limit of
// zero or less prints everything.
func (c *Console) PrintTable(role core.Role, entries []qlearning.Entry, limit int) {
	fmt.Fprintf(c.out, "%s (%d entries)\n", c.au.Bold(fmt.Sprintf("%s value table", role)), len(entries))
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	for _, e := range entries[:limit] {
		fmt.Fprintf(c.out, "  %-32s %-20s %s\n", e.State, e.Action, c.reward(e.Value))
	}
	if limit < len(entries) {
		fmt.Fprintf(c.out, "  ... %d more\n", len(entries)-limit)
	}
}
