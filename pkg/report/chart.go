// Package report renders finished runs: a reward chart, a colored console
// summary and a value table dump.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/boristopalov/tutor/pkg/core"
)

// RewardChart plots student and teacher rewards per round, the student's
// trailing average over window rounds and one mark per evolution event.
func RewardChart(runID string, rounds []core.RoundRecord, events []core.EvolutionEvent, window int) *charts.Line {
	if window <= 0 {
		window = core.DefaultPolicy().Window
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Rewards per round",
			Subtitle: runID,
		}),
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "tutor " + runID,
			Theme:     "shine",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	steps := make([]string, 0, len(rounds))
	student := make([]opts.LineData, 0, len(rounds))
	teacher := make([]opts.LineData, 0, len(rounds))
	trailing := make([]opts.LineData, 0, len(rounds))
	rewards := core.StudentRewards(rounds)
	for i, r := range rounds {
		steps = append(steps, fmt.Sprintf("%d", r.Index+1))
		student = append(student, opts.LineData{Value: r.Student.Reward})
		teacher = append(teacher, opts.LineData{Value: r.Teacher.Reward})
		from := max(0, i+1-window)
		trailing = append(trailing, opts.LineData{Value: core.NewStats(rewards[from : i+1]).Average})
	}

	marks := make([]opts.MarkLineNameXAxisItem, 0, len(events))
	for _, ev := range events {
		marks = append(marks, opts.MarkLineNameXAxisItem{
			Name:  fmt.Sprintf("%s %s", ev.Role, ev.Kind),
			XAxis: fmt.Sprintf("%d", ev.Round),
		})
	}

	line.SetXAxis(steps).
		AddSeries("student reward", student, charts.WithMarkLineNameXAxisItemOpts(marks...)).
		AddSeries("teacher reward", teacher).
		AddSeries(fmt.Sprintf("student trailing average (%d)", window), trailing,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

// RenderChart writes the reward chart as a standalone HTML page.
func RenderChart(w io.Writer, runID string, rounds []core.RoundRecord, events []core.EvolutionEvent, window int) error {
	page := components.NewPage()
	page.AddCharts(RewardChart(runID, rounds, events, window))
	return page.Render(w)
}

// WriteChart renders the chart into dir/<runID>.html and returns the path.
func WriteChart(dir, runID string, rounds []core.RoundRecord, events []core.EvolutionEvent, window int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(dir, runID+".html")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()
	if err := RenderChart(f, runID, rounds, events, window); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	return path, nil
}
