package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"jordanella.com/autoclick-vision/internal/config"
	"jordanella.com/autoclick-vision/internal/cv"
	"jordanella.com/autoclick-vision/internal/database"
	"jordanella.com/autoclick-vision/internal/scheduler"
	"jordanella.com/autoclick-vision/internal/taskfile"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func historyCommand(settings *config.Settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "Number of runs to list")
	runID := fs.String("run", "", "Show one run in detail")
	dbPath := fs.String("db", settings.Storage.DatabasePath, "Path to history database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := database.OpenAndMigrate(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if *runID != "" {
		return writeRunDetail(out, db, *runID)
	}

	runs, err := db.ListRuns(*limit)
	if err != nil {
		return err
	}
	summary, err := db.GetRunSummary()
	if err != nil {
		return err
	}
	writeRuns(out, runs, summary)
	return nil
}

func writeRuns(out io.Writer, runs []*database.Run, summary *database.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}

	t := newTable("Run", "Task", "Status", "Started", "Duration", "Rounds", "Success", "Failure", "Skipped")
	for _, r := range runs {
		t.Row(
			shortID(r.ID),
			r.TaskName,
			string(r.Status),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Duration().Round(time.Second).String(),
			roundsLabel(r.RoundsCompleted, r.TotalRounds),
			strconv.Itoa(r.TotalSuccess),
			strconv.Itoa(r.TotalFailure),
			strconv.Itoa(r.TotalSkipped),
		)
	}
	fmt.Fprintln(out, t.Render())

	if summary != nil {
		fmt.Fprintf(out, "%d runs: %d finished, %d stopped, %d error\n",
			summary.TotalRuns, summary.FinishedRuns, summary.StoppedRuns, summary.ErrorRuns)
	}
}

func writeRunDetail(out io.Writer, db *database.DB, runID string) error {
	run, err := findRun(db, runID)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s (%s)", run.TaskName, run.ID)))
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Duration: %s\n", run.Duration().Round(time.Second))
	}
	if run.TaskPath != nil {
		fmt.Fprintf(out, "File:     %s\n", *run.TaskPath)
	}
	if run.ErrorMessage != nil {
		fmt.Fprintf(out, "Error:    %s\n", *run.ErrorMessage)
	}

	rounds, err := db.GetRounds(run.ID)
	if err != nil {
		return err
	}
	if len(rounds) > 0 {
		t := newTable("Round", "Success", "Failure", "Skipped", "Completed")
		for _, r := range rounds {
			t.Row(strconv.Itoa(r.RoundNumber), strconv.Itoa(r.Success), strconv.Itoa(r.Failure),
				strconv.Itoa(r.Skipped), r.CompletedAt.Local().Format("15:04:05"))
		}
		fmt.Fprintln(out, t.Render())
	}

	failures, err := db.GetFailures(run.ID)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		t := newTable("Failure", "Time", "Screenshot")
		for _, f := range failures {
			path := "-"
			if f.ScreenshotPath != nil {
				path = *f.ScreenshotPath
			}
			t.Row(f.Tag, f.OccurredAt.Local().Format("15:04:05"), path)
		}
		fmt.Fprintln(out, t.Render())
	}

	anomalies, err := db.GetAnomalies(run.ID, 50)
	if err != nil {
		return err
	}
	if len(anomalies) > 0 {
		t := newTable("Anomaly", "Time", "Message")
		for _, a := range anomalies {
			t.Row(string(a.Kind), a.OccurredAt.Local().Format("15:04:05"), a.Message)
		}
		fmt.Fprintln(out, t.Render())
	}
	return nil
}

// findRun accepts a full run ID or the short prefix printed by the list
func findRun(db *database.DB, id string) (*database.Run, error) {
	run, err := db.GetRun(id)
	if err == nil {
		return run, nil
	}

	runs, listErr := db.ListRuns(1000)
	if listErr != nil {
		return nil, listErr
	}
	var match *database.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run prefix %q is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func roundsLabel(done, total int) string {
	if total == 0 {
		return fmt.Sprintf("%d/∞", done)
	}
	return fmt.Sprintf("%d/%d", done, total)
}

func monitorsCommand(settings *config.Settings, out io.Writer) error {
	capture := cv.NewScreenCapture(cv.NewScreenBackend, settings.Capture.MonitorIndex)
	monitors, err := capture.Monitors()
	if err != nil {
		return err
	}
	writeMonitors(out, monitors, settings.Capture.MonitorIndex)
	return nil
}

func writeMonitors(out io.Writer, monitors []cv.Rect, selected int) {
	t := newTable("Index", "X", "Y", "Width", "Height", "")
	for i, m := range monitors {
		var notes []string
		if i == 0 {
			notes = append(notes, "all displays")
		}
		if i == selected {
			notes = append(notes, "selected")
		}
		t.Row(strconv.Itoa(i), strconv.Itoa(m.X), strconv.Itoa(m.Y), strconv.Itoa(m.W), strconv.Itoa(m.H),
			strings.Join(notes, ", "))
	}
	fmt.Fprintln(out, t.Render())
}

func parseCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	buttons := fs.String("buttons", "", "Name=id pairs for a sequence string, comma separated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected a task file or a sequence string")
	}
	arg := fs.Arg(0)

	if ext := strings.ToLower(filepath.Ext(arg)); ext == ".yaml" || ext == ".yml" || fileExists(arg) {
		task, err := taskfile.Load(arg)
		if err != nil {
			return err
		}
		writeTask(out, task.Spec)
		if err := taskfile.Check(task.Spec); err != nil {
			fmt.Fprintf(out, "Warning: %v\n", err)
		}
		return nil
	}

	names, err := parseButtonNames(*buttons)
	if err != nil {
		return err
	}
	steps := scheduler.ParseSequence(arg, names)
	if len(steps) == 0 {
		return fmt.Errorf("sequence %q produced no steps", arg)
	}
	writeSteps(out, steps)
	return nil
}

// parseButtonNames reads "A=ok,B=close". A bare name maps to itself.
func parseButtonNames(s string) (map[string]string, error) {
	names := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return names, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, id, found := strings.Cut(strings.TrimSpace(pair), "=")
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if !found {
			id = name
		}
		if name == "" || id == "" {
			return nil, fmt.Errorf("invalid button mapping %q", pair)
		}
		names[name] = id
	}
	return names, nil
}

func writeTask(out io.Writer, spec scheduler.TaskSpec) {
	fmt.Fprintln(out, titleStyle.Render(spec.Name))
	loops := "until stopped"
	if spec.LoopCount > 0 {
		loops = fmt.Sprintf("%d rounds", spec.LoopCount)
	}
	fmt.Fprintf(out, "Loops: %s, round interval %s\n", loops, spec.RoundInterval)
	if spec.ChainTask != "" {
		fmt.Fprintf(out, "Chain: %s\n", spec.ChainTask)
	}

	t := newTable("Button", "Name", "Image", "Click", "Policy", "Confidence")
	for _, b := range spec.Buttons {
		t.Row(b.ID, b.Name, b.ImagePath, b.ClickKind.String(), b.Policy.String(),
			strconv.FormatFloat(b.Confidence, 'f', 2, 64))
	}
	fmt.Fprintln(out, t.Render())

	writeSteps(out, spec.Steps)
}

func writeSteps(out io.Writer, steps []scheduler.StepSpec) {
	t := newTable("Step", "Buttons", "Repeat", "Condition", "Inter delay")
	for i, s := range steps {
		t.Row(strconv.Itoa(i+1), strings.Join(s.ButtonIDs, " | "), strconv.Itoa(s.Repeat),
			s.Condition.String(), s.InterDelay.String())
	}
	fmt.Fprintln(out, t.Render())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
