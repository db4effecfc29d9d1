package dashboard

import "prompt-tester/internal/tester"

// Callout is a colored notice box.
type Callout struct {
	Kind    string
	Title   string
	Message string
}

type calloutStyle struct {
	Background string
	Border     string
	Icon       string
}

var calloutStyles = map[string]calloutStyle{
	"info":    {Background: "#e6f3ff", Border: "#0066cc", Icon: "ℹ️"},
	"warning": {Background: "#fff3e6", Border: "#cc6600", Icon: "⚠️"},
	"error":   {Background: "#ffe6e6", Border: "#cc0000", Icon: "❌"},
	"success": {Background: "#e6ffe6", Border: "#006600", Icon: "✅"},
}

func (c Callout) Style() calloutStyle {
	if s, ok := calloutStyles[c.Kind]; ok {
		return s
	}
	return calloutStyles["info"]
}

// Panel is one expandable result box.
type Panel struct {
	Label      string
	Completion tester.Completion
}

// TrialRow holds the panels of one repetition, one per prompt set.
type TrialRow struct {
	Panels []Panel
}

type RunView struct {
	Heading   string
	Compare   bool
	Rows      []TrialRow
	Summaries []tester.Summary
}

type PageData struct {
	Title       string
	Version     string
	CompareMode bool
	Settings    tester.Settings
	Single      tester.PromptSet
	First       tester.PromptSet
	Second      tester.PromptSet
	Warning     *Callout
	Run         *RunView
	Limits      Limits
}

// Limits feed the sidebar slider bounds.
type Limits struct {
	MinRepetitions  int
	MaxRepetitions  int
	MinTemperature  float64
	MaxTemperature  float64
	TemperatureStep float64
}

var sliderLimits = Limits{
	MinRepetitions:  tester.MinRepetitions,
	MaxRepetitions:  tester.MaxRepetitions,
	MinTemperature:  tester.MinTemperature,
	MaxTemperature:  tester.MaxTemperature,
	TemperatureStep: tester.TemperatureStep,
}

// NewRunView lays out a run as labeled panels.
func NewRunView(run *tester.Run) *RunView {
	if run == nil {
		return nil
	}
	view := &RunView{
		Heading:   run.Heading(),
		Compare:   run.Mode == tester.ModeCompare,
		Rows:      make([]TrialRow, 0, len(run.Trials)),
		Summaries: run.Summaries(),
	}
	for _, trial := range run.Trials {
		row := TrialRow{Panels: make([]Panel, 0, len(trial.Results))}
		for side, completion := range trial.Results {
			row.Panels = append(row.Panels, Panel{
				Label:      run.Label(side, trial.Index),
				Completion: completion,
			})
		}
		view.Rows = append(view.Rows, row)
	}
	return view
}
