// Package tester runs prompt sets against a chat-completion backend and
// collects the outputs and inference times for side-by-side comparison.
package tester

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultModel       = "./Qwen2.5-32B-Instruct-AWQ"
	DefaultRepetitions = 1
	MinRepetitions     = 1
	MaxRepetitions     = 10
	DefaultTemperature = 0.56
	MinTemperature     = 0.0
	MaxTemperature     = 1.0
	TemperatureStep    = 0.1
	DefaultMaxTokens   = 300

	// PromptsRequiredMessage is shown to the user instead of results when a
	// prompt field is left empty.
	PromptsRequiredMessage = "Please fill in all prompts."
)

var (
	ErrPromptsRequired = errors.New("system and human prompts are required")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrPromptSetCount  = errors.New("one or two prompt sets are required")
	validate           = validator.New(validator.WithRequiredStructEnabled())
)

type Mode string

const (
	ModeSingle  Mode = "single"
	ModeCompare Mode = "compare"
	// ModeStream labels single streamed completions. Runs never carry it.
	ModeStream Mode = "stream"
)

// PromptSet is one system/human prompt pair.
type PromptSet struct {
	System string `json:"system"`
	Human  string `json:"human"`
}

// Filled reports whether both prompts carry text.
func (p PromptSet) Filled() bool {
	return strings.TrimSpace(p.System) != "" && strings.TrimSpace(p.Human) != ""
}

// Settings are shared by every prompt set of a run.
type Settings struct {
	Model       string  `json:"model" validate:"required"`
	Repetitions int     `json:"repetitions" validate:"min=1,max=10"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens   int     `json:"max_tokens" validate:"min=1,max=32768"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:       DefaultModel,
		Repetitions: DefaultRepetitions,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// ApplyDefaults fills zero fields. Temperature is left alone since zero is a
// meaningful value.
func (s *Settings) ApplyDefaults() {
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.Repetitions == 0 {
		s.Repetitions = DefaultRepetitions
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = DefaultMaxTokens
	}
}

func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%w: %s must satisfy %s=%s", ErrInvalidSettings, strings.ToLower(fe.Field()), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %s is %s", ErrInvalidSettings, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
}

// Completion is the outcome of one chat-completion call.
type Completion struct {
	Output        string  `json:"output"`
	InferenceTime float64 `json:"inference_time"`
	Model         string  `json:"model,omitempty"`
	FinishReason  string  `json:"finish_reason,omitempty"`
	Error         string  `json:"error,omitempty"`
	Err           error   `json:"-"`
}

func (c Completion) Failed() bool {
	return c.Err != nil || c.Error != ""
}

// Trial holds one repetition; Results has one entry per prompt set, in order.
type Trial struct {
	Index   int          `json:"index"`
	Results []Completion `json:"results"`
}

type Run struct {
	ID        string        `json:"id"`
	Mode      Mode          `json:"mode"`
	Settings  Settings      `json:"settings"`
	Sets      []PromptSet   `json:"prompt_sets"`
	Trials    []Trial       `json:"trials"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Summary aggregates inference times of one prompt set over all trials.
type Summary struct {
	Set      int     `json:"set"`
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Summaries returns one Summary per prompt set. Failed completions are
// counted but excluded from the timing figures.
func (r *Run) Summaries() []Summary {
	out := make([]Summary, len(r.Sets))
	for i := range out {
		out[i].Set = i + 1
	}
	totals := make([]float64, len(r.Sets))
	for _, trial := range r.Trials {
		for i, c := range trial.Results {
			if i >= len(out) {
				break
			}
			s := &out[i]
			if c.Failed() {
				s.Failures++
				continue
			}
			if s.Count == 0 || c.InferenceTime < s.Min {
				s.Min = c.InferenceTime
			}
			if c.InferenceTime > s.Max {
				s.Max = c.InferenceTime
			}
			s.Count++
			totals[i] += c.InferenceTime
		}
	}
	for i := range out {
		if out[i].Count > 0 {
			out[i].Mean = roundHundredths(totals[i] / float64(out[i].Count))
		}
	}
	return out
}

// roundHundredths rounds to two decimals, as inference times are reported.
func roundHundredths(v float64) float64 {
	return math.Round(v*100) / 100
}

func inferenceSeconds(d time.Duration) float64 {
	return roundHundredths(d.Seconds())
}

// NormalizeOutput trims surrounding whitespace and lowercases model output.
func NormalizeOutput(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Label names one completion panel: "✏ Test #n" for a single run and
// "Prompt k #n" for side k of a comparison.
func (r *Run) Label(side, index int) string {
	if r.Mode == ModeCompare {
		return fmt.Sprintf("Prompt %d #%d", side+1, index)
	}
	return fmt.Sprintf("✏ Test #%d", index)
}

func (r *Run) Heading() string {
	if r.Mode == ModeCompare {
		return "Model Responses"
	}
	return "Model Response"
}
