package tester

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"prompt-tester/internal/llm"
	"prompt-tester/internal/logger"
)

// Runner issues completions for prompt sets through an llm.Client.
type Runner struct {
	client   llm.Client
	limiter  *rate.Limiter
	log      *logger.Logger
	observer Observer
}

// Observer is notified of every completion and finished run.
type Observer interface {
	ObserveCompletion(mode string, seconds float64, err error)
	ObserveRun(mode string, trials int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCompletion(string, float64, error) {}
func (nopObserver) ObserveRun(string, int, time.Duration)    {}

type Option func(*Runner)

// WithRateLimit paces outbound completions to rps requests per second.
// A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Runner) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

func NewRunner(client llm.Client, opts ...Option) *Runner {
	r := &Runner{
		client:   client,
		log:      logger.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("runner")
	return r
}

// BuildMessages turns a prompt set into the system + user message pair.
func BuildMessages(set PromptSet) []llm.Message {
	messages := make([]llm.Message, 0, 2)
	if set.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: set.System})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: set.Human})
}

func (r *Runner) chatRequest(settings Settings, set PromptSet) llm.ChatRequest {
	return llm.ChatRequest{
		Model:       settings.Model,
		Messages:    BuildMessages(set),
		Temperature: llm.Float64(settings.Temperature),
		MaxTokens:   settings.MaxTokens,
	}
}

// Complete issues one completion and times it. Failures are reported on the
// returned Completion rather than as an error so that a comparison can still
// show the other side.
func (r *Runner) Complete(ctx context.Context, settings Settings, set PromptSet) Completion {
	return r.observe(ModeSingle, r.complete(ctx, settings, set))
}

func (r *Runner) complete(ctx context.Context, settings Settings, set PromptSet) Completion {
	if err := r.wait(ctx); err != nil {
		return failed(err, 0)
	}
	start := time.Now()
	resp, err := r.client.Chat(ctx, r.chatRequest(settings, set))
	elapsed := time.Since(start)
	if err != nil {
		r.log.Warn("Completion failed", logger.MergeError(logger.DurationFields("complete", elapsed), err))
		return failed(err, elapsed)
	}
	r.log.Debug("Completion finished", logger.Fields(
		logger.FieldModel, settings.Model,
		logger.FieldDuration, elapsed.Milliseconds(),
		"finish_reason", resp.FinishReason,
	))
	return Completion{
		Output:        NormalizeOutput(resp.Content),
		InferenceTime: inferenceSeconds(elapsed),
		Model:         resp.Model,
		FinishReason:  resp.FinishReason,
	}
}

// Stream is Complete over the streaming API. handle sees the raw deltas; the
// returned Completion carries the normalized full output.
func (r *Runner) Stream(ctx context.Context, settings Settings, set PromptSet, handle llm.StreamHandler) Completion {
	if err := r.wait(ctx); err != nil {
		return r.observe(ModeStream, failed(err, 0))
	}
	start := time.Now()
	resp, err := r.client.ChatStream(ctx, r.chatRequest(settings, set), handle)
	elapsed := time.Since(start)
	if err != nil {
		r.log.Warn("Streaming completion failed", logger.MergeError(logger.DurationFields("stream", elapsed), err))
		return r.observe(ModeStream, failed(err, elapsed))
	}
	return r.observe(ModeStream, Completion{
		Output:        NormalizeOutput(resp.Content),
		InferenceTime: inferenceSeconds(elapsed),
		Model:         resp.Model,
		FinishReason:  resp.FinishReason,
	})
}

// Execute runs one prompt set in single mode or two in compare mode.
func (r *Runner) Execute(ctx context.Context, settings Settings, sets ...PromptSet) (*Run, error) {
	switch len(sets) {
	case 1:
		return r.RunSingle(ctx, settings, sets[0])
	case 2:
		return r.RunCompare(ctx, settings, sets[0], sets[1])
	default:
		return nil, fmt.Errorf("%w: got %d", ErrPromptSetCount, len(sets))
	}
}

// RunSingle completes set Repetitions times, one after the other.
func (r *Runner) RunSingle(ctx context.Context, settings Settings, set PromptSet) (*Run, error) {
	run, err := r.newRun(ModeSingle, settings, set)
	if err != nil {
		return nil, err
	}
	for i := 1; i <= run.Settings.Repetitions; i++ {
		if err := ctx.Err(); err != nil {
			return r.finish(run), err
		}
		run.Trials = append(run.Trials, Trial{
			Index:   i,
			Results: []Completion{r.observe(ModeSingle, r.complete(ctx, run.Settings, set))},
		})
	}
	return r.finish(run), nil
}

// RunCompare completes both sets Repetitions times. Within a repetition the
// two completions are in flight together; a failure on one side does not
// cancel the other.
func (r *Runner) RunCompare(ctx context.Context, settings Settings, first, second PromptSet) (*Run, error) {
	run, err := r.newRun(ModeCompare, settings, first, second)
	if err != nil {
		return nil, err
	}
	for i := 1; i <= run.Settings.Repetitions; i++ {
		if err := ctx.Err(); err != nil {
			return r.finish(run), err
		}
		results := make([]Completion, 2)
		var g errgroup.Group
		for side, set := range run.Sets {
			g.Go(func() error {
				results[side] = r.observe(ModeCompare, r.complete(ctx, run.Settings, set))
				return nil
			})
		}
		_ = g.Wait()
		run.Trials = append(run.Trials, Trial{Index: i, Results: results})
	}
	return r.finish(run), nil
}

func (r *Runner) newRun(mode Mode, settings Settings, sets ...PromptSet) (*Run, error) {
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	for _, set := range sets {
		if !set.Filled() {
			return nil, ErrPromptsRequired
		}
	}
	return &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Settings:  settings,
		Sets:      sets,
		Trials:    make([]Trial, 0, settings.Repetitions),
		StartedAt: time.Now(),
	}, nil
}

func (r *Runner) finish(run *Run) *Run {
	run.Elapsed = time.Since(run.StartedAt)
	r.observer.ObserveRun(string(run.Mode), len(run.Trials), run.Elapsed)
	r.log.Info("Run finished", logger.Fields(
		logger.FieldRunID, run.ID,
		"mode", string(run.Mode),
		logger.FieldModel, run.Settings.Model,
		"trials", len(run.Trials),
		logger.FieldDuration, run.Elapsed.Milliseconds(),
	))
	return run
}

func (r *Runner) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (r *Runner) observe(mode Mode, c Completion) Completion {
	r.observer.ObserveCompletion(string(mode), c.InferenceTime, c.Err)
	return c
}

func failed(err error, elapsed time.Duration) Completion {
	return Completion{
		InferenceTime: inferenceSeconds(elapsed),
		Error:         err.Error(),
		Err:           err,
	}
}
