package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"prompt-tester/internal/tester"
)

type runOptions struct {
	System      string
	Human       []string
	HumanFile   string
	System2     string
	Human2      string
	Model       string
	Repetitions int
	Temperature float64
	MaxTokens   int
	JSON        bool

	temperatureSet bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [human prompt...]",
		Short: "Run one prompt set, or compare two, from the terminal",
		Long: "Run sends the system and human prompt to the configured model the requested\n" +
			"number of times. Passing --system2 or --human2 switches to compare mode, where\n" +
			"both prompt sets are sent together on every repetition.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Human = args
			opts.temperatureSet = cmd.Flags().Changed("temperature")
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.System, "system", "", "system prompt")
	cmd.Flags().StringVarP(&opts.HumanFile, "file", "F", "", "human prompt file, use -F- for stdin")
	cmd.Flags().StringVar(&opts.System2, "system2", "", "second system prompt (compare mode)")
	cmd.Flags().StringVar(&opts.Human2, "human2", "", "second human prompt (compare mode)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model name")
	cmd.Flags().IntVarP(&opts.Repetitions, "repeat", "n", 0, "number of repetitions (1-10)")
	cmd.Flags().Float64VarP(&opts.Temperature, "temperature", "t", 0, "sampling temperature (0-1), defaults to the configured value")
	cmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", 0, "completion token limit")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the run as JSON")
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	human, err := readInput(opts.Human, opts.HumanFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg, log)
	if err != nil {
		return err
	}

	settings := opts.settings(cfg.DefaultSettings())
	sets := []tester.PromptSet{{System: opts.System, Human: human}}
	if opts.compare() {
		// Unset second-set fields reuse the first set, like the dashboard.
		sets = append(sets, tester.PromptSet{
			System: firstNonEmpty(opts.System2, opts.System),
			Human:  firstNonEmpty(opts.Human2, human),
		})
	}

	run, err := runner.Execute(cmd.Context(), settings, sets...)
	if errors.Is(err, tester.ErrPromptsRequired) {
		return errors.New(tester.PromptsRequiredMessage)
	}
	if err != nil && run == nil {
		return err
	}
	if opts.JSON {
		if writeErr := writeRunJSON(cmd.OutOrStdout(), run); writeErr != nil {
			return writeErr
		}
	} else {
		writeRunText(cmd.OutOrStdout(), run)
	}
	return err
}

func (o *runOptions) compare() bool {
	return o.System2 != "" || o.Human2 != ""
}

func (o *runOptions) settings(defaults tester.Settings) tester.Settings {
	s := defaults
	if o.Model != "" {
		s.Model = o.Model
	}
	if o.Repetitions != 0 {
		s.Repetitions = o.Repetitions
	}
	if o.temperatureSet {
		s.Temperature = o.Temperature
	}
	if o.MaxTokens != 0 {
		s.MaxTokens = o.MaxTokens
	}
	return s
}

func readInput(args []string, inputFile string, stdin io.Reader) (string, error) {
	if inputFile != "" && len(args) > 0 {
		return "", fmt.Errorf("prompt args and -F are mutually exclusive")
	}
	if inputFile == "" {
		return strings.Join(args, " "), nil
	}
	if inputFile == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return trimTrailingNewline(string(data)), nil
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return trimTrailingNewline(string(data)), nil
}

func trimTrailingNewline(value string) string {
	return strings.TrimRight(value, "\r\n")
}

func writeRunJSON(w io.Writer, run *tester.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Run       *tester.Run      `json:"run"`
		Summaries []tester.Summary `json:"summaries"`
	}{Run: run, Summaries: run.Summaries()})
}

func writeRunText(w io.Writer, run *tester.Run) {
	fmt.Fprintf(w, "### %s\n", run.Heading())
	for _, trial := range run.Trials {
		for side, c := range trial.Results {
			fmt.Fprintf(w, "\n--- %s ---\n", run.Label(side, trial.Index))
			if c.Failed() {
				fmt.Fprintf(w, "Error: %s\n", c.Error)
				continue
			}
			fmt.Fprintf(w, "😊 Model Output:\n%s\n", c.Output)
			fmt.Fprintf(w, "🕒 Inference Time: %.2f seconds\n", c.InferenceTime)
		}
	}
	if len(run.Trials) > 1 || run.Mode == tester.ModeCompare {
		fmt.Fprintln(w)
		for _, s := range run.Summaries() {
			fmt.Fprintf(w, "Prompt %d: %d ok, %d failed, mean %.2fs (min %.2fs, max %.2fs)\n",
				s.Set, s.Count, s.Failures, s.Mean, s.Min, s.Max)
		}
	}
}
