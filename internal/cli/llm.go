package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"prompt-tester/internal/config"
	"prompt-tester/internal/llm"
	"prompt-tester/internal/tester"

	"github.com/spf13/cobra"
)

// providerFlags override the llm section of the configuration.
type providerFlags struct {
	Type  string
	Model string
	URL   string
	Token string
}

func (p *providerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.Type, "type", "", "override provider type (openai, anthropic, gemini)")
	cmd.Flags().StringVar(&p.Model, "model", "", "override model name")
	cmd.Flags().StringVar(&p.URL, "url", "", "override base url")
	cmd.Flags().StringVar(&p.Token, "token", "", "override access token")
}

func (p *providerFlags) apply(cfg llm.Config) llm.Config {
	cfg.Type = firstNonEmpty(p.Type, cfg.Type)
	cfg.Model = firstNonEmpty(p.Model, cfg.Model)
	cfg.URL = firstNonEmpty(p.URL, cfg.URL)
	cfg.Token = firstNonEmpty(p.Token, cfg.Token)
	return cfg
}

type llmChatOptions struct {
	providerFlags
	Prompt      string
	System      string
	Stream      bool
	NoStream    bool
	Temperature float64
}

func newLLMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Interact with LLM providers",
	}

	cmd.AddCommand(newLLMChatCmd())
	cmd.AddCommand(newLLMTestCmd())
	return cmd
}

func newLLMChatCmd() *cobra.Command {
	opts := &llmChatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a raw chat completion request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLLMChat(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "prompt content (read stdin if empty)")
	cmd.Flags().StringVar(&opts.System, "system", "", "system prompt")
	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream response")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "disable streaming response")
	cmd.Flags().Float64Var(&opts.Temperature, "temperature", -1, "sampling temperature (provider default if negative)")
	opts.register(cmd)

	return cmd
}

func runLLMChat(cmd *cobra.Command, opts *llmChatOptions) error {
	if opts.Stream && opts.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return errors.New("prompt is required")
	}

	clientCfg := opts.apply(cfg.ClientConfig())
	client, err := llm.New(clientCfg)
	if err != nil {
		return err
	}

	req := llm.ChatRequest{
		Model:    clientCfg.Model,
		Messages: tester.BuildMessages(tester.PromptSet{System: strings.TrimSpace(opts.System), Human: prompt}),
	}
	if opts.Temperature >= 0 {
		req.Temperature = llm.Float64(opts.Temperature)
	}
	return sendChat(cmd, client, req, opts.Stream)
}

type llmTestOptions struct {
	providerFlags
	Stream   bool
	NoStream bool
}

func newLLMTestCmd() *cobra.Command {
	opts := &llmTestOptions{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test LLM connectivity with config or flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLLMTest(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream response")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "disable streaming response")
	opts.register(cmd)

	return cmd
}

func runLLMTest(cmd *cobra.Command, opts *llmTestOptions) error {
	if opts.Stream && opts.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	clientCfg := opts.apply(cfg.ClientConfig())
	client, err := llm.New(clientCfg)
	if err != nil {
		return err
	}

	req := llm.ChatRequest{
		Model:    clientCfg.Model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
	}
	return sendChat(cmd, client, req, opts.Stream)
}

func sendChat(cmd *cobra.Command, client llm.Client, req llm.ChatRequest, stream bool) error {
	out := cmd.OutOrStdout()
	if stream {
		_, err := client.ChatStream(cmd.Context(), req, func(delta string) error {
			_, writeErr := fmt.Fprint(out, delta)
			return writeErr
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out)
		return nil
	}

	resp, err := client.Chat(cmd.Context(), req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, resp.Content)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
