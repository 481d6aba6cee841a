package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"maas-router/internal/config"
	"maas-router/internal/logging"
	"maas-router/internal/maas"
	providerfactory "maas-router/internal/provider/factory"
)

const completeUsage = `Usage:
  maas-router complete --model <name> --prompt <text> [flags]

Flags:
  --config      string   Path to YAML configuration file; the environment is used when omitted
  --model       string   Model name, e.g. mistral-large@2407 (required)
  --prompt      string   User message; read from stdin when "-"
  --system      string   Optional system message
  --stream               Stream the response, printing one JSON record per event
  --max-tokens  int      Maximum tokens to generate
  --temperature float    Sampling temperature

Project and region come from GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_REGION
when no config file is given.`

func complete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, completeUsage)
	}

	var (
		cfgPath     string
		modelName   string
		prompt      string
		system      string
		stream      bool
		maxTokens   int
		temperature float64
	)
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&modelName, "model", "", "model name")
	fs.StringVar(&prompt, "prompt", "", "user message")
	fs.StringVar(&system, "system", "", "system message")
	fs.BoolVar(&stream, "stream", false, "stream the response")
	fs.IntVar(&maxTokens, "max-tokens", 0, "maximum tokens to generate")
	fs.Float64Var(&temperature, "temperature", -1, "sampling temperature")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse complete flags: %w", err)
	}

	if modelName == "" {
		return errors.New("complete command requires --model <name>")
	}
	if prompt == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("complete command requires --prompt <text>")
	}

	cfg, err := loadCompleteConfig(cfgPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	model, err := providerfactory.NewModel(ctx, cfg.Vertex, modelName, maas.WithLogger(logger))
	if err != nil {
		return err
	}

	params := completionParams(system, prompt, stream, maxTokens, temperature)
	return runCompletion(ctx, model, params, os.Stdout)
}

func loadCompleteConfig(path string) (config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

func completionParams(system, prompt string, stream bool, maxTokens int, temperature float64) map[string]any {
	messages := make([]any, 0, 2)
	if system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	messages = append(messages, map[string]any{"role": "user", "content": prompt})

	params := map[string]any{
		"messages": messages,
		"stream":   stream,
	}
	if maxTokens > 0 {
		params["max_tokens"] = maxTokens
	}
	if temperature >= 0 {
		params["temperature"] = temperature
	}
	return params
}

// runCompletion writes the response record, or each streamed record, as one
// JSON line.
func runCompletion(ctx context.Context, model *maas.Model, params map[string]any, out io.Writer) error {
	resp, err := model.Do(ctx, params)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if resp.Stream == nil {
		return enc.Encode(resp.Record)
	}

	for rec, err := range resp.Stream.Records() {
		if err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}
