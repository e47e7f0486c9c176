package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== closedai configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	// Telegram
	for {
		token, err := w.prompt("Telegram bot token: ")
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateTelegramToken(token); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Telegram.BotToken = token
		break
	}

	ids, err := w.prompt("Allowed Telegram user IDs, comma separated (empty allows everyone): ")
	if err != nil {
		return nil, err
	}
	cfg.Telegram.AllowedUserIDs = parseIDs(ids, w.out)

	// Provider
	provider, err := w.prompt("AI provider (gemini/anthropic/openai) [gemini]: ")
	if err != nil {
		return nil, err
	}
	if provider != "" {
		if err := validator.ValidateProvider(provider); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (gemini)\n", err)
		} else {
			cfg.AI.Provider = provider
		}
	}
	if cfg.AI.Provider != "gemini" {
		cfg.AI.Model = ""
		cfg.AI.CommitModel = ""
	}

	for {
		key, err := w.prompt(fmt.Sprintf("%s API key: ", cfg.AI.Provider))
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAPIKey(key, cfg.AI.Provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.AI.APIKey = key
		break
	}

	for {
		label := "Model"
		if cfg.AI.Model != "" {
			label = fmt.Sprintf("Model [%s]", cfg.AI.Model)
		}
		model, err := w.prompt(label + ": ")
		if err != nil {
			return nil, err
		}
		if model != "" {
			cfg.AI.Model = model
		}
		if cfg.AI.Model != "" {
			break
		}
		fmt.Fprintln(w.out, "Error: model name is required")
	}

	// Workspace
	for {
		path, err := w.prompt("Workspace repository path: ")
		if err != nil {
			return nil, err
		}
		if path == "" {
			fmt.Fprintln(w.out, "Error: workspace path is required")
			continue
		}
		cfg.Workspace.Path = path
		break
	}

	// Log Level
	level, err := w.prompt("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Log.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) prompt(label string) (string, error) {
	fmt.Fprint(w.out, label)
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseIDs(s string, out io.Writer) []int64 {
	var ids []int64
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil || id <= 0 {
			fmt.Fprintf(out, "Warning: ignoring invalid user id %q\n", field)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
