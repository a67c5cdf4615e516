package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// errInputAborted is returned by a lineReader when the user pressed Ctrl+C
// at the prompt.
var errInputAborted = errors.New("input aborted")

// lineReader reads one line of user input per prompt. It returns io.EOF when
// the input is exhausted.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close() error
}

// terminalInput reads prompts with line editing and a persisted history.
type terminalInput struct {
	line        *liner.State
	historyFile string
}

func newTerminalInput() *terminalInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &terminalInput{line: line, historyFile: historyPath()}
	if f, err := os.Open(in.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return in
}

// historyPath is <user config dir>/ollama-chat/history, or a temp file when no
// config dir is available.
func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ollama-chat", "history")
}

func (t *terminalInput) ReadInput(prompt string) (string, error) {
	input, err := t.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errInputAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		t.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history and restores the terminal.
func (t *terminalInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(t.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(t.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = t.line.WriteHistory(f)
			f.Close()
		}
	}
	return t.line.Close()
}
