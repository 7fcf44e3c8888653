// Package local runs on-device models through an external transcription
// command.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

// Command invokes a transcriber binary as
// `<command...> --audio <wav> --model <path> [--language <code>]` and reads
// `{"text": ...}` from its stdout.
type Command struct {
	args     []string
	model    string
	language string
	tempDir  string
}

type commandResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ParseCommand splits a shell-quoted command line.
func ParseCommand(line string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parse local command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("local command is empty")
	}
	return args, nil
}

func NewCommand(line, model, language string) (*Command, error) {
	args, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return &Command{args: args, model: model, language: language, tempDir: os.TempDir()}, nil
}

// Run writes samples to a temporary WAV and returns the command's text.
func (c *Command) Run(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	file, err := os.CreateTemp(c.tempDir, "loqa_dictate_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.Write(file, samples, sampleRate); err != nil {
		return "", err
	}

	cmdArgs := append([]string{}, c.args[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name(), "--model", c.model)
	if c.language != "" {
		cmdArgs = append(cmdArgs, "--language", c.language)
	}

	command := exec.CommandContext(ctx, c.args[0], cmdArgs...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("local command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp commandResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode local command response: %w", err)
	}
	return resp.Text, nil
}
