// Package pipeline is the thin glue to the downstream collaborators: a
// transcriber consuming the finished audio file, a text-injection sink, and
// a desktop notification sink. Each is an external command; an empty
// command disables the step. The recording core never hands a path to this
// package before the artifact has been renamed into place.
package pipeline

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/quickvox/quickvox/internal/config"
)

// Transcriber turns a finished audio file into text.
type Transcriber interface {
	Transcribe(audioPath string) (string, error)
}

// Injector types the transcript into the focused application.
type Injector interface {
	Inject(text string) error
}

// Notifier surfaces a (status, message) pair to the user.
type Notifier interface {
	Notify(status, message string) error
}

type Pipeline struct {
	transcriber Transcriber
	injector    Injector
	notifier    Notifier
}

// FromConfig builds a pipeline from the configured commands.
func FromConfig(cfg config.PipelineConfig) *Pipeline {
	p := &Pipeline{}
	if cfg.TranscribeCmd != "" {
		p.transcriber = cmdTranscriber{cmdline: cfg.TranscribeCmd}
	}
	if cfg.InjectCmd != "" {
		p.injector = cmdInjector{cmdline: cfg.InjectCmd}
	}
	if cfg.NotifyCmd != "" {
		p.notifier = cmdNotifier{cmdline: cfg.NotifyCmd}
	}
	return p
}

// Handle runs transcription and injection for a completed recording.
func (p *Pipeline) Handle(audioPath string) error {
	if p.transcriber == nil {
		slog.Debug("no transcriber configured, skipping", "audio", audioPath)
		return nil
	}

	text, err := p.transcriber.Transcribe(audioPath)
	if err != nil {
		p.NotifyStatus("error", "transcription failed")
		return fmt.Errorf("transcription failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.NotifyStatus("done", "no speech detected")
		return nil
	}

	if p.injector != nil {
		if err := p.injector.Inject(text); err != nil {
			p.NotifyStatus("error", "text injection failed")
			return fmt.Errorf("text injection failed: %w", err)
		}
	}
	p.NotifyStatus("done", text)
	return nil
}

// NotifyStatus sends a best-effort notification; failures are only logged.
func (p *Pipeline) NotifyStatus(status, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(status, message); err != nil {
		slog.Debug("notification failed", "status", status, "error", err)
	}
}

type cmdTranscriber struct {
	cmdline string
}

// Transcribe invokes the configured command with the audio path appended
// and reads the transcript from stdout.
func (t cmdTranscriber) Transcribe(audioPath string) (string, error) {
	args := append(strings.Fields(t.cmdline), audioPath)
	out, err := exec.Command(args[0], args[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", args[0], err)
	}
	return string(out), nil
}

type cmdInjector struct {
	cmdline string
}

// Inject feeds the transcript to the configured command on stdin.
func (i cmdInjector) Inject(text string) error {
	args := strings.Fields(i.cmdline)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

type cmdNotifier struct {
	cmdline string
}

// Notify passes status and message as the final two arguments.
func (n cmdNotifier) Notify(status, message string) error {
	args := append(strings.Fields(n.cmdline), status, message)
	if err := exec.Command(args[0], args[1:]...).Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}
