package voicepipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/config"
)

func writeEchoRecognizerScript(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recognizer.sh")
	script := fmt.Sprintf("#!/bin/sh\necho '{\"text\":\"%s\",\"confidence\":0.9}'\n", text)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecRecognizerFinalizeRunsCommandAndEmitsResult(t *testing.T) {
	script := writeEchoRecognizerScript(t, "start the transport")
	cfg := config.VoiceConfig{
		Command:        script,
		SampleRate:     48000,
		RecognizerRate: 16000,
		Channels:       1,
	}
	recognizer, err := NewExecRecognizer(cfg)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}

	ctx := context.Background()
	pcm := make([]byte, 3200)
	if err := recognizer.Feed(ctx, pcm); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := recognizer.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	select {
	case res := <-recognizer.Results():
		if !res.IsFinal || res.Text != "start the transport" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a final result")
	}
}

func TestExecRecognizerFinalizeSkipsEmptyBuffer(t *testing.T) {
	script := writeEchoRecognizerScript(t, "unused")
	cfg := config.VoiceConfig{Command: script, SampleRate: 48000, Channels: 1}
	recognizer, err := NewExecRecognizer(cfg)
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}

	if err := recognizer.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	select {
	case res := <-recognizer.Results():
		if res.Text != "" {
			t.Fatalf("expected an empty result when nothing was fed, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Finalize to emit an (empty) result")
	}
}

func TestNewExecRecognizerRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecRecognizer(config.VoiceConfig{Command: "   "})
	if err == nil {
		t.Fatalf("expected an error for an empty command")
	}
}
