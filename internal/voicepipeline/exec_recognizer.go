package voicepipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/skeletoncrew/nodecraft/internal/config"
)

// execRecognizer accumulates fed PCM and invokes a companion STT
// process on Finalize and on each partial-interval tick, adapted from
// internal/stt/exec_recognizer.go's shellwords.Parse + temp-WAV +
// JSON-stdout pattern, generalized from one-shot Transcribe to a
// streaming accumulator.
type execRecognizer struct {
	cmd []string
	cfg config.VoiceConfig

	mu          sync.Mutex
	buffer      []byte
	lastPartial time.Time
	results     chan Result
}

type execTranscriptResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.VoiceConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse voice command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("voice command is empty")
	}
	return &execRecognizer{
		cmd:     args,
		cfg:     cfg,
		results: make(chan Result, 8),
	}, nil
}

func (r *execRecognizer) Feed(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	r.buffer = append(r.buffer, pcm...)
	interval := time.Duration(r.cfg.PartialEveryMS) * time.Millisecond
	due := interval > 0 && (r.lastPartial.IsZero() || time.Since(r.lastPartial) >= interval)
	if due {
		r.lastPartial = time.Now()
	}
	buffer := append([]byte(nil), r.buffer...)
	r.mu.Unlock()

	if !due {
		return nil
	}
	result, err := r.transcribe(ctx, buffer, false)
	if err != nil {
		return err
	}
	if result.Text != "" {
		r.emit(Result{Text: result.Text, IsFinal: false, Confidence: result.Confidence})
	}
	return nil
}

func (r *execRecognizer) Finalize(ctx context.Context) error {
	r.mu.Lock()
	buffer := append([]byte(nil), r.buffer...)
	r.buffer = nil
	r.mu.Unlock()

	result, err := r.transcribe(ctx, buffer, true)
	if err != nil {
		return err
	}
	r.emit(Result{Text: result.Text, IsFinal: true, Confidence: result.Confidence})
	return nil
}

func (r *execRecognizer) Results() <-chan Result {
	return r.results
}

func (r *execRecognizer) emit(res Result) {
	select {
	case r.results <- res:
	default:
	}
}

func (r *execRecognizer) transcribe(ctx context.Context, pcm []byte, final bool) (execTranscriptResult, error) {
	if len(pcm) == 0 {
		return execTranscriptResult{}, nil
	}

	file, err := os.CreateTemp(os.TempDir(), "skeletond_voice_*.wav")
	if err != nil {
		return execTranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	sampleRate := r.cfg.RecognizerRate
	if sampleRate == 0 {
		sampleRate = r.cfg.SampleRate
	}
	if err := writePCMToWav(file, pcm, sampleRate, r.cfg.Channels); err != nil {
		return execTranscriptResult{}, err
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if !final {
		cmdArgs = append(cmdArgs, "--partial")
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execTranscriptResult{}, fmt.Errorf("voice recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execTranscriptResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execTranscriptResult{}, fmt.Errorf("decode voice recognizer response: %w", err)
	}
	return resp, nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		lo, hi := pcm[i*2], pcm[i*2+1]
		samples[i] = int(int16(uint16(lo) | uint16(hi)<<8))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}
