package voicepipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/skeletoncrew/nodecraft/internal/config"
)

// whisperRecognizer runs whisper.cpp in-process rather than shelling
// out to a companion binary — the one recognizer backend that isn't
// grounded on an internal/stt exec pattern, since the teacher never
// actually calls this dependency anywhere (it's pulled in transitively
// and unexercised). Feeding accumulates PCM converted to float32
// samples; Finalize runs one whisper.cpp pass over everything fed
// since the last Finalize.
type whisperRecognizer struct {
	model   whisper.Model
	mu      sync.Mutex
	samples []float32
	results chan Result
}

func NewWhisperRecognizer(cfg config.VoiceConfig) (Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("voice.model_path is required for the whisper recognizer")
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperRecognizer{
		model:   model,
		results: make(chan Result, 8),
	}, nil
}

func (r *whisperRecognizer) Feed(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, pcmToFloat32(pcm)...)
	return nil
}

func (r *whisperRecognizer) Finalize(ctx context.Context) error {
	r.mu.Lock()
	samples := append([]float32(nil), r.samples...)
	r.samples = nil
	r.mu.Unlock()

	if len(samples) == 0 {
		select {
		case r.results <- Result{IsFinal: true}:
		default:
		}
		return nil
	}

	whisperCtx, err := r.model.NewContext()
	if err != nil {
		return fmt.Errorf("create whisper context: %w", err)
	}
	if err := whisperCtx.Process(samples, nil, nil, nil); err != nil {
		return fmt.Errorf("whisper process: %w", err)
	}

	var text string
	for {
		segment, err := whisperCtx.NextSegment()
		if err != nil {
			break
		}
		text += segment.Text
	}

	select {
	case r.results <- Result{Text: text, IsFinal: true, Confidence: 1.0}:
	default:
	}
	return nil
}

func (r *whisperRecognizer) Results() <-chan Result {
	return r.results
}

func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		lo, hi := pcm[i*2], pcm[i*2+1]
		sample := int16(uint16(lo) | uint16(hi)<<8)
		out[i] = float32(sample) / 32768.0
	}
	return out
}
