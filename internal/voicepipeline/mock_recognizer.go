package voicepipeline

import "context"

// mockRecognizer ignores fed audio and emits a deterministic canned
// partial-then-final sequence, for tests — grounded on
// internal/stt/mock_recognizer.go's "ignore the audio, return a fixed
// transcript" shape.
type mockRecognizer struct {
	partialText string
	finalText   string
	results     chan Result
	fedBytes    int
}

func NewMockRecognizer(partialText, finalText string) Recognizer {
	return &mockRecognizer{
		partialText: partialText,
		finalText:   finalText,
		results:     make(chan Result, 8),
	}
}

func (m *mockRecognizer) Feed(ctx context.Context, pcm []byte) error {
	m.fedBytes += len(pcm)
	if m.fedBytes > 0 && m.partialText != "" {
		select {
		case m.results <- Result{Text: m.partialText, IsFinal: false, Confidence: 0.5}:
		default:
		}
	}
	return nil
}

func (m *mockRecognizer) Finalize(ctx context.Context) error {
	select {
	case m.results <- Result{Text: m.finalText, IsFinal: true, Confidence: 0.95}:
	default:
	}
	return nil
}

func (m *mockRecognizer) Results() <-chan Result {
	return m.results
}
