// Package voicepipeline turns a dedicated JACK capture port into wake
// word and voice command events. It generalizes internal/stt/service.go's
// buffering/scheduling shape from "one batch Transcribe call per
// session" to a streaming Feed/Finalize contract driven by one capture
// stream rather than a bus-delivered session id.
package voicepipeline

import "context"

// Result is one recognizer output, partial or final.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Recognizer abstracts the speech backend. Feed accumulates audio and
// may block for the length of one recognition pass (the exec recognizer
// runs its partial pass inline when one is due); Finalize flushes and
// guarantees a final Result is eventually sent on Results.
type Recognizer interface {
	Feed(ctx context.Context, pcm []byte) error
	Finalize(ctx context.Context) error
	Results() <-chan Result
}
