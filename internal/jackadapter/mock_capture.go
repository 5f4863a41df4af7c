package jackadapter

import (
	"time"
)

// captureFrames synthesizes silent 20ms PCM frames at 48kHz mono until
// stop is closed, standing in for a real JACK capture callback so the
// voice pipeline and record_start/record_stop tools have something
// deterministic to exercise in tests.
func (c *mockClient) captureFrames(port string, stop <-chan struct{}) <-chan AudioFrame {
	const sampleRate = 48000
	const channels = 1
	const frameMillis = 20

	out := make(chan AudioFrame, 4)
	samplesPerFrame := sampleRate * frameMillis / 1000
	silence := make([]byte, samplesPerFrame*2*channels)

	go func() {
		defer close(out)
		ticker := time.NewTicker(frameMillis * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				frame := AudioFrame{
					PCM:        append([]byte(nil), silence...),
					SampleRate: sampleRate,
					Channels:   channels,
					CapturedAt: now,
				}
				select {
				case out <- frame:
				case <-stop:
					return
				}
			}
		}
	}()

	return out
}
