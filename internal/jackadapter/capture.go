package jackadapter

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// AudioFrame is one chunk of interleaved 16-bit PCM captured from a JACK
// port, timestamped at capture time.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

// capturable is implemented by a Client that can drive frames onto a
// channel. mockClient implements it by synthesizing silence at a fixed
// cadence; execClient's helper process would stream frames over stdout
// in a real deployment, out of scope for this in-process interface.
type capturable interface {
	captureFrames(port string, stop <-chan struct{}) <-chan AudioFrame
}

// CaptureStream opens a capture from port and returns a channel of
// frames plus a stop function. The channel is closed once stop is
// called or the underlying client's capture loop exits.
func (a *Adapter) CaptureStream(port string) (<-chan AudioFrame, func(), error) {
	cap, ok := a.client.(capturable)
	if !ok {
		return nil, nil, fmt.Errorf("jack client backend does not support audio capture")
	}
	stop := make(chan struct{})
	frames := cap.captureFrames(port, stop)
	stopFn := func() {
		close(stop)
	}
	return frames, stopFn, nil
}

// (mockClient's captureFrames lives in mock_capture.go so mock.go stays
// focused on the graph-mutation surface.)

// WriteWav persists a sequence of already-captured PCM frames to path as
// a mono/stereo 16-bit WAV file, using the same go-audio encoding
// helper pattern the voice pipeline's exec recognizer uses to hand PCM
// to an external transcriber.
func WriteWav(path string, frames []AudioFrame, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	for _, f := range frames {
		buf, err := pcmToIntBuffer(f.PCM, sampleRate, channels)
		if err != nil {
			return err
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("write wav frame: %w", err)
		}
	}
	return enc.Close()
}

func pcmToIntBuffer(pcm []byte, sampleRate, channels int) (*audio.IntBuffer, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not 16-bit aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples
	return buffer, nil
}
