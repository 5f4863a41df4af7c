package runtime

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
)

// recordingManager tracks in-flight port captures started by the
// record_start tool so record_stop can find the matching stop function
// and accumulated frames by id.
type recordingManager struct {
	dir string

	mu     sync.Mutex
	active map[string]*activeRecording
}

type activeRecording struct {
	port       string
	sampleRate int
	channels   int
	stop       func()

	mu     sync.Mutex
	frames []jackadapter.AudioFrame
}

func newRecordingManager(dir string) *recordingManager {
	return &recordingManager{dir: dir, active: make(map[string]*activeRecording)}
}

func (m *recordingManager) start(jack *jackadapter.Adapter, id, port string, sampleRate, channels int) error {
	frames, stopFn, err := jack.CaptureStream(port)
	if err != nil {
		return err
	}

	rec := &activeRecording{port: port, sampleRate: sampleRate, channels: channels, stop: stopFn}

	m.mu.Lock()
	if _, exists := m.active[id]; exists {
		m.mu.Unlock()
		stopFn()
		return fmt.Errorf("a recording named %q is already in progress", id)
	}
	m.active[id] = rec
	m.mu.Unlock()

	go func() {
		for f := range frames {
			rec.mu.Lock()
			rec.frames = append(rec.frames, f)
			rec.mu.Unlock()
		}
	}()

	return nil
}

// stop ends the named recording and writes its captured frames to a WAV
// file under the configured recordings directory, returning the file
// path written.
func (m *recordingManager) stop(id string) (string, error) {
	m.mu.Lock()
	rec, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no recording named %q is in progress", id)
	}

	rec.stop()

	rec.mu.Lock()
	frames := rec.frames
	rec.mu.Unlock()

	path := filepath.Join(m.dir, id+".wav")
	if err := jackadapter.WriteWav(path, frames, rec.sampleRate, rec.channels); err != nil {
		return "", fmt.Errorf("write recording %q: %w", id, err)
	}
	return path, nil
}
