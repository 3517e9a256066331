package usecase

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"chatdesk/internal/ports"
)

// captionTap forwards PCM to a caption stream until the first send error.
// Captions are a preview; losing them never touches the recording.
type captionTap struct {
	stream  ports.CaptionStream
	onError func(error)

	mu     sync.Mutex
	failed bool
}

func (t *captionTap) forward(chunk []byte) {
	if t == nil || t.stream == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return
	}
	if err := t.stream.SendAudio(chunk); err != nil {
		t.failed = true
		if t.onError != nil {
			t.onError(err)
		}
	}
}

// pumpAudioChunks copies capture output into buffer and the optional caption
// tap until the device reports EOF or an error.
func pumpAudioChunks(
	audio ports.AudioSession,
	buffer *fragmentBuffer,
	tap *captionTap,
	chunkSize int,
	onReadError func(error),
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			buffer.Append(buf[:n])
			tap.forward(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && onReadError != nil {
				onReadError(fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

func waitForStream(session ports.CaptionStream, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
