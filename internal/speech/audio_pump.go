package speech

import (
	"errors"
	"fmt"
	"io"
	"time"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

// pumpAudioChunks forwards captured audio to the stream until capture ends.
// A clean EOF returns nil.
func pumpAudioChunks(audio ports.AudioSession, stream ports.StreamingSession, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return &domain.RecognitionError{
					Code: domain.RecognitionErrorCodeOf(sendErr, domain.RecognitionErrorNetwork),
					Err:  fmt.Errorf("failed to stream audio: %w", sendErr),
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &domain.RecognitionError{
				Code: domain.RecognitionErrorAudio,
				Err:  fmt.Errorf("audio capture error: %w", err),
			}
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
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
