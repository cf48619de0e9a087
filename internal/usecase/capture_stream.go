package usecase

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"voxdeck/internal/domain"
	"voxdeck/internal/ports"
)

// captureStream couples one microphone session to one transcription stream
// and assembles the transcript of a single utterance.
type captureStream struct {
	audio  ports.AudioSession
	stream ports.StreamingSession
	events ports.EventSink

	mu      sync.Mutex
	finals  []string
	pending string
	sent    int

	speechFinal chan struct{}
	pumpDone    chan struct{}
	eventsDone  chan struct{}
}

// startCaptureStream starts pumping audio and consuming transcript events.
func startCaptureStream(audio ports.AudioSession, stream ports.StreamingSession, events ports.EventSink, chunkSize int) *captureStream {
	if chunkSize < 256 {
		chunkSize = 4096
	}
	c := &captureStream{
		audio:       audio,
		stream:      stream,
		events:      events,
		speechFinal: make(chan struct{}, 1),
		pumpDone:    make(chan struct{}),
		eventsDone:  make(chan struct{}),
	}
	go c.pump(chunkSize)
	go c.consume()
	return c
}

// SpeechFinal fires once the provider marks the end of speech.
func (c *captureStream) SpeechFinal() <-chan struct{} { return c.speechFinal }

// Finish flushes the stream and waits up to timeout for the provider to
// deliver the remaining events. The microphone must already be stopped.
func (c *captureStream) Finish(timeout time.Duration) error {
	<-c.pumpDone
	_ = c.stream.CloseSend()
	err := waitForStream(c.stream, timeout)
	<-c.eventsDone
	return err
}

// Abort drops the stream without waiting for pending transcripts.
func (c *captureStream) Abort() {
	_ = c.stream.Close()
	<-c.eventsDone
	<-c.pumpDone
}

// Transcript joins the final segments and any partial heard after the last
// final.
func (c *captureStream) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := append([]string(nil), c.finals...)
	if c.pending != "" {
		parts = append(parts, c.pending)
	}
	return strings.Join(parts, " ")
}

// BytesSent reports how much audio reached the provider.
func (c *captureStream) BytesSent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *captureStream) pump(chunkSize int) {
	defer close(c.pumpDone)

	buf := make([]byte, chunkSize)
	for {
		n, err := c.audio.Read(buf)
		if n > 0 {
			if sendErr := c.stream.SendAudio(buf[:n]); sendErr != nil {
				c.events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("failed to stream audio: %v", sendErr))
				return
			}
			c.mu.Lock()
			c.sent += n
			c.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

func (c *captureStream) consume() {
	defer close(c.eventsDone)

	for event := range c.stream.Events() {
		if text := strings.TrimSpace(event.Text); text != "" {
			c.add(event.Kind, text)
			if event.Kind == domain.TranscriptKindPartial {
				c.events.PartialTranscript(text)
			}
		}
		if event.IsSpeechFinal {
			select {
			case c.speechFinal <- struct{}{}:
			default:
			}
		}
	}
}

func (c *captureStream) add(kind domain.TranscriptKind, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == domain.TranscriptKindFinal {
		c.finals = append(c.finals, text)
		c.pending = ""
		return
	}
	c.pending = text
}

// waitForStream closes the session if the provider has not finished within
// timeout, then returns the session's terminal error.
func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = session.Close()
		return <-done
	}
}
