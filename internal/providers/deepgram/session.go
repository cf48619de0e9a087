package deepgram

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"voxdeck/internal/domain"
)

const keepAliveInterval = 5 * time.Second

var (
	errSendClosed    = errors.New("audio stream is already closed")
	errSessionClosed = errors.New("transcription session closed")
)

var (
	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
)

// streamingSession runs one websocket with a reader and a writer goroutine.
// Only the writer writes to the connection.
type streamingSession struct {
	conn      *websocket.Conn
	logger    zerolog.Logger
	keepAlive time.Duration

	events   chan domain.TranscriptEvent
	audio    chan []byte
	sendDone chan struct{}
	readDone chan struct{}
	done     chan struct{}

	// err is written once before done is closed.
	err error

	closing   atomic.Bool
	sendOnce  sync.Once
	closeOnce sync.Once
}

func newStreamingSession(conn *websocket.Conn, keepAlive time.Duration, logger zerolog.Logger) *streamingSession {
	if keepAlive <= 0 {
		keepAlive = keepAliveInterval
	}
	s := &streamingSession{
		conn:      conn,
		logger:    logger,
		keepAlive: keepAlive,
		events:    make(chan domain.TranscriptEvent, 64),
		audio:     make(chan []byte, 32),
		sendDone:  make(chan struct{}),
		readDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	var g errgroup.Group
	g.Go(s.readLoop)
	g.Go(s.writeLoop)
	go func() {
		s.err = g.Wait()
		close(s.events)
		_ = conn.Close()
		close(s.done)
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return s.endedErr()
	case <-s.sendDone:
		return errSendClosed
	default:
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.sendDone:
		return errSendClosed
	case <-s.done:
		return s.endedErr()
	}
}

func (s *streamingSession) endedErr() error {
	if s.err != nil {
		return s.err
	}
	return errSessionClosed
}

// CloseSend flushes queued audio and asks Deepgram to finalize.
func (s *streamingSession) CloseSend() error {
	s.sendOnce.Do(func() { close(s.sendDone) })
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.err
}

// Close drops the connection without waiting for final results.
func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.err
}

func (s *streamingSession) readLoop() error {
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return s.fail(fmt.Errorf("read transcription event: %w", err))
		}

		event, ok, msgErr := decodeMessage(payload)
		if ok {
			s.emit(event)
		}
		if msgErr != nil {
			return msgErr
		}
	}
}

func (s *streamingSession) writeLoop() error {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return s.fail(fmt.Errorf("send audio: %w", err))
			}
			ticker.Reset(s.keepAlive)
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, keepAliveMessage); err != nil {
				return s.fail(fmt.Errorf("send keepalive: %w", err))
			}
		case <-s.sendDone:
			return s.finishSend()
		case <-s.readDone:
			return nil
		}
	}
}

// finishSend writes any audio still queued, then CloseStream.
func (s *streamingSession) finishSend() error {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return s.fail(fmt.Errorf("send audio: %w", err))
			}
		default:
			if err := s.conn.WriteMessage(websocket.TextMessage, closeStreamMessage); err != nil {
				return s.fail(fmt.Errorf("close stream: %w", err))
			}
			return nil
		}
	}
}

// fail drops errors caused by our own Close or a normal remote close.
func (s *streamingSession) fail(err error) error {
	if s.closing.Load() {
		return nil
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return nil
	}
	return err
}

func (s *streamingSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn().Str("kind", string(event.Kind)).Msg("transcript event dropped; consumer is behind")
	}
}
