// Package nativemsg speaks the browser native messaging protocol: each
// message is UTF-8 JSON preceded by its length as a 32-bit little-endian
// integer.
package nativemsg

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/models"
)

const (
	// MaxInbound is the largest message the browser may send to a host.
	MaxInbound = 64 << 20
	// MaxOutbound is the largest message a host may send to the browser.
	MaxOutbound = 1 << 20
)

// ErrMessageTooLarge is returned for a frame above the size limit.
var ErrMessageTooLarge = errors.New("native message too large")

// Handler answers a raw JSON message.
type Handler interface {
	Handle(ctx context.Context, raw json.RawMessage) models.Response
}

// Server handles messages one at a time, in arrival order.
type Server struct {
	h      Handler
	logger zerolog.Logger
}

// New creates a Server.
func New(h Handler, logger zerolog.Logger) *Server {
	return &Server{h: h, logger: logger}
}

// Run reads framed messages from r and writes one framed response per
// message to w. It returns nil when r reaches EOF between messages.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := ReadMessage(r, MaxInbound)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		resp := s.h.Handle(ctx, msg)
		if err := WriteMessage(w, resp); err != nil {
			if !errors.Is(err, ErrMessageTooLarge) {
				return err
			}
			s.logger.Warn().Err(err).Msg("response dropped")
			if err := WriteMessage(w, models.Response{Error: err.Error()}); err != nil {
				return err
			}
		}
	}
}

// ReadMessage reads one frame. io.EOF is returned only when r ends before
// the length prefix; a frame cut short yields io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, limit uint32) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read native message: %w", err)
	}
	return buf, nil
}

// WriteMessage encodes v as JSON and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode native message: %w", err)
	}
	if len(data) > MaxOutbound {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write native message: %w", err)
	}
	return nil
}
