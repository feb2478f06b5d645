package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// decodeFunc turns one non-blank line into a text delta. done reports the
// protocol's end marker; a line may carry both a delta and done.
type decodeFunc func(line string) (delta string, done bool, err error)

// Stream is a lazy, finite sequence of text fragments from one call. It is
// consumed once: after the end marker Recv keeps returning io.EOF.
type Stream struct {
	backend string
	body    io.ReadCloser
	scanner *bufio.Scanner
	decode  decodeFunc
	cancel  context.CancelFunc

	sawEnd bool
	err    error
}

func newStream(backend string, body io.ReadCloser, decode decodeFunc, cancel context.CancelFunc) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	return &Stream{backend: backend, body: body, scanner: sc, decode: decode, cancel: cancel}
}

// Recv returns the next non-empty fragment, io.EOF after the end marker, or
// an *Error. A body that ends before the end marker is UnexpectedShape.
func (s *Stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.sawEnd {
		return "", s.fail(io.EOF)
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		delta, done, err := s.decode(line)
		if err != nil {
			return "", s.fail(err)
		}
		if done {
			s.sawEnd = true
		}
		if delta != "" {
			return delta, nil
		}
		if done {
			return "", s.fail(io.EOF)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", s.fail(transportErr(s.backend, 0, fmt.Errorf("read stream: %w", err)))
	}
	return "", s.fail(shapeErr(s.backend, errors.New("stream ended without end marker")))
}

func (s *Stream) fail(err error) error {
	s.err = err
	_ = s.Close()
	return err
}

// Close releases the connection and the call's deadline. Safe to call twice.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

// Collect folds a stream into its full text and closes it.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(delta)
	}
}

// streaming adapts a Streamer to the Dispatcher contract.
type streaming struct {
	inner interface {
		Dispatcher
		Streamer
	}
}

// Streaming returns a Dispatcher whose Send consumes d's stream and folds it
// with Collect.
func Streaming(d interface {
	Dispatcher
	Streamer
}) Dispatcher {
	return &streaming{inner: d}
}

func (s *streaming) Name() string { return s.inner.Name() }

func (s *streaming) Send(ctx context.Context, req Request) (Result, error) {
	st, err := s.inner.Stream(ctx, req)
	if err != nil {
		return Result{}, err
	}
	text, err := Collect(st)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

func (s *streaming) Stream(ctx context.Context, req Request) (*Stream, error) {
	return s.inner.Stream(ctx, req)
}
