package transcription

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
)

type fakeStream struct {
	cfg     StreamConfig
	results chan Result
	errs    chan error
	done    chan struct{}

	mu         sync.Mutex
	written    [][]byte
	closed     bool
	sendClosed bool
}

func newFakeStream(cfg StreamConfig) *fakeStream {
	return &fakeStream{
		cfg:     cfg,
		results: make(chan Result, 16),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *fakeStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.written = append(s.written, append([]byte(nil), pcm...))
	return nil
}

func (s *fakeStream) Recv() (Result, error) {
	select {
	case r := <-s.results:
		return r, nil
	case err := <-s.errs:
		return Result{}, err
	case <-s.done:
		return Result{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *fakeStream) isSendClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendClosed
}

// halfClosingStream also supports CloseSend, like the Volcengine stream.
type halfClosingStream struct {
	*fakeStream
}

func (s halfClosingStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendClosed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

type fakeRecognizer struct {
	mu        sync.Mutex
	streams   []*fakeStream
	failAll   bool
	halfClose bool
}

func (r *fakeRecognizer) Open(_ context.Context, cfg StreamConfig) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errors.New("recognizer down")
	}
	s := newFakeStream(cfg)
	r.streams = append(r.streams, s)
	if r.halfClose {
		return halfClosingStream{s}, nil
	}
	return s, nil
}

func (r *fakeRecognizer) opened() []*fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeStream(nil), r.streams...)
}

func (r *fakeRecognizer) setFailing(v bool) {
	r.mu.Lock()
	r.failAll = v
	r.mu.Unlock()
}

type sinkEvent struct {
	Handle  string
	Kind    event.Kind
	Payload any
}

type fakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *fakeSink) Send(handle string, kind event.Kind, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{Handle: handle, Kind: kind, Payload: payload})
	return nil
}

func (s *fakeSink) all() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}
