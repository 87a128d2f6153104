// Package transcription bridges per-session microphone audio to a streaming
// speech recognizer and reports final transcripts back to the session.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
)

// DefaultSampleRate is the PCM rate clients record at.
const DefaultSampleRate = 16000

// ErrBridgeClosed is returned by Start after Close.
var ErrBridgeClosed = errors.New("transcription bridge closed")

// StreamConfig describes one recognition stream.
type StreamConfig struct {
	LanguageCode   string
	SampleRate     int
	InterimResults bool
}

// Result is one recognition hypothesis.
type Result struct {
	Text    string
	IsFinal bool
}

// Stream is a live recognition session. Recv blocks until the next result and
// returns an error once the stream ends.
type Stream interface {
	Write(pcm []byte) error
	Recv() (Result, error)
	Close() error
}

// halfCloser is implemented by streams that can stop accepting audio while
// still returning the results for audio already sent.
type halfCloser interface {
	CloseSend() error
}

// Recognizer opens recognition streams.
type Recognizer interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Sink delivers transcription events to a session handle.
type Sink interface {
	Send(handle string, kind event.Kind, payload any) error
}

// Config tunes the bridge.
type Config struct {
	InactivityTimeout time.Duration
	SampleRate        int
	InterimResults    bool
	// DrainTimeout bounds how long a stopped stream may keep delivering the
	// results of audio sent before the stop.
	DrainTimeout time.Duration
	// NewBackOff builds the retry policy for reopening a stream.
	NewBackOff func() backoff.BackOff
}

// DefaultConfig mirrors the client defaults: 16 kHz audio and a 5 second
// silence window.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 5 * time.Second,
		SampleRate:        DefaultSampleRate,
		DrainTimeout:      2 * time.Second,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// recording is the recognition state of one session.
type recording struct {
	handle string

	mu       sync.Mutex
	language string
	stream   Stream
	gen      uint64
	timer    *time.Timer
	active   bool
	draining bool // stopped, waiting for the final results of the last stream
	ctx      context.Context
	cancel   context.CancelFunc
}

// Bridge owns one recording per session handle.
type Bridge struct {
	recognizer Recognizer
	sink       Sink
	cfg        Config

	mu       sync.Mutex
	sessions map[string]*recording
	closed   bool

	drains sync.WaitGroup
}

// NewBridge creates a bridge. Zero config fields take DefaultConfig values.
func NewBridge(recognizer Recognizer, sink Sink, cfg Config) *Bridge {
	defaults := DefaultConfig()
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaults.InactivityTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaults.NewBackOff
	}
	return &Bridge{
		recognizer: recognizer,
		sink:       sink,
		cfg:        cfg,
		sessions:   make(map[string]*recording),
	}
}

// Start opens a recognition stream for handle. Starting an already streaming
// session replaces its stream with one in the new language.
func (b *Bridge) Start(ctx context.Context, handle, languageHint string) error {
	language := ResolveLanguage(languageHint)
	rec, err := b.lockOwned(handle)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()

	b.teardownLocked(rec)
	rec.gen++
	gen := rec.gen
	rec.language = language
	rec.ctx, rec.cancel = context.WithCancel(context.WithoutCancel(ctx))

	stream, err := b.recognizer.Open(rec.ctx, b.streamConfig(language))
	if err != nil {
		rec.cancel()
		rec.active = false
		return fmt.Errorf("open recognition stream (%s): %w", language, err)
	}

	rec.stream = stream
	rec.active = true
	b.armLocked(rec, gen)
	go b.receive(rec, gen, stream)

	log.Printf("[transcription] session=%s started language=%s", handle, language)
	return nil
}

// FeedAudio converts samples to PCM and forwards them. It is a no-op while the
// session has no open stream.
func (b *Bridge) FeedAudio(handle string, samples []float32) error {
	rec := b.lookup(handle)
	if rec == nil || len(samples) == 0 {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.active || rec.stream == nil {
		return nil
	}

	if err := rec.stream.Write(Float32ToPCM16(samples)); err != nil {
		log.Printf("[transcription] session=%s write failed: %v", handle, err)
		b.restartLocked(rec, rec.gen, "write error")
		return err
	}
	return nil
}

// Stop ends recognition for handle. Stopping an idle session does nothing.
func (b *Bridge) Stop(handle string) {
	b.mu.Lock()
	rec := b.sessions[handle]
	delete(b.sessions, handle)
	b.mu.Unlock()

	if rec == nil {
		return
	}

	rec.mu.Lock()
	wasActive := rec.active
	rec.active = false
	if !wasActive || !b.drainLocked(rec) {
		rec.gen++
		b.teardownLocked(rec)
	}
	rec.mu.Unlock()

	if wasActive {
		log.Printf("[transcription] session=%s stopped", handle)
	}
}

// Streaming reports whether handle currently has an open stream.
func (b *Bridge) Streaming(handle string) bool {
	rec := b.lookup(handle)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.active && rec.stream != nil
}

// drainLocked half-closes the current stream so results for audio already
// sent still reach the session. The receive loop or DrainTimeout closes it.
func (b *Bridge) drainLocked(rec *recording) bool {
	hc, ok := rec.stream.(halfCloser)
	if !ok {
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if err := hc.CloseSend(); err != nil {
		log.Printf("[transcription] session=%s close send: %v", rec.handle, err)
		return false
	}

	rec.draining = true
	b.drains.Add(1)
	gen := rec.gen
	rec.timer = time.AfterFunc(b.cfg.DrainTimeout, func() {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.gen == gen && rec.draining {
			log.Printf("[transcription] session=%s drain timed out", rec.handle)
			rec.gen++
			b.teardownLocked(rec)
		}
	})
	return true
}

// Close stops every session, rejects further starts and waits for stopped
// streams to drain.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	handles := make([]string, 0, len(b.sessions))
	for handle := range b.sessions {
		handles = append(handles, handle)
	}
	b.mu.Unlock()

	for _, handle := range handles {
		b.Stop(handle)
	}
	b.drains.Wait()
}

func (b *Bridge) acquire(handle string) (*recording, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBridgeClosed
	}
	rec, ok := b.sessions[handle]
	if !ok {
		rec = &recording{handle: handle}
		b.sessions[handle] = rec
	}
	return rec, nil
}

// lockOwned returns the session's recording locked. Stop may remove the
// recording between acquire and rec.mu.Lock; a stream opened on a detached
// recording could never be stopped, so ownership is checked again under the lock.
func (b *Bridge) lockOwned(handle string) (*recording, error) {
	for {
		rec, err := b.acquire(handle)
		if err != nil {
			return nil, err
		}
		rec.mu.Lock()
		if b.owns(handle, rec) {
			return rec, nil
		}
		rec.mu.Unlock()
	}
}

// owns is called with rec.mu held; lock order is rec.mu before b.mu.
func (b *Bridge) owns(handle string, rec *recording) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.sessions[handle] == rec
}

func (b *Bridge) lookup(handle string) *recording {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[handle]
}

func (b *Bridge) streamConfig(language string) StreamConfig {
	return StreamConfig{
		LanguageCode:   language,
		SampleRate:     b.cfg.SampleRate,
		InterimResults: b.cfg.InterimResults,
	}
}

// receive pumps results of one stream generation until it ends.
func (b *Bridge) receive(rec *recording, gen uint64, stream Stream) {
	for {
		res, err := stream.Recv()
		if err != nil {
			rec.mu.Lock()
			switch {
			case rec.gen != gen:
			case rec.draining:
				rec.gen++
				b.teardownLocked(rec)
			case rec.active:
				log.Printf("[transcription] session=%s stream ended: %v", rec.handle, err)
				b.restartLocked(rec, gen, "stream error")
			}
			rec.mu.Unlock()
			return
		}

		rec.mu.Lock()
		live := rec.gen == gen && rec.active
		draining := rec.gen == gen && rec.draining
		if live {
			b.armLocked(rec, gen)
		}
		rec.mu.Unlock()
		if !live && !draining {
			return
		}

		text := strings.TrimSpace(res.Text)
		if !res.IsFinal || text == "" {
			continue
		}
		if err := b.sink.Send(rec.handle, event.TranscriptionResult, event.TranscriptPayload{Text: text, IsFinal: true}); err != nil {
			log.Printf("[transcription] session=%s deliver result failed: %v", rec.handle, err)
		}
	}
}

// armLocked (re)starts the inactivity deadline for gen.
func (b *Bridge) armLocked(rec *recording, gen uint64) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.timer = time.AfterFunc(b.cfg.InactivityTimeout, func() {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.gen != gen || !rec.active {
			return
		}
		log.Printf("[transcription] session=%s inactive for %s, restarting", rec.handle, b.cfg.InactivityTimeout)
		b.restartLocked(rec, gen, "inactivity")
	})
}

// teardownLocked closes the current stream and timer without touching gen.
func (b *Bridge) teardownLocked(rec *recording) {
	if rec.draining {
		rec.draining = false
		b.drains.Done()
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if rec.stream != nil {
		if err := rec.stream.Close(); err != nil {
			log.Printf("[transcription] session=%s close stream: %v", rec.handle, err)
		}
		rec.stream = nil
	}
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
}

// restartLocked replaces stream generation gen with a fresh one in the same
// language. The reopen does not arm the inactivity deadline; only a result
// does, so a silent session restarts exactly once.
func (b *Bridge) restartLocked(rec *recording, gen uint64, reason string) {
	if rec.gen != gen {
		return
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if rec.stream != nil {
		_ = rec.stream.Close()
		rec.stream = nil
	}
	rec.gen++
	next := rec.gen
	ctx := rec.ctx
	language := rec.language

	log.Printf("[transcription] session=%s reopening after %s", rec.handle, reason)
	go b.reopen(rec, ctx, next, language)
}

func (b *Bridge) reopen(rec *recording, ctx context.Context, gen uint64, language string) {
	policy := b.cfg.NewBackOff()
	policy.Reset()

	for {
		stream, err := b.recognizer.Open(ctx, b.streamConfig(language))
		if err == nil {
			rec.mu.Lock()
			if rec.gen != gen || !rec.active {
				rec.mu.Unlock()
				_ = stream.Close()
				return
			}
			rec.stream = stream
			rec.mu.Unlock()
			go b.receive(rec, gen, stream)
			return
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			b.giveUp(rec, gen, err)
			return
		}
		log.Printf("[transcription] session=%s reopen failed, retrying in %s: %v", rec.handle, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		rec.mu.Lock()
		stale := rec.gen != gen || !rec.active
		rec.mu.Unlock()
		if stale {
			return
		}
	}
}

func (b *Bridge) giveUp(rec *recording, gen uint64, cause error) {
	rec.mu.Lock()
	if rec.gen != gen || !rec.active {
		rec.mu.Unlock()
		return
	}
	rec.active = false
	b.teardownLocked(rec)
	rec.mu.Unlock()

	log.Printf("[transcription] session=%s giving up on recognizer: %v", rec.handle, cause)
	payload := event.ErrorPayload{Error: fmt.Sprintf("speech recognition unavailable: %v", cause)}
	if err := b.sink.Send(rec.handle, event.TranscriptionError, payload); err != nil {
		log.Printf("[transcription] session=%s deliver error failed: %v", rec.handle, err)
	}
}
