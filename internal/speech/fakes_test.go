package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// liveAudioSession yields its chunks and then blocks like a microphone until stopped.
type liveAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopped   chan struct{}
	stopOnce  sync.Once
	stopCalls int
}

func newLiveAudioSession(chunks ...[]byte) *liveAudioSession {
	return &liveAudioSession{chunks: chunks, stopped: make(chan struct{})}
}

func (f *liveAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	<-f.stopped
	return 0, io.EOF
}

func (f *liveAudioSession) Close() error { return nil }

func (f *liveAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *liveAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	waitErr    error
	sent       int
	closeSend  int
	closeCalls int
	closed     bool
}

func newFakeStreamingSession(events ...domain.TranscriptEvent) *fakeStreamingSession {
	s := &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
	for _, event := range events {
		s.events <- event
	}
	return s
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	f.closeEvents()
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeEvents()
	return nil
}

func (f *fakeStreamingSession) closeEvents() {
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

func (f *fakeStreamingSession) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type recognitionCall struct {
	kind       string
	candidates []string
	code       domain.RecognitionErrorCode
}

type recordingListener struct {
	mu    sync.Mutex
	calls []recognitionCall
	ready chan struct{}
	ended chan struct{}
	once  sync.Once
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ready: make(chan struct{}, 1), ended: make(chan struct{})}
}

func (l *recordingListener) OnRecognitionReady() {
	l.record(recognitionCall{kind: "ready"})
	l.ready <- struct{}{}
}

func (l *recordingListener) OnRecognitionResult(candidates []string) {
	l.record(recognitionCall{kind: "result", candidates: candidates})
	l.once.Do(func() { close(l.ended) })
}

func (l *recordingListener) OnRecognitionError(code domain.RecognitionErrorCode) {
	l.record(recognitionCall{kind: "error", code: code})
	l.once.Do(func() { close(l.ended) })
}

func (l *recordingListener) record(call recognitionCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *recordingListener) snapshot() []recognitionCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]recognitionCall, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *recordingListener) waitReady(timeout time.Duration) bool {
	select {
	case <-l.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *recordingListener) waitEnded(timeout time.Duration) bool {
	select {
	case <-l.ended:
		return true
	case <-time.After(timeout):
		return false
	}
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(nil), f.audio...), nil
}

// fakePlayer plays until release is closed or ctx is cancelled.
type fakePlayer struct {
	mu      sync.Mutex
	played  [][]byte
	release chan struct{}
	started chan struct{}
	err     error
}

func newFakePlayer(blocking bool) *fakePlayer {
	p := &fakePlayer{release: make(chan struct{}), started: make(chan struct{}, 8)}
	if !blocking {
		close(p.release)
	}
	return p
}

func (f *fakePlayer) Play(ctx context.Context, audio []byte) error {
	f.mu.Lock()
	f.played = append(f.played, audio)
	f.mu.Unlock()
	f.started <- struct{}{}

	select {
	case <-f.release:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakePlayer) plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

type countingPlayback struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func newCountingPlayback() *countingPlayback {
	return &countingPlayback{done: make(chan struct{}, 8)}
}

func (c *countingPlayback) OnSpeechPlaybackDone() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *countingPlayback) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
