package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

const (
	testChannel = "sendbird_group_channel_1"
	localUser   = "me"
	botUser     = "bot"
)

func TestNewControllerRequiresChannel(t *testing.T) {
	t.Parallel()

	_, err := NewVoiceConversationController("  ", newHarnessDeps(t).deps, Config{})
	require.ErrorIs(t, err, domain.ErrMissingChannel)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "channelUrl", cfgErr.Field)
}

func TestNewControllerSurfacesSubscribeFailure(t *testing.T) {
	t.Parallel()

	h := newHarnessDeps(t)
	h.chat.subscribeErr = errors.New("not connected")

	_, err := NewVoiceConversationController(testChannel, h.deps, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestControllerStartsWithoutPermission(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	assert.Equal(t, domain.NoPermission(), h.controller.State())
	assert.Equal(t, []domain.ConversationState{domain.NoPermission()}, h.sink.snapshot())
	assert.Equal(t, 1, h.chat.subscriptions())
}

func TestPermissionTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	h.controller.RequestMicrophonePermission(false)
	assert.Equal(t, domain.NoPermission(), h.controller.State())

	h.controller.RequestMicrophonePermission(true)
	assert.Equal(t, domain.Idle(), h.controller.State())

	h.controller.OnRecognitionReady()
	h.controller.RequestMicrophonePermission(false)
	assert.Equal(t, domain.NoPermission(), h.controller.State())
}

func TestRecognizedUtteranceIsSent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.controller.RequestMicrophonePermission(true)

	h.controller.OnRecognitionReady()
	assert.Equal(t, domain.Listening(), h.controller.State())

	h.controller.OnRecognitionResult([]string{"hello", "hollow"})
	require.Eventually(t, func() bool {
		return h.sink.last() == domain.Sending("hello")
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []domain.ConversationState{
		domain.NoPermission(),
		domain.Idle(),
		domain.Listening(),
		domain.Processing("hello"),
		domain.Sending("hello"),
	}, h.sink.snapshot())
	assert.Equal(t, []string{"hello"}, h.chat.sentTexts())
}

func TestSendConfirmationCarriesTransportText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.chat.confirm = "hello (edited)"

	h.controller.OnRecognitionResult([]string{"hello"})
	require.Eventually(t, func() bool {
		return h.sink.last() == domain.Sending("hello (edited)")
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyRecognitionResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	h.controller.OnRecognitionResult(nil)
	assert.Equal(t, domain.ErrorState("No text found"), h.controller.State())

	h.controller.OnRecognitionResult([]string{"   "})
	assert.Equal(t, domain.ErrorState("No text found"), h.controller.State())
	assert.Empty(t, h.chat.sentTexts())
}

func TestRecognitionErrorMapping(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	h.controller.OnRecognitionError(domain.RecognitionErrorNetworkTimeout)
	assert.Equal(t, domain.ErrorState("Error: Network timeout"), h.controller.State())

	h.controller.OnRecognitionError(domain.RecognitionErrorCode(99))
	assert.Equal(t, domain.ErrorState("Error: Unknown error"), h.controller.State())

	h.controller.StartListening()
	h.controller.OnRecognitionReady()
	assert.Equal(t, domain.Listening(), h.controller.State())
	assert.Equal(t, 1, h.input.begins())
}

func TestSendFailureBecomesErrorState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "transport reason", err: &domain.TransportError{Code: 400108, Reason: "Not accessible"}, want: "Not accessible"},
		{name: "plain error", err: errors.New("connection reset"), want: "connection reset"},
		{name: "no message", err: &domain.TransportError{}, want: "Error"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Config{})
			h.chat.sendErr = tc.err

			h.controller.OnRecognitionResult([]string{"hello"})
			require.Eventually(t, func() bool {
				return h.sink.last() == domain.ErrorState(tc.want)
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestSendResultOutsideProcessingIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.controller.RequestMicrophonePermission(true)

	h.controller.OnSendResult("late", nil)
	assert.Equal(t, domain.Idle(), h.controller.State())
}

func TestIncomingReplyStartsSpeaking(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.chat.deliver(domain.ChatMessage{ChannelURL: testChannel, SenderID: botUser, Text: "hi there"})

	assert.Equal(t, domain.Speaking("hi there", true, 0), h.controller.State())
	assert.Equal(t, []string{"hi there"}, h.output.spokenTexts())
}

func TestIgnoredMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.controller.RequestMicrophonePermission(true)
	before := len(h.sink.snapshot())

	h.controller.OnMessageReceived("other_channel", botUser, "not for us")
	h.controller.OnMessageReceived(testChannel, localUser, "my own echo")

	assert.Equal(t, domain.Idle(), h.controller.State())
	assert.Len(t, h.sink.snapshot(), before)
	assert.Empty(t, h.output.spokenTexts())
}

func TestPlaybackDoneRampsBackToListening(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RampStep: time.Millisecond})
	h.input.readyOnBegin = true

	h.controller.OnMessageReceived(testChannel, botUser, "hi there")
	h.controller.OnSpeechPlaybackDone()

	require.Eventually(t, func() bool {
		return h.input.begins() == 1 && h.sink.last() == domain.Listening()
	}, 3*time.Second, 5*time.Millisecond)

	ramp := rampStates(h.sink.snapshot())
	require.Len(t, ramp, domain.MaxProgress+1)
	for i, state := range ramp {
		assert.Equal(t, domain.Speaking("hi there", false, i), state)
	}
	assert.Equal(t, 1, h.output.stops())
}

func TestStopSpeakingRampIsMonotonic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RampStep: time.Millisecond})
	h.controller.OnMessageReceived(testChannel, botUser, "long answer")
	h.controller.StopSpeaking()
	h.controller.StopSpeaking()

	require.Eventually(t, func() bool {
		return h.input.begins() == 1
	}, 3*time.Second, 5*time.Millisecond)

	ramp := rampStates(h.sink.snapshot())
	require.NotEmpty(t, ramp)
	for i := 1; i < len(ramp); i++ {
		assert.False(t, ramp[i].IsSpeaking)
		assert.Greater(t, ramp[i].Progress, ramp[i-1].Progress)
	}
	assert.Equal(t, domain.MaxProgress, ramp[len(ramp)-1].Progress)
}

func TestStopSpeakingOutsideSpeakingIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RampStep: time.Millisecond})
	h.controller.RequestMicrophonePermission(true)
	before := len(h.sink.snapshot())

	h.controller.StopSpeaking()
	h.controller.OnSpeechPlaybackDone()

	assert.Equal(t, domain.Idle(), h.controller.State())
	assert.Len(t, h.sink.snapshot(), before)
	assert.Zero(t, h.output.stops())
}

func TestStartListeningCancelsRamp(t *testing.T) {
	t.Parallel()

	step := 20 * time.Millisecond
	h := newHarness(t, Config{RampStep: step})
	h.controller.OnMessageReceived(testChannel, botUser, "hi there")
	h.controller.StopSpeaking()

	require.Eventually(t, func() bool {
		return len(rampStates(h.sink.snapshot())) >= 2
	}, time.Second, time.Millisecond)

	h.controller.StartListening()
	_ = h.controller.State()
	emitted := len(h.sink.snapshot())

	time.Sleep(5 * step)
	assert.Len(t, h.sink.snapshot(), emitted)
	assert.Equal(t, 1, h.input.begins())
	assert.Less(t, h.sink.last().Progress, domain.MaxProgress)
}

func TestNewReplyCancelsRamp(t *testing.T) {
	t.Parallel()

	step := 10 * time.Millisecond
	h := newHarness(t, Config{RampStep: step})
	h.controller.OnMessageReceived(testChannel, botUser, "first")
	h.controller.StopSpeaking()
	require.Eventually(t, func() bool {
		return len(rampStates(h.sink.snapshot())) >= 1
	}, time.Second, time.Millisecond)

	h.controller.OnMessageReceived(testChannel, botUser, "second")
	time.Sleep(5 * step)

	assert.Equal(t, domain.Speaking("second", true, 0), h.controller.State())
	assert.Zero(t, h.input.begins())
}

func TestPermissionResetCancelsRamp(t *testing.T) {
	t.Parallel()

	step := 10 * time.Millisecond
	h := newHarness(t, Config{RampStep: step})
	h.controller.OnMessageReceived(testChannel, botUser, "hi")
	h.controller.StopSpeaking()
	h.controller.RequestMicrophonePermission(false)

	time.Sleep(5 * step)
	assert.Equal(t, domain.NoPermission(), h.controller.State())
	assert.Zero(t, h.input.begins())
}

func TestHandleBackNavigation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RampStep: 50 * time.Millisecond})

	h.controller.RequestMicrophonePermission(true)
	assert.False(t, h.controller.HandleBackNavigation())

	h.controller.OnRecognitionReady()
	assert.True(t, h.controller.HandleBackNavigation())
	assert.Equal(t, 1, h.input.stops())
	assert.Equal(t, domain.Listening(), h.controller.State())

	h.controller.OnMessageReceived(testChannel, botUser, "reply")
	assert.True(t, h.controller.HandleBackNavigation())
	require.Eventually(t, func() bool {
		state := h.controller.State()
		return state.Kind == domain.StateSpeaking && !state.IsSpeaking
	}, time.Second, time.Millisecond)

	assert.False(t, h.controller.HandleBackNavigation())
}

func TestBackNavigationDuringSendingIsNotConsumed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.controller.OnRecognitionResult([]string{"hello"})
	require.Eventually(t, func() bool {
		return h.sink.last() == domain.Sending("hello")
	}, time.Second, 5*time.Millisecond)

	assert.False(t, h.controller.HandleBackNavigation())
}

func TestStopListeningDoesNotChangeState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.controller.OnRecognitionReady()
	h.controller.StopListening()

	assert.Equal(t, domain.Listening(), h.controller.State())
	assert.Equal(t, 1, h.input.stops())
}

func TestDisposeIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.controller.RequestMicrophonePermission(true)

	h.controller.Dispose()
	h.controller.Dispose()

	assert.Equal(t, 1, h.chat.unsubscribes())
	assert.Equal(t, 1, h.input.closes())
	assert.Equal(t, 1, h.output.closes())

	emitted := len(h.sink.snapshot())
	h.controller.OnRecognitionReady()
	h.controller.OnMessageReceived(testChannel, botUser, "late reply")
	h.chat.deliver(domain.ChatMessage{ChannelURL: testChannel, SenderID: botUser, Text: "later"})

	assert.Len(t, h.sink.snapshot(), emitted)
	assert.Equal(t, domain.Idle(), h.controller.State())
	assert.False(t, h.controller.HandleBackNavigation())
	assert.Empty(t, h.output.spokenTexts())
}

func TestDisposeCancelsRamp(t *testing.T) {
	t.Parallel()

	step := 10 * time.Millisecond
	h := newHarness(t, Config{RampStep: step})
	h.controller.OnMessageReceived(testChannel, botUser, "hi")
	h.controller.StopSpeaking()
	_ = h.controller.State()

	h.controller.Dispose()
	emitted := len(h.sink.snapshot())
	time.Sleep(5 * step)

	assert.Len(t, h.sink.snapshot(), emitted)
	assert.Zero(t, h.input.begins())
}

func TestDisposeCancelsInFlightSend(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.chat.block = true

	h.controller.OnRecognitionResult([]string{"hello"})
	require.Eventually(t, func() bool {
		return h.chat.inFlight() == 1
	}, time.Second, time.Millisecond)

	h.controller.Dispose()
	require.Eventually(t, func() bool {
		return h.chat.inFlight() == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.Processing("hello"), h.sink.last())
}

func TestMetricsObserveTransitions(t *testing.T) {
	t.Parallel()

	h := newHarnessDeps(t)
	metrics := &fakeMetrics{}
	h.deps.Metrics = metrics
	controller, err := NewVoiceConversationController(testChannel, h.deps, Config{})
	require.NoError(t, err)
	t.Cleanup(controller.Dispose)

	controller.RequestMicrophonePermission(true)
	controller.OnRecognitionError(domain.RecognitionErrorNoMatch)
	controller.OnRecognitionResult([]string{"hi"})
	require.Eventually(t, func() bool {
		return h.sink.last() == domain.Sending("hi")
	}, time.Second, 5*time.Millisecond)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []domain.StateKind{domain.StateIdle, domain.StateError, domain.StateProcessing, domain.StateSending}, metrics.states)
	assert.Equal(t, []domain.RecognitionErrorCode{domain.RecognitionErrorNoMatch}, metrics.failures)
	assert.Equal(t, 1, metrics.sends)
}

func rampStates(states []domain.ConversationState) []domain.ConversationState {
	var ramp []domain.ConversationState
	for _, state := range states {
		if state.Kind == domain.StateSpeaking && !state.IsSpeaking {
			ramp = append(ramp, state)
		}
	}
	return ramp
}

type harness struct {
	controller *VoiceConversationController
	input      *fakeSpeechInput
	output     *fakeSpeechOutput
	chat       *fakeChat
	sink       *recordingSink
	deps       Dependencies
}

func newHarnessDeps(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		input:  &fakeSpeechInput{},
		output: &fakeSpeechOutput{},
		chat:   &fakeChat{userID: localUser},
		sink:   &recordingSink{},
	}
	h.deps = Dependencies{
		Input:  h.input,
		Output: h.output,
		Chat:   h.chat,
		Sink:   h.sink,
		Logger: zerolog.Nop(),
	}
	return h
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := newHarnessDeps(t)
	controller, err := NewVoiceConversationController(testChannel, h.deps, cfg)
	require.NoError(t, err)
	t.Cleanup(controller.Dispose)
	h.controller = controller
	return h
}

type fakeSpeechInput struct {
	mu           sync.Mutex
	beginCalls   int
	stopCalls    int
	closeCalls   int
	readyOnBegin bool
}

func (f *fakeSpeechInput) Begin(listener ports.RecognitionListener) {
	f.mu.Lock()
	f.beginCalls++
	ready := f.readyOnBegin
	f.mu.Unlock()

	if ready {
		listener.OnRecognitionReady()
	}
}

func (f *fakeSpeechInput) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeSpeechInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeSpeechInput) begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginCalls
}

func (f *fakeSpeechInput) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeSpeechInput) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeSpeechOutput struct {
	mu         sync.Mutex
	spoken     []string
	stopCalls  int
	closeCalls int
}

func (f *fakeSpeechOutput) Speak(text string, _ ports.PlaybackListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
}

func (f *fakeSpeechOutput) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeSpeechOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeSpeechOutput) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func (f *fakeSpeechOutput) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeSpeechOutput) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeChat struct {
	mu           sync.Mutex
	userID       string
	confirm      string
	sendErr      error
	subscribeErr error
	block        bool
	sent         []string
	pending      int
	handlers     []ports.MessageHandler
	unsubscribed int
}

func (f *fakeChat) Send(ctx context.Context, _ string, text string) (domain.ChatMessage, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	block := f.block
	f.pending++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.pending--
		f.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return domain.ChatMessage{}, ctx.Err()
	}
	if f.sendErr != nil {
		return domain.ChatMessage{}, f.sendErr
	}
	confirmed := text
	if f.confirm != "" {
		confirmed = f.confirm
	}
	return domain.ChatMessage{ChannelURL: testChannel, SenderID: f.userID, Text: confirmed}, nil
}

func (f *fakeChat) Subscribe(_ string, handler ports.MessageHandler) (ports.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handlers = append(f.handlers, handler)
	return fakeSubscription{chat: f}, nil
}

func (f *fakeChat) CurrentUserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *fakeChat) deliver(message domain.ChatMessage) {
	f.mu.Lock()
	handlers := append([]ports.MessageHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(message)
	}
}

func (f *fakeChat) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeChat) inFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeChat) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeChat) unsubscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

type fakeSubscription struct {
	chat *fakeChat
}

func (s fakeSubscription) Unsubscribe() {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	s.chat.unsubscribed++
}

type recordingSink struct {
	mu     sync.Mutex
	states []domain.ConversationState
}

func (r *recordingSink) StateChanged(state domain.ConversationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingSink) snapshot() []domain.ConversationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConversationState(nil), r.states...)
}

func (r *recordingSink) last() domain.ConversationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return domain.ConversationState{}
	}
	return r.states[len(r.states)-1]
}

type fakeMetrics struct {
	mu       sync.Mutex
	states   []domain.StateKind
	failures []domain.RecognitionErrorCode
	sends    int
}

func (f *fakeMetrics) StateEntered(kind domain.StateKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, kind)
}

func (f *fakeMetrics) RecognitionFailed(code domain.RecognitionErrorCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, code)
}

func (f *fakeMetrics) SendCompleted(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
}
