package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

const (
	defaultRampStep    = 30 * time.Millisecond
	defaultSendTimeout = 30 * time.Second
	genericSendError   = "Error"
)

// Config controls conversation timing.
type Config struct {
	RampStep    time.Duration
	SendTimeout time.Duration
}

// Dependencies are the collaborators a conversation drives.
type Dependencies struct {
	Input   ports.SpeechInput
	Output  ports.SpeechOutput
	Chat    ports.ChatChannel
	Sink    ports.StateSink
	Metrics ports.ConversationMetrics
	Logger  zerolog.Logger
}

// VoiceConversationController runs the listen/send/speak turn-taking for one channel.
//
// Every operation is queued as an event and applied by a single goroutine, which is the
// only reader and writer of the conversation state. Collaborator callbacks may arrive on
// any goroutine.
type VoiceConversationController struct {
	channelURL string
	input      ports.SpeechInput
	output     ports.SpeechOutput
	chat       ports.ChatChannel
	sink       ports.StateSink
	metrics    ports.ConversationMetrics
	cfg        Config
	logger     zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    *mailbox
	loopDone chan struct{}
	snapshot atomic.Pointer[domain.ConversationState]

	subscription ports.Subscription
	disposeOnce  sync.Once

	// owned by the loop goroutine
	state      domain.ConversationState
	rampSeq    uint64
	rampCancel context.CancelFunc
	sendSeq    uint64
}

// NewVoiceConversationController binds a conversation to channelURL and starts its event loop.
func NewVoiceConversationController(channelURL string, deps Dependencies, cfg Config) (*VoiceConversationController, error) {
	channelURL = strings.TrimSpace(channelURL)
	if channelURL == "" {
		return nil, &domain.ConfigurationError{Field: "channelUrl", Err: domain.ErrMissingChannel}
	}
	if deps.Input == nil || deps.Output == nil || deps.Chat == nil || deps.Sink == nil {
		return nil, &domain.ConfigurationError{Field: "dependencies", Err: errors.New("speech input, speech output, chat and sink are required")}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if cfg.RampStep <= 0 {
		cfg.RampStep = defaultRampStep
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &VoiceConversationController{
		channelURL: channelURL,
		input:      deps.Input,
		output:     deps.Output,
		chat:       deps.Chat,
		sink:       deps.Sink,
		metrics:    deps.Metrics,
		cfg:        cfg,
		logger:     deps.Logger.With().Str("component", "conversation").Str("channel", channelURL).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		inbox:      newMailbox(),
		loopDone:   make(chan struct{}),
		state:      domain.NoPermission(),
	}
	initial := c.state
	c.snapshot.Store(&initial)

	subscription, err := c.chat.Subscribe(channelURL, c.handleChatMessage)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to channel %q: %w", channelURL, err)
	}
	c.subscription = subscription

	go c.run()
	return c, nil
}

// ChannelURL returns the bound channel.
func (c *VoiceConversationController) ChannelURL() string {
	return c.channelURL
}

// RequestMicrophonePermission resets the conversation to Idle or NoPermission.
func (c *VoiceConversationController) RequestMicrophonePermission(granted bool) {
	c.post(permissionChanged{granted: granted})
}

// StartListening cancels any cooldown ramp and asks speech input to begin a session.
func (c *VoiceConversationController) StartListening() {
	c.post(listenRequested{})
}

// StopListening asks speech input to finish; the state changes only when the engine reports back.
func (c *VoiceConversationController) StopListening() {
	c.post(stopListenRequested{})
}

// StopSpeaking interrupts speech output and starts the cooldown ramp.
func (c *VoiceConversationController) StopSpeaking() {
	c.post(stopSpeakRequested{})
}

func (c *VoiceConversationController) OnRecognitionReady() {
	c.post(recognitionReady{})
}

func (c *VoiceConversationController) OnRecognitionResult(candidates []string) {
	c.post(recognitionResult{candidates: append([]string(nil), candidates...)})
}

func (c *VoiceConversationController) OnRecognitionError(code domain.RecognitionErrorCode) {
	c.post(recognitionFailed{code: code})
}

// OnSendResult reports the outcome of a send made on behalf of this conversation.
func (c *VoiceConversationController) OnSendResult(confirmedText string, err error) {
	c.post(sendFinished{confirmedText: confirmedText, err: err})
}

func (c *VoiceConversationController) OnMessageReceived(channelURL, senderID, text string) {
	c.post(messageReceived{channelURL: channelURL, senderID: senderID, text: text})
}

func (c *VoiceConversationController) OnSpeechPlaybackDone() {
	c.post(playbackDone{})
}

// HandleBackNavigation reports whether back navigation was consumed by a local cancel.
func (c *VoiceConversationController) HandleBackNavigation() bool {
	reply := make(chan bool, 1)
	if !c.post(backPressed{reply: reply}) {
		return false
	}
	select {
	case handled := <-reply:
		return handled
	case <-c.loopDone:
		select {
		case handled := <-reply:
			return handled
		default:
			return false
		}
	}
}

// State returns the state after every previously queued event has been applied.
func (c *VoiceConversationController) State() domain.ConversationState {
	reply := make(chan domain.ConversationState, 1)
	if c.post(stateQuery{reply: reply}) {
		select {
		case state := <-reply:
			return state
		case <-c.loopDone:
		}
	}
	return *c.snapshot.Load()
}

// Dispose stops the loop, cancels pending work, releases both speech engines and
// unregisters the channel listener. It must not be called from a StateSink callback.
func (c *VoiceConversationController) Dispose() {
	c.disposeOnce.Do(func() {
		c.inbox.close()
		c.cancel()
		<-c.loopDone

		c.input.Stop()
		if err := c.input.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to release speech input")
		}
		c.output.Stop()
		if err := c.output.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to release speech output")
		}
		c.subscription.Unsubscribe()
		c.logger.Debug().Msg("conversation disposed")
	})
}

func (c *VoiceConversationController) handleChatMessage(message domain.ChatMessage) {
	c.OnMessageReceived(message.ChannelURL, message.SenderID, message.Text)
}

func (c *VoiceConversationController) post(ev event) bool {
	if !c.inbox.post(ev) {
		c.logger.Debug().Str("event", fmt.Sprintf("%T", ev)).Msg("dropping event after dispose")
		return false
	}
	return true
}

func (c *VoiceConversationController) run() {
	defer close(c.loopDone)

	c.sink.StateChanged(c.state)
	for {
		select {
		case <-c.ctx.Done():
			c.cancelRamp()
			return
		case <-c.inbox.notify:
			for _, ev := range c.inbox.drain() {
				if c.ctx.Err() != nil {
					c.cancelRamp()
					return
				}
				c.handle(ev)
			}
		}
	}
}

func (c *VoiceConversationController) handle(ev event) {
	switch ev := ev.(type) {
	case permissionChanged:
		c.cancelRamp()
		if ev.granted {
			c.setState(domain.Idle())
		} else {
			c.setState(domain.NoPermission())
		}
	case listenRequested:
		c.startListening()
	case stopListenRequested:
		c.input.Stop()
	case stopSpeakRequested, playbackDone:
		c.stopSpeaking()
	case recognitionReady:
		c.setState(domain.Listening())
	case recognitionResult:
		c.handleRecognitionResult(ev.candidates)
	case recognitionFailed:
		c.metrics.RecognitionFailed(ev.code)
		c.setState(domain.ErrorState(domain.RecognitionErrorStateMessage(ev.code)))
	case sendFinished:
		c.handleSendFinished(ev)
	case messageReceived:
		c.handleMessage(ev)
	case rampTick:
		c.handleRampTick(ev)
	case backPressed:
		ev.reply <- c.handleBack()
	case stateQuery:
		ev.reply <- c.state
	default:
		c.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unhandled conversation event")
	}
}

func (c *VoiceConversationController) setState(next domain.ConversationState) {
	previous := c.state
	c.state = next
	c.snapshot.Store(&next)
	c.metrics.StateEntered(next.Kind)
	c.sink.StateChanged(next)

	if previous.Kind != next.Kind {
		c.logger.Debug().
			Str("from", string(previous.Kind)).
			Str("to", string(next.Kind)).
			Msg("conversation state changed")
	}
}

func (c *VoiceConversationController) startListening() {
	c.cancelRamp()
	c.input.Begin(c)
}

func (c *VoiceConversationController) stopSpeaking() {
	if !c.state.ActivelySpeaking() {
		return
	}
	c.beginRamp(c.state.Progress)
}

func (c *VoiceConversationController) handleRecognitionResult(candidates []string) {
	text := ""
	if len(candidates) > 0 {
		text = candidates[0]
	}
	if strings.TrimSpace(text) == "" {
		c.setState(domain.ErrorState(domain.ErrEmptyResult.Error()))
		return
	}

	c.setState(domain.Processing(text))
	c.startSend(text)
}

func (c *VoiceConversationController) startSend(text string) {
	c.sendSeq++
	seq := c.sendSeq
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SendTimeout)

	go func() {
		defer cancel()
		message, err := c.chat.Send(ctx, c.channelURL, text)
		c.post(sendFinished{seq: seq, confirmedText: message.Text, err: err})
	}()
}

func (c *VoiceConversationController) handleSendFinished(ev sendFinished) {
	if c.state.Kind != domain.StateProcessing || (ev.seq != 0 && ev.seq != c.sendSeq) {
		c.logger.Debug().Str("state", string(c.state.Kind)).Msg("ignoring stale send result")
		return
	}

	c.metrics.SendCompleted(ev.err)
	if ev.err != nil {
		c.logger.Warn().Err(ev.err).Msg("failed to send message")
		c.setState(domain.ErrorState(sendFailureMessage(ev.err)))
		return
	}

	confirmed := ev.confirmedText
	if confirmed == "" {
		confirmed = c.state.SpokenText
	}
	c.setState(domain.Sending(confirmed))
}

func (c *VoiceConversationController) handleMessage(ev messageReceived) {
	if ev.channelURL != c.channelURL {
		return
	}
	if ev.senderID == c.chat.CurrentUserID() {
		return
	}

	c.cancelRamp()
	c.setState(domain.Speaking(ev.text, true, 0))
	c.output.Speak(ev.text, c)
}

func (c *VoiceConversationController) handleBack() bool {
	switch {
	case c.state.Kind == domain.StateListening:
		c.input.Stop()
		return true
	case c.state.ActivelySpeaking():
		c.beginRamp(c.state.Progress)
		return true
	default:
		return false
	}
}

func sendFailureMessage(err error) string {
	var transportErr *domain.TransportError
	if errors.As(err, &transportErr) && strings.TrimSpace(transportErr.Reason) != "" {
		return transportErr.Reason
	}
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return genericSendError
}

type noopMetrics struct{}

func (noopMetrics) StateEntered(domain.StateKind)                 {}
func (noopMetrics) RecognitionFailed(domain.RecognitionErrorCode) {}
func (noopMetrics) SendCompleted(error)                           {}
