package speech

import (
	"strings"
	"sync"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

// Raw joins the final segments, falling back to the latest partial when it runs past them.
func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}
	return joined
}

// utteranceSignals fire once each: heard on the first non-empty transcript, ended on speech_final.
type utteranceSignals struct {
	heard     chan struct{}
	ended     chan struct{}
	heardOnce sync.Once
	endedOnce sync.Once
}

func newUtteranceSignals() *utteranceSignals {
	return &utteranceSignals{heard: make(chan struct{}), ended: make(chan struct{})}
}

func (s *utteranceSignals) markHeard() { s.heardOnce.Do(func() { close(s.heard) }) }
func (s *utteranceSignals) markEnded() { s.endedOnce.Do(func() { close(s.ended) }) }

func consumeTranscriptionEvents(
	session ports.StreamingSession,
	aggregator *transcriptAggregator,
	signals *utteranceSignals,
	done chan struct{},
) {
	defer close(done)

	for event := range session.Events() {
		if strings.TrimSpace(event.Text) != "" {
			aggregator.Add(event)
			signals.markHeard()
		}
		if event.IsSpeechFinal {
			signals.markEnded()
		}
	}
}
