package usecase

import (
	"sync"

	"chatbot/internal/domain"
)

// event is anything delivered to the conversation loop.
type event any

type permissionChanged struct{ granted bool }

type listenRequested struct{}

type stopListenRequested struct{}

type stopSpeakRequested struct{}

type recognitionReady struct{}

type recognitionResult struct{ candidates []string }

type recognitionFailed struct{ code domain.RecognitionErrorCode }

// sendFinished with seq 0 comes from outside the controller and is matched by state only.
type sendFinished struct {
	seq           uint64
	confirmedText string
	err           error
}

type messageReceived struct {
	channelURL string
	senderID   string
	text       string
}

type playbackDone struct{}

type rampTick struct {
	seq      uint64
	progress int
}

type backPressed struct{ reply chan bool }

type stateQuery struct{ reply chan domain.ConversationState }

// mailbox is an unbounded FIFO so that posting never blocks, even from the loop itself.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := m.queue
	m.queue = nil
	return queued
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}
