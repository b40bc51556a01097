package sendbird

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

// Config controls the chat websocket session.
type Config struct {
	// BaseURL overrides the per-application endpoint wss://ws-<app id>.sendbird.com.
	BaseURL          string
	HandshakeTimeout time.Duration
	LoginTimeout     time.Duration
	WriteTimeout     time.Duration
}

// Client is a chat session over the Sendbird websocket protocol. It serves as both the
// connector used at startup and the channel used by conversations.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	userID  string
	pending map[string]chan sendOutcome
	done    chan struct{}

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]map[uint64]ports.MessageHandler
	nextID     uint64
}

type sendOutcome struct {
	message domain.ChatMessage
	err     error
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout

	return &Client{
		cfg:      cfg,
		dialer:   &dialer,
		logger:   logger.With().Str("component", "sendbird").Logger(),
		handlers: make(map[string]map[uint64]ports.MessageHandler),
	}
}

// Connect opens the websocket and logs in, replacing any existing session.
func (c *Client) Connect(ctx context.Context, creds domain.Credentials, accessToken string) error {
	if !creds.Complete() {
		return &domain.ConfigurationError{Field: "credentials", Err: domain.ErrMissingCredentials}
	}
	_ = c.Close()

	endpoint, err := c.endpoint(creds, accessToken)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to chat websocket: %w", err)
	}

	login, err := c.awaitLogin(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	userID := login.UserID
	if userID == "" {
		userID = creds.UserID
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.userID = userID
	c.pending = make(map[string]chan sendOutcome)
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	c.logger.Info().Str("user_id", userID).Msg("chat session connected")
	return nil
}

func (c *Client) endpoint(creds domain.Credentials, accessToken string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		base = fmt.Sprintf("wss://ws-%s.sendbird.com", strings.ToLower(creds.AppID))
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	endpoint, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("invalid chat endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("p", "Go")
	query.Set("ai", creds.AppID)
	query.Set("user_id", creds.UserID)
	if accessToken != "" {
		query.Set("access_token", accessToken)
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

func (c *Client) awaitLogin(ctx context.Context, conn *websocket.Conn) (loginPayload, error) {
	deadline := time.Now().Add(c.cfg.LoginTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return loginPayload{}, fmt.Errorf("waiting for chat login: %w", err)
		}
		f, err := decodeFrame(raw)
		if err != nil {
			continue
		}

		switch f.command {
		case cmdLogin:
			var login loginPayload
			if err := json.Unmarshal(f.payload, &login); err != nil {
				return loginPayload{}, fmt.Errorf("decode login: %w", err)
			}
			if login.Error {
				return loginPayload{}, &domain.TransportError{Code: login.Code, Reason: login.Message}
			}
			return login, nil
		case cmdError:
			var failure errorPayload
			_ = json.Unmarshal(f.payload, &failure)
			return loginPayload{}, &domain.TransportError{Code: failure.Code, Reason: failure.Message}
		}
	}
}

// Close ends the session. Pending sends fail with domain.ErrNotConnected.
// Subscriptions survive and receive messages again after the next Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()
	<-done
	return err
}

func (c *Client) CurrentUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Send posts text to channelURL and waits for the server echo carrying the same req_id.
func (c *Client) Send(ctx context.Context, channelURL string, text string) (domain.ChatMessage, error) {
	reqID := uuid.NewString()
	outcome := make(chan sendOutcome, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrNotConnected
	}
	c.pending[reqID] = outcome
	c.mu.Unlock()
	defer c.forget(reqID)

	data, err := encodeFrame(cmdMessage, sendPayload{ChannelURL: channelURL, Message: text, ReqID: reqID})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if err := c.write(conn, data); err != nil {
		return domain.ChatMessage{}, &domain.TransportError{Reason: "Failed to send message", Err: err}
	}

	select {
	case result := <-outcome:
		return result.message, result.err
	case <-ctx.Done():
		return domain.ChatMessage{}, ctx.Err()
	}
}

// Subscribe registers handler for messages on channelURL sent by other users.
func (c *Client) Subscribe(channelURL string, handler ports.MessageHandler) (ports.Subscription, error) {
	if strings.TrimSpace(channelURL) == "" {
		return nil, domain.ErrMissingChannel
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	c.handlersMu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[channelURL] == nil {
		c.handlers[channelURL] = make(map[uint64]ports.MessageHandler)
	}
	c.handlers[channelURL][id] = handler
	c.handlersMu.Unlock()

	return &subscription{client: c, channelURL: channelURL, id: id}, nil
}

type subscription struct {
	client     *Client
	channelURL string
	id         uint64
	once       sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.handlersMu.Lock()
		defer s.client.handlersMu.Unlock()
		delete(s.client.handlers[s.channelURL], s.id)
		if len(s.client.handlers[s.channelURL]) == 0 {
			delete(s.client.handlers, s.channelURL)
		}
	})
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) forget(reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, reqID)
}

func (c *Client) resolve(reqID string, result sendOutcome) bool {
	c.mu.Lock()
	outcome, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.mu.Unlock()

	if ok {
		outcome <- result
	}
	return ok
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()
	defer c.failPending(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("chat connection lost")
			}
			return
		}

		f, err := decodeFrame(raw)
		if err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed frame")
			continue
		}

		switch f.command {
		case cmdMessage:
			c.handleMessage(f.payload)
		case cmdError:
			c.handleError(f.payload)
		case cmdPing:
			if data, err := encodeFrame(cmdPong, f.payload); err == nil {
				if err := c.write(conn, data); err != nil {
					c.logger.Warn().Err(err).Msg("failed to answer ping")
				}
			}
		}
	}
}

func (c *Client) handleMessage(payload json.RawMessage) {
	var msg messagePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("skipping malformed message")
		return
	}

	message := domain.ChatMessage{
		ID:         strconv.FormatInt(msg.MsgID, 10),
		ChannelURL: msg.ChannelURL,
		SenderID:   msg.User.GuestID,
		Text:       msg.Message,
		CreatedAt:  msg.CreatedAt,
	}

	if msg.ReqID != "" && c.resolve(msg.ReqID, sendOutcome{message: message}) {
		return
	}
	if message.SenderID == c.CurrentUserID() {
		return
	}

	c.handlersMu.RLock()
	handlers := make([]ports.MessageHandler, 0, len(c.handlers[message.ChannelURL]))
	for _, handler := range c.handlers[message.ChannelURL] {
		handlers = append(handlers, handler)
	}
	c.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(message)
	}
}

func (c *Client) handleError(payload json.RawMessage) {
	var failure errorPayload
	if err := json.Unmarshal(payload, &failure); err != nil {
		return
	}
	err := &domain.TransportError{Code: failure.Code, Reason: failure.Message}
	if failure.ReqID != "" && c.resolve(failure.ReqID, sendOutcome{err: err}) {
		return
	}
	c.logger.Warn().Int("code", failure.Code).Str("reason", failure.Message).Msg("chat server error")
}

func (c *Client) failPending(conn *websocket.Conn) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan sendOutcome)
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	for _, outcome := range pending {
		outcome <- sendOutcome{err: domain.ErrNotConnected}
	}
}
