package sendbird

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Commands are the four-letter prefixes of every websocket frame.
const (
	cmdLogin   = "LOGI"
	cmdMessage = "MESG"
	cmdPing    = "PING"
	cmdPong    = "PONG"
	cmdError   = "EROR"
)

type frame struct {
	command string
	payload json.RawMessage
}

func encodeFrame(command string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", command, err)
	}
	out := make([]byte, 0, len(command)+len(payload)+1)
	out = append(out, command...)
	out = append(out, payload...)
	return append(out, '\n'), nil
}

func decodeFrame(raw []byte) (frame, error) {
	text := strings.TrimSpace(string(raw))
	if len(text) < 4 {
		return frame{}, fmt.Errorf("short frame %q", text)
	}
	payload := strings.TrimSpace(text[4:])
	if payload == "" {
		payload = "{}"
	}
	return frame{command: text[:4], payload: json.RawMessage(payload)}, nil
}

type loginPayload struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Error    bool   `json:"error,omitempty"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type sendPayload struct {
	ChannelURL string `json:"channel_url"`
	Message    string `json:"message"`
	ReqID      string `json:"req_id"`
}

type messagePayload struct {
	MsgID      int64  `json:"msg_id"`
	ReqID      string `json:"req_id,omitempty"`
	ChannelURL string `json:"channel_url"`
	Message    string `json:"message"`
	CreatedAt  int64  `json:"ts"`
	User       struct {
		GuestID string `json:"guest_id"`
	} `json:"user"`
}

type errorPayload struct {
	ReqID   string `json:"req_id,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
