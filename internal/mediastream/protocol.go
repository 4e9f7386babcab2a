package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// Reasons a message is counted as malformed.
const (
	reasonJSON    = "json"
	reasonEvent   = "event"
	reasonPayload = "payload"
)

// malformedError marks an inbound message that is dropped.
type malformedError struct {
	reason string
	err    error
}

func (e *malformedError) Error() string {
	return fmt.Sprintf("mediastream: malformed message (%s): %v", e.reason, e.err)
}

func (e *malformedError) Unwrap() error { return e.err }

// Message is one inbound websocket message. Both the flat form
// ({"event":"media","payload":"..."}) and the nested form used by Twilio
// ({"event":"media","media":{"payload":"..."}}) decode into it.
type Message struct {
	Event    string         `json:"event"`
	StreamID string         `json:"stream_id"`
	Metadata map[string]any `json:"metadata"`
	Payload  string         `json:"payload"`

	StreamSid string     `json:"streamSid"`
	Start     *startBody `json:"start"`
	Media     *mediaBody `json:"media"`
}

type startBody struct {
	StreamSid        string         `json:"streamSid"`
	CallSid          string         `json:"callSid"`
	AccountSid       string         `json:"accountSid"`
	CustomParameters map[string]any `json:"customParameters"`
}

type mediaBody struct {
	Payload string `json:"payload"`
}

// ParseMessage decodes data. Messages that are not JSON objects or carry no
// event name are malformed.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &malformedError{reason: reasonJSON, err: err}
	}
	if m.Event == "" {
		return Message{}, &malformedError{reason: reasonEvent, err: errors.New("missing event")}
	}
	return m, nil
}

// Stream returns the stream id from whichever field carries it.
func (m Message) Stream() string {
	switch {
	case m.StreamID != "":
		return m.StreamID
	case m.StreamSid != "":
		return m.StreamSid
	case m.Start != nil:
		return m.Start.StreamSid
	}
	return ""
}

// CallID returns the telephony call id, falling back to the stream id.
func (m Message) CallID() string {
	if m.Start != nil && m.Start.CallSid != "" {
		return m.Start.CallSid
	}
	if id, ok := m.Metadata["call_id"].(string); ok && id != "" {
		return id
	}
	return m.Stream()
}

// Caller flattens the start metadata into strings.
func (m Message) Caller() map[string]string {
	out := make(map[string]string)
	add := func(src map[string]any) {
		for k, v := range src {
			if s, ok := v.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprint(v)
			}
		}
	}
	add(m.Metadata)
	if m.Start != nil {
		add(m.Start.CustomParameters)
		if m.Start.AccountSid != "" {
			out["account_sid"] = m.Start.AccountSid
		}
	}
	return out
}

// Audio returns the decoded μ-law payload of a media message.
func (m Message) Audio() ([]byte, error) {
	p := m.Payload
	if p == "" && m.Media != nil {
		p = m.Media.Payload
	}
	b, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, &malformedError{reason: reasonPayload, err: err}
	}
	return b, nil
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// encodeFrame builds the outbound media message for one μ-law frame.
// streamKey is "stream_id" or, for Twilio, "streamSid".
func encodeFrame(streamKey, streamID string, frame []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":   EventMedia,
		streamKey: streamID,
		"media":   outboundMedia{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}
