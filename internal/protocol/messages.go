// Package protocol defines the JSON messages of the streaming API.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of message being sent
type MessageType string

const (
	// Transcription results
	MessageTypeTranscriptSegment MessageType = "transcript.segment"
	MessageTypeTranscriptFinal   MessageType = "transcript.final"

	// Errors
	MessageTypeError MessageType = "error"
)

// Error codes carried in ErrorData.
const (
	ErrorCodeDecode    = "decode_error"
	ErrorCodeInference = "inference_error"
	ErrorCodeBadInput  = "bad_request"
	ErrorCodeInternal  = "internal_error"
)

// Message is the envelope of every frame sent over the websocket
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// SegmentData is one recognized segment
type SegmentData struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// TranscriptData is the complete transcription of one request
type TranscriptData struct {
	RequestID    string        `json:"request_id,omitempty"`
	Text         string        `json:"text"`
	Segments     []SegmentData `json:"segments"`
	AudioSeconds float64       `json:"audio_seconds,omitempty"`
}

// ErrorData contains error information
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage wraps data in an envelope stamped with the current time.
func NewMessage(t MessageType, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// Segment converts offsets to the wire representation.
func Segment(text string, start, end time.Duration) SegmentData {
	return SegmentData{
		Text:    text,
		StartMs: start.Milliseconds(),
		EndMs:   end.Milliseconds(),
	}
}
