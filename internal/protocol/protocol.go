// Package protocol defines the websocket event vocabulary between the
// interviewee client and the server. Payload field names are a contract the
// web client depends on; the framing is JSON text messages.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Client -> server messages.

type ClientStartInterview struct {
	Type string `json:"type"`
}

type ClientAudioChunk struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
}

type ClientStartRecording struct {
	Type string `json:"type"`
}

type ClientStopRecording struct {
	Type string `json:"type"`
}

// ClientEndInterview is the interviewee's explicit "end now" request. It is
// handled exactly like the oracle's end_interview tool call.
type ClientEndInterview struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one inbound text frame into its typed message.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start_interview":
		return ClientStartInterview{Type: typ}, nil
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_chunk.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "start_recording":
		return ClientStartRecording{Type: typ}, nil
	case "stop_recording":
		return ClientStopRecording{Type: typ}, nil
	case "end_interview":
		return ClientEndInterview{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// Server -> client messages.

// ServerConnected is the state snapshot sent once after the handshake so a
// resumed client can render current progress.
type ServerConnected struct {
	Type        string `json:"type"`
	InterviewID string `json:"interview_id"`
	Position    string `json:"position"`
	Candidate   string `json:"candidate,omitempty"`
	Turn        int    `json:"turn"`
	MinTurns    int    `json:"min_turns"`
	MaxTurns    int    `json:"max_turns"`
}

type ServerReady struct {
	Type string `json:"type"`
}

type ServerProcessing struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerTranscript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Role    string `json:"role,omitempty"`
	IsFinal bool   `json:"is_final"`
}

type ServerQuestion struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Dimension string `json:"dimension"`
	AudioB64  string `json:"audio_b64,omitempty"`
	Turn      int    `json:"turn"`
	MinTurns  int    `json:"min_turns"`
	MaxTurns  int    `json:"max_turns"`
}

type ServerCompleted struct {
	Type       string `json:"type"`
	TotalTurns int    `json:"total_turns"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// Live-mode relay messages.

// ServerAudioDelta carries one upstream audio chunk with its scheduled
// playback start offset relative to the stream epoch.
type ServerAudioDelta struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
	StartMS int64  `json:"start_ms"`
}

type ServerAudioDone struct {
	Type string `json:"type"`
}

type ServerSpeechStarted struct {
	Type string `json:"type"`
}

type ServerSpeechStopped struct {
	Type string `json:"type"`
}
