package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// DefaultLiveURL is the realtime endpoint; the model is selected via the
// query string.
const DefaultLiveURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"

// Tool names the realtime model is instructed to call.
const (
	ToolRecordEvaluation = "record_evaluation"
	ToolEndInterview     = "end_interview"
)

type LiveEventKind string

const (
	LiveSessionReady        LiveEventKind = "session_ready"
	LiveSpeechStarted       LiveEventKind = "speech_started"
	LiveSpeechStopped       LiveEventKind = "speech_stopped"
	LiveAudioDelta          LiveEventKind = "audio_delta"
	LiveAudioDone           LiveEventKind = "audio_done"
	LiveUserTranscript      LiveEventKind = "user_transcript"
	LiveAssistantTranscript LiveEventKind = "assistant_transcript"
	LiveToolCall            LiveEventKind = "tool_call"
	LiveResponseDone        LiveEventKind = "response_done"
	LiveErrored             LiveEventKind = "errored"
	LiveClosed              LiveEventKind = "closed"
)

// LiveEvent is one decoded upstream event. Only the fields relevant to its
// Kind are set.
type LiveEvent struct {
	Kind       LiveEventKind
	AudioB64   string
	Transcript string
	CallID     string
	Tool       string
	Arguments  string
	Err        error
}

// LiveTool is a function declaration in the upstream session configuration.
type LiveTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// LiveConfig configures one duplex channel to the realtime API.
type LiveConfig struct {
	URL          string
	APIKey       string
	Voice        string
	Instructions string
	Tools        []LiveTool
	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

// LiveChannel is a duplex client to the realtime API. Reads are delivered on
// Events(); writes go through the channel's methods, which are safe for
// concurrent use.
type LiveChannel struct {
	conn   *websocket.Conn
	events chan LiveEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialLive connects, configures the upstream session (voice, pcm16 audio in
// both directions, server-side turn detection, tool declarations) and starts
// the read pump.
func DialLive(ctx context.Context, cfg LiveConfig) (*LiveChannel, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultLiveURL
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("oracle: dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("oracle: dial realtime: %w", err)
	}

	ch := &LiveChannel{
		conn:   conn,
		events: make(chan LiveEvent, 64),
	}

	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"voice":               cfg.Voice,
		"instructions":        cfg.Instructions,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"silence_duration_ms": 800,
		},
		"tools":       cfg.Tools,
		"tool_choice": "auto",
	}
	if err := ch.send(map[string]any{"type": "session.update", "session": session}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("oracle: configure session: %w", err)
	}

	go ch.readPump()
	return ch, nil
}

// Events returns the upstream event stream. The channel is closed after a
// terminal LiveClosed event.
func (ch *LiveChannel) Events() <-chan LiveEvent {
	return ch.events
}

// AppendAudio forwards one base64 chunk of candidate audio to the upstream
// input buffer.
func (ch *LiveChannel) AppendAudio(dataB64 string) error {
	return ch.send(map[string]any{"type": "input_audio_buffer.append", "audio": dataB64})
}

// CreateResponse asks the model to speak; used for the opening greeting.
func (ch *LiveChannel) CreateResponse() error {
	return ch.send(map[string]any{"type": "response.create"})
}

// AckToolCall reports a tool call as handled. With continueResponse the model
// is also asked to keep talking, which is how turn-taking resumes after
// record_evaluation.
func (ch *LiveChannel) AckToolCall(callID string, continueResponse bool) error {
	err := ch.send(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  `{"success":true}`,
		},
	})
	if err != nil {
		return err
	}
	if continueResponse {
		return ch.CreateResponse()
	}
	return nil
}

func (ch *LiveChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.writeMu.Lock()
		ch.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ch.writeMu.Unlock()
		err = ch.conn.Close()
	})
	return err
}

func (ch *LiveChannel) send(v any) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteJSON(v)
}

func (ch *LiveChannel) readPump() {
	defer close(ch.events)
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			ch.events <- LiveEvent{Kind: LiveClosed, Err: err}
			return
		}
		ev, ok := decodeLiveEvent(data)
		if ok {
			ch.events <- ev
		}
	}
}

// decodeLiveEvent maps an upstream frame to its tagged event. Frames the
// bridge has no use for (rate limits, item lifecycle noise) are dropped.
func decodeLiveEvent(data []byte) (LiveEvent, bool) {
	var raw struct {
		Type       string `json:"type"`
		Delta      string `json:"delta"`
		Transcript string `json:"transcript"`
		CallID     string `json:"call_id"`
		Name       string `json:"name"`
		Arguments  string `json:"arguments"`
		Error      struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return LiveEvent{}, false
	}

	switch raw.Type {
	case "session.created", "session.updated":
		return LiveEvent{Kind: LiveSessionReady}, true
	case "input_audio_buffer.speech_started":
		return LiveEvent{Kind: LiveSpeechStarted}, true
	case "input_audio_buffer.speech_stopped":
		return LiveEvent{Kind: LiveSpeechStopped}, true
	case "response.audio.delta":
		return LiveEvent{Kind: LiveAudioDelta, AudioB64: raw.Delta}, true
	case "response.audio.done":
		return LiveEvent{Kind: LiveAudioDone}, true
	case "conversation.item.input_audio_transcription.completed":
		return LiveEvent{Kind: LiveUserTranscript, Transcript: raw.Transcript}, true
	case "response.audio_transcript.done":
		return LiveEvent{Kind: LiveAssistantTranscript, Transcript: raw.Transcript}, true
	case "response.function_call_arguments.done":
		return LiveEvent{Kind: LiveToolCall, CallID: raw.CallID, Tool: raw.Name, Arguments: raw.Arguments}, true
	case "response.done":
		return LiveEvent{Kind: LiveResponseDone}, true
	case "error":
		return LiveEvent{Kind: LiveErrored, Err: fmt.Errorf("oracle: upstream %s: %s", raw.Error.Code, raw.Error.Message)}, true
	default:
		return LiveEvent{}, false
	}
}

// InterviewTools builds the two function declarations the live interviewer
// must call: one to record each evaluated answer, one to end the interview
// once every dimension is covered.
func InterviewTools(dimensions []string) []LiveTool {
	list := strings.Join(dimensions, ", ")
	return []LiveTool{
		{
			Type: "function",
			Name: ToolRecordEvaluation,
			Description: fmt.Sprintf(
				"Record the evaluation of the answer just given: the question, the answer, a 0-5 score and a short analysis. Call this after every answer. Dimensions that must each be covered at least once: %s.",
				list,
			),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dimension": map[string]any{
						"type":        "string",
						"description": "The dimension this question evaluated.",
						"enum":        dimensions,
					},
					"question": map[string]any{"type": "string", "description": "The question you asked, verbatim."},
					"answer":   map[string]any{"type": "string", "description": "The candidate's answer, verbatim."},
					"score":    map[string]any{"type": "number", "description": "Score from 0 to 5."},
					"analysis": map[string]any{"type": "string", "description": "Short professional analysis of the answer."},
				},
				"required": []string{"dimension", "question", "answer", "score", "analysis"},
			},
		},
		{
			Type: "function",
			Name: ToolEndInterview,
			Description: fmt.Sprintf(
				"End the interview. Only call this after every one of the %d dimensions (%s) has been scored via %s.",
				len(dimensions), list, ToolRecordEvaluation,
			),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "Why the interview is ending."},
				},
			},
		},
	}
}

// LiveInstructions renders the system instructions for the live interviewer.
// The minimum question count is floored at the dimension count so full
// coverage is always reachable.
func LiveInstructions(ic Context, opening, closing string) string {
	minTurns := ic.MinTurns
	if len(ic.Dimensions) > minTurns {
		minTurns = len(ic.Dimensions)
	}
	var numbered strings.Builder
	for i, d := range ic.Dimensions {
		fmt.Fprintf(&numbered, "%d. %s\n", i+1, d)
	}
	if opening == "" {
		opening = "Briefly introduce yourself and the interview format."
	}
	if closing == "" {
		closing = "Thank the candidate and explain that results will follow."
	}

	return fmt.Sprintf(`You are a professional interviewer screening candidate %s for the position %q.

You must evaluate all %d dimensions, asking at least one question per dimension:
%s
Process:
1. Opening: %s
2. Work through every dimension in order; ask one question at a time and wait for the answer.
3. After each answer, call %s with the dimension, the question, the answer, a 0-5 score and a short analysis.
4. Ask at least %d questions and at most %d, then close politely.
5. Closing: %s

Rules:
- One question per turn, short and answerable out loud.
- The dimension argument must be exactly one of the listed names.
- Scores: 0-1 poor, 2 weak, 3 adequate, 4 good, 5 excellent.
- Only call %s after every dimension has been scored.`,
		ic.Candidate, ic.Position, len(ic.Dimensions), numbered.String(),
		opening, ToolRecordEvaluation, minTurns, ic.MaxTurns, closing,
		ToolEndInterview,
	)
}
