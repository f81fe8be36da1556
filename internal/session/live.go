package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxhire/voxhire/internal/audio"
	"github.com/voxhire/voxhire/internal/interview"
	"github.com/voxhire/voxhire/internal/oracle"
	"github.com/voxhire/voxhire/internal/protocol"
)

// ReportGenerator writes the terminal report for a live interview.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, position string, turns []interview.Turn, dimensions []string) (interview.Report, error)
}

// Upstream is the realtime channel surface the bridge needs.
// *oracle.LiveChannel satisfies it.
type Upstream interface {
	Events() <-chan oracle.LiveEvent
	AppendAudio(dataB64 string) error
	CreateResponse() error
	AckToolCall(callID string, continueResponse bool) error
	Close() error
}

type LiveDependencies struct {
	Conn       Transport
	Upstream   Upstream
	Logger     *slog.Logger
	Store      Store
	Reporter   ReportGenerator
	Interview  interview.Interview
	PriorTurns []interview.Turn
	Config     Config
}

// LiveBridge relays one candidate connection to the realtime interviewer and
// intercepts the model's tool calls. Evaluations become persisted turns;
// end_interview triggers the same guarded completion as the scripted mode.
type LiveBridge struct {
	conn Transport
	// writeMu serializes conn writes: the relay loop, the read leg's
	// decode-error replies and registry warnings all share one connection.
	writeMu  sync.Mutex
	upstream Upstream
	logger   *slog.Logger
	store    Store
	iv       interview.Interview
	cfg      Config

	coverage  *interview.CoverageTracker
	turns     []interview.Turn
	scheduler *audio.Scheduler
	completer *completer

	cancel context.CancelFunc
}

func NewLiveBridge(deps LiveDependencies) (*LiveBridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream channel is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Reporter == nil {
		return nil, fmt.Errorf("report generator is required")
	}
	if len(deps.Interview.Dimensions) == 0 {
		return nil, fmt.Errorf("interview has no dimensions")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OracleTimeout <= 0 {
		deps.Config.OracleTimeout = 30 * time.Second
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 10 * time.Second
	}
	if deps.Config.IdleTimeout <= 0 {
		deps.Config.IdleTimeout = 5 * time.Minute
	}
	if deps.Config.AudioFormat == (audio.Format{}) {
		deps.Config.AudioFormat = audio.Format{SampleRateHz: 24000, Channels: 1, BitsPerSample: 16}
	}
	if deps.Config.Now == nil {
		deps.Config.Now = time.Now
	}

	b := &LiveBridge{
		conn:     deps.Conn,
		upstream: deps.Upstream,
		logger:   deps.Logger,
		store:    deps.Store,
		iv:       deps.Interview,
		cfg:      deps.Config,
	}
	b.coverage = interview.NewCoverageTracker(deps.Interview.Dimensions, deps.Interview.MinTurns, deps.Interview.MaxTurns)
	b.scheduler = audio.NewScheduler(deps.Config.AudioFormat, deps.Config.Now)
	b.completer = &completer{
		store:    deps.Store,
		reporter: deps.Reporter,
		logger:   deps.Logger,
		iv:       deps.Interview,
		timeout:  deps.Config.OracleTimeout,
	}

	// A reconnect picks up the numbering and coverage where it left off.
	b.turns = append(b.turns, deps.PriorTurns...)
	for _, t := range b.turns {
		if t.Answered {
			b.coverage.Observe(t.Dimension)
		}
	}
	return b, nil
}

func (b *LiveBridge) Handle() Handle {
	return Handle{
		Cancel: func() {
			if b.cancel != nil {
				b.cancel()
			}
		},
		Warn: func(message string) error {
			return b.send(protocol.ServerError{Type: "error", Code: "draining", Message: message})
		},
	}
}

// Run drives both legs until the interview completes or either side fails.
func (b *LiveBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()
	defer b.upstream.Close()

	if err := b.sendConnected(); err != nil {
		return err
	}

	frames := make(chan inboundFrame, 16)
	g, gctx := errgroup.WithContext(ctx)

	// Closing the conn unblocks the read leg once either leg is done.
	g.Go(func() error {
		<-gctx.Done()
		return b.conn.Close()
	})

	g.Go(func() error {
		defer close(frames)
		for {
			_ = b.conn.SetReadDeadline(b.cfg.Now().Add(b.cfg.IdleTimeout))
			_, data, err := b.conn.ReadMessage()
			if err != nil {
				// Deliberate teardown closes the conn out from under us.
				if b.completer.started() || gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("client read: %w", err)
			}
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				b.sendErr("bad_request", "unreadable frame")
				continue
			}
			select {
			case frames <- inboundFrame{msg: msg}:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case fr, ok := <-frames:
				if !ok {
					return nil
				}
				if err := b.handleClient(fr.msg); err != nil {
					return err
				}
			case ev, ok := <-b.upstream.Events():
				if !ok {
					return fmt.Errorf("upstream channel closed")
				}
				done, err := b.handleUpstream(ev)
				if err != nil {
					return err
				}
				if done {
					cancel()
					return nil
				}
			}
		}
	})

	err := g.Wait()
	if err != nil && b.completer.started() {
		// The interview finished; teardown noise is not a session failure.
		return nil
	}
	return err
}

func (b *LiveBridge) handleClient(msg any) error {
	switch m := msg.(type) {
	case protocol.ClientStartInterview:
		if err := b.store.MarkInProgress(context.Background(), b.iv.ID); err != nil {
			return fmt.Errorf("marking in progress: %w", err)
		}
		return b.upstream.CreateResponse()
	case protocol.ClientAudioChunk:
		return b.upstream.AppendAudio(m.DataB64)
	case protocol.ClientStartRecording, protocol.ClientStopRecording:
		// Turn boundaries are detected upstream by server VAD.
		return nil
	case protocol.ClientEndInterview:
		if err := b.finish(); err != nil {
			return err
		}
		b.cancel()
		return nil
	default:
		b.sendErr("bad_request", "unsupported message")
		return nil
	}
}

func (b *LiveBridge) handleUpstream(ev oracle.LiveEvent) (done bool, err error) {
	switch ev.Kind {
	case oracle.LiveSessionReady:
		return false, b.send(protocol.ServerReady{Type: "ready"})
	case oracle.LiveSpeechStarted:
		// Candidate barge-in interrupts playback; the next model audio starts
		// a fresh stream.
		if ms := b.scheduler.BufferedMS(); ms > 0 {
			b.logger.Debug("barge-in cut scheduled playback", "interview", b.iv.ID, "buffered_ms", ms)
		}
		b.scheduler.Reset()
		return false, b.send(protocol.ServerSpeechStarted{Type: "speech_started"})
	case oracle.LiveSpeechStopped:
		return false, b.send(protocol.ServerSpeechStopped{Type: "speech_stopped"})
	case oracle.LiveAudioDelta:
		pcm, decErr := base64.StdEncoding.DecodeString(ev.AudioB64)
		if decErr != nil {
			b.logger.Warn("undecodable upstream audio delta", "interview", b.iv.ID, "error", decErr)
			return false, nil
		}
		startMS := b.scheduler.Schedule(len(pcm))
		return false, b.send(protocol.ServerAudioDelta{Type: "audio_delta", DataB64: ev.AudioB64, StartMS: startMS})
	case oracle.LiveAudioDone:
		return false, b.send(protocol.ServerAudioDone{Type: "audio_done"})
	case oracle.LiveUserTranscript:
		return false, b.send(protocol.ServerTranscript{Type: "transcript", Text: ev.Transcript, Role: "user", IsFinal: true})
	case oracle.LiveAssistantTranscript:
		return false, b.send(protocol.ServerTranscript{Type: "transcript", Text: ev.Transcript, Role: "assistant", IsFinal: true})
	case oracle.LiveToolCall:
		return b.handleToolCall(ev)
	case oracle.LiveErrored:
		b.logger.Error("upstream error", "interview", b.iv.ID, "error", ev.Err)
		b.sendErr("upstream", "the interviewer hit a problem, one moment")
		return false, nil
	case oracle.LiveClosed:
		if b.completer.started() {
			return true, nil
		}
		return false, fmt.Errorf("upstream closed: %w", ev.Err)
	default:
		return false, nil
	}
}

func (b *LiveBridge) handleToolCall(ev oracle.LiveEvent) (done bool, err error) {
	switch ev.Tool {
	case oracle.ToolRecordEvaluation:
		if err := b.recordEvaluation(ev.Arguments); err != nil {
			b.logger.Warn("dropping malformed evaluation", "interview", b.iv.ID, "error", err)
		}
		// The model is told to stop at the cap, but the cap is enforced here
		// regardless.
		capped := b.coverage.TurnsCompleted() >= b.coverage.MaxTurns()
		if err := b.upstream.AckToolCall(ev.CallID, !capped); err != nil {
			return false, err
		}
		if capped {
			if err := b.finish(); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	case oracle.ToolEndInterview:
		if err := b.upstream.AckToolCall(ev.CallID, false); err != nil {
			b.logger.Warn("tool ack failed", "interview", b.iv.ID, "error", err)
		}
		if err := b.finish(); err != nil {
			return false, err
		}
		return true, nil
	default:
		b.logger.Warn("unknown tool call", "interview", b.iv.ID, "tool", ev.Tool)
		return false, b.upstream.AckToolCall(ev.CallID, false)
	}
}

// recordEvaluation validates one record_evaluation payload into a persisted
// turn. Malformed payloads are dropped; the interview goes on.
func (b *LiveBridge) recordEvaluation(arguments string) error {
	var args struct {
		Dimension string  `json:"dimension"`
		Question  string  `json:"question"`
		Answer    string  `json:"answer"`
		Score     float64 `json:"score"`
		Analysis  string  `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return fmt.Errorf("decoding evaluation: %w", err)
	}
	if strings.TrimSpace(args.Dimension) == "" || strings.TrimSpace(args.Question) == "" {
		return fmt.Errorf("evaluation missing dimension or question")
	}
	if args.Score < 0 {
		args.Score = 0
	}
	if args.Score > 5 {
		args.Score = 5
	}

	turn := interview.Turn{
		Number:     len(b.turns) + 1,
		Dimension:  args.Dimension,
		Question:   args.Question,
		Answer:     args.Answer,
		Score:      args.Score,
		Commentary: args.Analysis,
		Answered:   true,
		AskedAt:    b.cfg.Now(),
	}
	if err := b.store.AppendTurn(context.Background(), b.iv.ID, turn); err != nil {
		return fmt.Errorf("persisting evaluation: %w", err)
	}
	b.turns = append(b.turns, turn)
	b.coverage.Observe(args.Dimension)
	return nil
}

// finish drives the single completion path shared with the scripted session.
// With nothing scored yet there is no result to save: the session ends but
// the interview stays open for another attempt.
func (b *LiveBridge) finish() error {
	if b.completer.started() {
		return nil
	}
	answered := b.answeredTurns()
	if len(answered) == 0 {
		b.logger.Info("live session ended without evaluations", "interview", b.iv.ID)
		return b.send(protocol.ServerError{Type: "error", Code: "nothing_recorded", Message: "no answers were recorded, the interview stays open", Close: true})
	}
	_ = b.send(protocol.ServerProcessing{Type: "processing", Message: "wrapping up the interview"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*b.cfg.OracleTimeout)
	defer cancel()
	ran, err := b.completer.run(ctx, answered)
	if err != nil {
		return err
	}
	if !ran {
		return nil
	}
	return b.send(protocol.ServerCompleted{Type: "completed", TotalTurns: len(answered)})
}

func (b *LiveBridge) answeredTurns() []interview.Turn {
	out := make([]interview.Turn, 0, len(b.turns))
	for _, t := range b.turns {
		if t.Answered {
			out = append(out, t)
		}
	}
	return out
}

// sendConnected emits the resume snapshot before any relay traffic.
func (b *LiveBridge) sendConnected() error {
	return b.send(protocol.ServerConnected{
		Type:        "connected",
		InterviewID: b.iv.ID,
		Position:    b.iv.Position,
		Candidate:   b.iv.Candidate,
		Turn:        len(b.answeredTurns()),
		MinTurns:    b.coverage.MinTurns(),
		MaxTurns:    b.coverage.MaxTurns(),
	})
}

func (b *LiveBridge) send(v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(b.cfg.Now().Add(b.cfg.WriteTimeout))
	return b.conn.WriteJSON(v)
}

func (b *LiveBridge) sendErr(code, message string) {
	_ = b.send(protocol.ServerError{Type: "error", Code: code, Message: message})
}
