// Package session runs one interview over one websocket connection. The
// scripted Interviewer drives the question/answer loop itself; the LiveBridge
// relays a realtime upstream and intercepts its tool calls. Both funnel
// termination through the same guarded completion path.
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhire/voxhire/internal/audio"
	"github.com/voxhire/voxhire/internal/interview"
	"github.com/voxhire/voxhire/internal/oracle"
	"github.com/voxhire/voxhire/internal/protocol"
)

type State string

const (
	StateConnecting  State = "CONNECTING"
	StateReady       State = "READY"
	StateQuestioning State = "QUESTIONING"
	StateListening   State = "LISTENING"
	StateThinking    State = "THINKING"
	StateEnding      State = "ENDING"
	StateEnded       State = "ENDED"
	StateError       State = "ERROR"
)

// Store is the persistence surface a session needs.
type Store interface {
	GetInterviewByToken(ctx context.Context, token string) (interview.Interview, error)
	ListTurns(ctx context.Context, interviewID string) ([]interview.Turn, error)
	AppendTurn(ctx context.Context, interviewID string, t interview.Turn) error
	UpdateTurnAnswer(ctx context.Context, interviewID string, number int, answer string, score float64, commentary string, duration time.Duration) error
	MarkInProgress(ctx context.Context, interviewID string) error
	CompleteWithReport(ctx context.Context, interviewID string, report interview.Report) (applied bool, err error)
}

// Oracle is the dialogue model surface the scripted session needs.
type Oracle interface {
	GenerateQuestion(ctx context.Context, ic oracle.Context) (oracle.Question, error)
	EvaluateAnswer(ctx context.Context, position, question, answer, dimension string) (oracle.Evaluation, error)
	GenerateReport(ctx context.Context, position string, turns []interview.Turn, dimensions []string) (interview.Report, error)
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transport is the client connection surface. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Config struct {
	OracleTimeout time.Duration
	MinAudioBytes int
	AudioFormat   audio.Format
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	Now           func() time.Time
}

type Dependencies struct {
	Conn       Transport
	Logger     *slog.Logger
	Store      Store
	Oracle     Oracle
	Interview  interview.Interview
	PriorTurns []interview.Turn
	Config     Config
}

// Interviewer owns one scripted interview session. All session state is
// mutated from the Run loop only; the read goroutine just pumps decoded
// frames.
type Interviewer struct {
	conn Transport
	// writeMu serializes conn writes: the Run loop, the read goroutine's
	// decode-error replies and registry warnings all share one connection.
	writeMu sync.Mutex
	logger  *slog.Logger
	store   Store
	oracle  Oracle
	iv      interview.Interview
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	state    State
	coverage *interview.CoverageTracker
	turns    []interview.Turn
	// open is the index into turns of the unanswered turn, or -1.
	open int

	recording bool
	buf       bytes.Buffer

	completer *completer
}

type inboundFrame struct {
	msg any
	err error
}

func New(deps Dependencies) (*Interviewer, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
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

	ctx, cancel := context.WithCancel(context.Background())
	s := &Interviewer{
		conn:   deps.Conn,
		logger: deps.Logger,
		store:  deps.Store,
		oracle: deps.Oracle,
		iv:     deps.Interview,
		cfg:    deps.Config,
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
		open:   -1,
	}

	s.coverage = interview.NewCoverageTracker(deps.Interview.Dimensions, deps.Interview.MinTurns, deps.Interview.MaxTurns)
	s.completer = &completer{
		store:    deps.Store,
		reporter: deps.Oracle,
		logger:   deps.Logger,
		iv:       deps.Interview,
		timeout:  deps.Config.OracleTimeout,
	}
	s.turns = append(s.turns, deps.PriorTurns...)
	for i, t := range s.turns {
		if t.Answered {
			s.coverage.Observe(t.Dimension)
		} else {
			s.open = i
		}
	}
	return s, nil
}

// Handle exposes the session to the registry.
func (s *Interviewer) Handle() Handle {
	return Handle{
		Cancel: s.cancel,
		Warn: func(message string) error {
			return s.send(protocol.ServerError{Type: "error", Code: "draining", Message: message})
		},
	}
}

func (s *Interviewer) Run() error {
	defer s.cancel()

	frames := make(chan inboundFrame, 16)
	go s.readLoop(frames)

	s.state = StateReady
	if err := s.sendConnected(); err != nil {
		return err
	}
	if err := s.send(protocol.ServerReady{Type: "ready"}); err != nil {
		return err
	}

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case fr := <-frames:
			if fr.err != nil {
				if s.state == StateEnded {
					return nil
				}
				return fr.err
			}
			done, err := s.handle(fr.msg)
			if err != nil {
				s.state = StateError
				s.sendErr("internal", "the interview hit an internal error, please reconnect")
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *Interviewer) readLoop(frames chan<- inboundFrame) {
	for {
		_ = s.conn.SetReadDeadline(s.cfg.Now().Add(s.cfg.IdleTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case frames <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				s.sendErr(de.Code, de.Message)
				continue
			}
			s.sendErr("bad_request", "unreadable frame")
			continue
		}
		select {
		case frames <- inboundFrame{msg: msg}:
		case <-s.ctx.Done():
			return
		}
	}
}

// handle processes one client message. done=true means the session finished
// cleanly.
func (s *Interviewer) handle(msg any) (done bool, err error) {
	switch m := msg.(type) {
	case protocol.ClientStartInterview:
		return s.onStart()
	case protocol.ClientStartRecording:
		if s.state != StateQuestioning && s.state != StateListening {
			s.sendErr("bad_state", "not ready for an answer yet")
			return false, nil
		}
		s.buf.Reset()
		s.recording = true
		s.state = StateListening
		return false, nil
	case protocol.ClientAudioChunk:
		if s.state != StateListening || !s.recording {
			s.sendErr("bad_state", "not recording")
			return false, nil
		}
		chunk, decErr := base64.StdEncoding.DecodeString(m.DataB64)
		if decErr != nil {
			s.sendErr("bad_request", "audio_chunk.data_b64 is not valid base64")
			return false, nil
		}
		s.buf.Write(chunk)
		return false, nil
	case protocol.ClientStopRecording:
		if s.state != StateListening || !s.recording {
			s.sendErr("bad_state", "not recording")
			return false, nil
		}
		s.recording = false
		return s.onAnswer()
	case protocol.ClientEndInterview:
		return s.finish()
	default:
		s.sendErr("bad_request", "unsupported message")
		return false, nil
	}
}

func (s *Interviewer) onStart() (bool, error) {
	if s.state != StateReady {
		s.sendErr("bad_state", "interview already started")
		return false, nil
	}
	// A resumed session re-asks the open question instead of minting a new
	// turn.
	if s.open >= 0 {
		t := s.turns[s.open]
		s.logger.Info("resuming open turn", "interview", s.iv.ID, "turn", t.Number)
		return false, s.emitQuestion(t, s.synthesizeQuietly(t.Question))
	}
	if s.coverage.ShouldEnd() {
		return s.finish()
	}
	return s.askNext()
}

func (s *Interviewer) askNext() (bool, error) {
	s.state = StateThinking
	_ = s.send(protocol.ServerProcessing{Type: "processing", Message: "preparing the next question"})

	target := s.coverage.NextDimension()
	q, err := callTwice(s, func(ctx context.Context) (oracle.Question, error) {
		return s.oracle.GenerateQuestion(ctx, oracle.Context{
			Position:   s.iv.Position,
			Candidate:  s.iv.Candidate,
			Dimensions: s.iv.Dimensions,
			Turns:      s.answeredTurns(),
			Target:     target,
			MustCover:  s.coverage.MustTargetUncovered(),
			MinTurns:   s.coverage.MinTurns(),
			MaxTurns:   s.coverage.MaxTurns(),
		})
	})
	if err != nil {
		return false, fmt.Errorf("generating question: %w", err)
	}

	turn := interview.Turn{
		Number:    len(s.turns) + 1,
		Dimension: q.Dimension,
		Question:  q.Text,
		AskedAt:   s.cfg.Now(),
	}
	if err := s.store.AppendTurn(s.ctx, s.iv.ID, turn); err != nil {
		return false, fmt.Errorf("persisting turn: %w", err)
	}
	s.turns = append(s.turns, turn)
	s.open = len(s.turns) - 1

	if turn.Number == 1 {
		if err := s.store.MarkInProgress(s.ctx, s.iv.ID); err != nil {
			return false, fmt.Errorf("marking in progress: %w", err)
		}
	}

	return false, s.emitQuestion(turn, s.synthesizeQuietly(q.Text))
}

func (s *Interviewer) emitQuestion(t interview.Turn, speech []byte) error {
	ev := protocol.ServerQuestion{
		Type:      "question",
		Text:      t.Question,
		Dimension: t.Dimension,
		Turn:      t.Number,
		MinTurns:  s.coverage.MinTurns(),
		MaxTurns:  s.coverage.MaxTurns(),
	}
	if len(speech) > 0 {
		ev.AudioB64 = base64.StdEncoding.EncodeToString(speech)
	}
	if err := s.send(ev); err != nil {
		return err
	}
	s.state = StateQuestioning
	return nil
}

// synthesizeQuietly renders question audio on a best-effort basis. A failed
// synthesis degrades the question to text-only instead of failing the turn.
func (s *Interviewer) synthesizeQuietly(text string) []byte {
	speech, err := callTwice(s, func(ctx context.Context) ([]byte, error) {
		return s.oracle.Synthesize(ctx, text)
	})
	if err != nil {
		s.logger.Warn("speech synthesis failed", "interview", s.iv.ID, "error", err)
		return nil
	}
	return speech
}

func (s *Interviewer) onAnswer() (bool, error) {
	if s.open < 0 {
		s.sendErr("bad_state", "no open question")
		s.state = StateQuestioning
		return false, nil
	}
	t := s.turns[s.open]

	if s.buf.Len() < s.cfg.MinAudioBytes {
		return false, s.retryFault("we didn't catch that, please answer again")
	}

	s.state = StateThinking
	_ = s.send(protocol.ServerProcessing{Type: "processing", Message: "transcribing your answer"})

	wav, err := audio.EncodeWAV(s.buf.Bytes(), s.cfg.AudioFormat)
	if err != nil {
		return false, s.retryFault("we didn't catch that, please answer again")
	}
	transcript, err := callTwice(s, func(ctx context.Context) (string, error) {
		return s.oracle.Transcribe(ctx, wav)
	})
	if err != nil {
		return false, fmt.Errorf("transcribing answer: %w", err)
	}
	if transcript == "" {
		return false, s.retryFault("we couldn't hear any speech, please answer again")
	}
	_ = s.send(protocol.ServerTranscript{Type: "transcript", Text: transcript, IsFinal: true})

	eval, err := callTwice(s, func(ctx context.Context) (oracle.Evaluation, error) {
		return s.oracle.EvaluateAnswer(ctx, s.iv.Position, t.Question, transcript, t.Dimension)
	})
	if err != nil {
		return false, fmt.Errorf("evaluating answer: %w", err)
	}

	duration := s.cfg.Now().Sub(t.AskedAt)
	if err := s.store.UpdateTurnAnswer(s.ctx, s.iv.ID, t.Number, transcript, eval.Score, eval.Commentary, duration); err != nil {
		return false, fmt.Errorf("persisting answer: %w", err)
	}
	s.turns[s.open].Answer = transcript
	s.turns[s.open].Score = eval.Score
	s.turns[s.open].Commentary = eval.Commentary
	s.turns[s.open].Answered = true
	s.turns[s.open].Duration = duration
	s.open = -1

	s.coverage.Observe(t.Dimension)
	if s.coverage.ShouldEnd() {
		return s.finish()
	}
	return s.askNext()
}

// retryFault keeps the turn open after an unusable answer: no transcript, no
// score, no turn advance.
func (s *Interviewer) retryFault(message string) error {
	s.buf.Reset()
	s.state = StateQuestioning
	return s.send(protocol.ServerError{Type: "error", Code: "retry_answer", Message: message})
}

// finish drives the single completion path shared with the live bridge.
func (s *Interviewer) finish() (bool, error) {
	if s.completer.started() {
		return true, nil
	}
	s.state = StateEnding
	_ = s.send(protocol.ServerProcessing{Type: "processing", Message: "wrapping up the interview"})

	ran, err := s.completer.run(s.ctx, s.answeredTurns())
	if err != nil {
		return false, err
	}
	if !ran {
		return true, nil
	}

	if err := s.send(protocol.ServerCompleted{Type: "completed", TotalTurns: s.coverage.TurnsCompleted()}); err != nil {
		return false, err
	}
	s.state = StateEnded
	return true, nil
}

func (s *Interviewer) answeredTurns() []interview.Turn {
	out := make([]interview.Turn, 0, len(s.turns))
	for _, t := range s.turns {
		if t.Answered {
			out = append(out, t)
		}
	}
	return out
}

// sendConnected emits the resume snapshot so a reconnecting client renders
// its progress correctly.
func (s *Interviewer) sendConnected() error {
	return s.send(protocol.ServerConnected{
		Type:        "connected",
		InterviewID: s.iv.ID,
		Position:    s.iv.Position,
		Candidate:   s.iv.Candidate,
		Turn:        len(s.answeredTurns()),
		MinTurns:    s.coverage.MinTurns(),
		MaxTurns:    s.coverage.MaxTurns(),
	})
}

func (s *Interviewer) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(s.cfg.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Interviewer) sendErr(code, message string) {
	_ = s.send(protocol.ServerError{Type: "error", Code: code, Message: message})
}

// callTwice runs one oracle call under the configured timeout and retries it
// exactly once on failure.
func callTwice[T any](s *Interviewer, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OracleTimeout)
		v, err := fn(ctx)
		cancel()
		if err == nil {
			return v, nil
		}
		if attempt > 0 || s.ctx.Err() != nil {
			return zero, err
		}
		s.logger.Warn("oracle call failed, retrying once", "interview", s.iv.ID, "error", err)
	}
}
