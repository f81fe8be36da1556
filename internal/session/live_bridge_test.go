package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voxhire/voxhire/internal/interview"
	"github.com/voxhire/voxhire/internal/oracle"
	"github.com/voxhire/voxhire/internal/store"
)

// fakeUpstream is an in-memory realtime channel.
type fakeUpstream struct {
	mu     sync.Mutex
	events chan oracle.LiveEvent

	audio  []string
	acks   []string
	resume []bool
	closed bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan oracle.LiveEvent, 32)}
}

func (u *fakeUpstream) Events() <-chan oracle.LiveEvent { return u.events }

func (u *fakeUpstream) AppendAudio(dataB64 string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.audio = append(u.audio, dataB64)
	return nil
}

func (u *fakeUpstream) CreateResponse() error { return nil }

func (u *fakeUpstream) AckToolCall(callID string, continueResponse bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.acks = append(u.acks, callID)
	u.resume = append(u.resume, continueResponse)
	return nil
}

func (u *fakeUpstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

func startBridge(t *testing.T) (*fakeConn, *fakeUpstream, *store.Memory, <-chan error) {
	t.Helper()
	conn := newFakeConn()
	up := newFakeUpstream()
	mem := store.NewMemory()
	mem.Put(testInterview())

	b, err := NewLiveBridge(LiveDependencies{
		Conn:      conn,
		Upstream:  up,
		Logger:    testLogger(),
		Store:     mem,
		Reporter:  &fakeOracle{},
		Interview: testInterview(),
		Config:    Config{OracleTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("NewLiveBridge: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(context.Background()) }()
	t.Cleanup(func() { close(conn.in) })
	return conn, up, mem, errCh
}

func TestLiveBridge_RelaysAudioWithSchedule(t *testing.T) {
	conn, up, _, _ := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	// 4800 bytes of 16-bit mono @24kHz is 100ms per chunk.
	chunk := base64.StdEncoding.EncodeToString(make([]byte, 4800))
	up.events <- oracle.LiveEvent{Kind: oracle.LiveAudioDelta, AudioB64: chunk}
	up.events <- oracle.LiveEvent{Kind: oracle.LiveAudioDelta, AudioB64: chunk}

	first := conn.expect(t, "audio_delta")
	second := conn.expect(t, "audio_delta")
	if first["start_ms"] != float64(0) {
		t.Fatalf("first delta start_ms=%v, want 0", first["start_ms"])
	}
	gap := second["start_ms"].(float64) - first["start_ms"].(float64)
	if gap < 100 {
		t.Fatalf("chunks overlap: gap=%vms, want >= 100", gap)
	}
	if first["data_b64"] != chunk {
		t.Fatalf("audio payload altered in relay")
	}
}

func TestLiveBridge_ForwardsClientAudioUpstream(t *testing.T) {
	conn, up, _, _ := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	conn.push(t, `{"type":"audio_chunk","data_b64":"QUJDRA=="}`)
	deadline := time.Now().Add(2 * time.Second)
	for {
		up.mu.Lock()
		n := len(up.audio)
		up.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client audio never reached upstream")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveBridge_RecordEvaluationBecomesTurn(t *testing.T) {
	conn, up, mem, _ := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c1",
		Tool:      oracle.ToolRecordEvaluation,
		Arguments: `{"dimension":"craft","question":"Describe a build.","answer":"I shipped a queue.","score":7,"analysis":"strong"}`,
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		turns, _ := mem.ListTurns(context.Background(), "iv-1")
		if len(turns) == 1 {
			if turns[0].Dimension != "craft" || !turns[0].Answered {
				t.Fatalf("turn=%+v", turns[0])
			}
			// Out-of-range scores clamp.
			if turns[0].Score != 5 {
				t.Fatalf("score=%v, want clamp to 5", turns[0].Score)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("evaluation never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.acks) != 1 || up.acks[0] != "c1" || !up.resume[0] {
		t.Fatalf("acks=%v resume=%v", up.acks, up.resume)
	}
}

func TestLiveBridge_MalformedEvaluationDropped(t *testing.T) {
	conn, up, mem, _ := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c1",
		Tool:      oracle.ToolRecordEvaluation,
		Arguments: `{"score":`,
	}
	// Still acked so the upstream conversation is not wedged.
	deadline := time.Now().Add(2 * time.Second)
	for {
		up.mu.Lock()
		n := len(up.acks)
		up.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("malformed tool call never acked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	turns, _ := mem.ListTurns(context.Background(), "iv-1")
	if len(turns) != 0 {
		t.Fatalf("malformed evaluation persisted: %+v", turns)
	}
}

func TestLiveBridge_EndInterviewCompletesOnce(t *testing.T) {
	conn, up, mem, errCh := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c1",
		Tool:      oracle.ToolRecordEvaluation,
		Arguments: `{"dimension":"craft","question":"Q1","answer":"A1","score":4,"analysis":"ok"}`,
	}
	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c2",
		Tool:      oracle.ToolEndInterview,
		Arguments: `{"reason":"all dimensions covered"}`,
	}

	completed := conn.expect(t, "completed")
	if completed["total_turns"] != float64(1) {
		t.Fatalf("total_turns=%v, want 1", completed["total_turns"])
	}
	waitDone(t, errCh)

	state, _ := mem.GetInterviewByToken(context.Background(), "tok-1")
	if state.Status != interview.StatusCompleted {
		t.Fatalf("status=%s", state.Status)
	}
	if _, ok := mem.Report("iv-1"); !ok {
		t.Fatalf("no report written")
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if !up.closed {
		t.Fatalf("upstream left open after completion")
	}
}

func TestLiveBridge_ClientEndAndUpstreamEndRace(t *testing.T) {
	conn, up, mem, errCh := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c1",
		Tool:      oracle.ToolRecordEvaluation,
		Arguments: `{"dimension":"craft","question":"Q1","answer":"A1","score":4,"analysis":"ok"}`,
	}
	waitForTurns(t, mem, 1)

	// Both termination triggers fire; exactly one completion must apply.
	conn.push(t, `{"type":"end_interview"}`)
	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c9",
		Tool:      oracle.ToolEndInterview,
		Arguments: `{}`,
	}

	conn.expect(t, "completed")
	waitDone(t, errCh)

	state, _ := mem.GetInterviewByToken(context.Background(), "tok-1")
	if state.Status != interview.StatusCompleted {
		t.Fatalf("status=%s", state.Status)
	}
}

func waitForTurns(t *testing.T, mem *store.Memory, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		turns, _ := mem.ListTurns(context.Background(), "iv-1")
		if len(turns) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("turns=%d, want %d", len(turns), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveBridge_BargeInResetsSchedule(t *testing.T) {
	conn, up, _, _ := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	chunk := base64.StdEncoding.EncodeToString(make([]byte, 4800))
	up.events <- oracle.LiveEvent{Kind: oracle.LiveAudioDelta, AudioB64: chunk}
	conn.expect(t, "audio_delta")

	// Candidate speech interrupts playback; the next chunk starts a fresh
	// stream at offset zero.
	up.events <- oracle.LiveEvent{Kind: oracle.LiveSpeechStarted}
	conn.expect(t, "speech_started")

	up.events <- oracle.LiveEvent{Kind: oracle.LiveAudioDelta, AudioB64: chunk}
	delta := conn.expect(t, "audio_delta")
	if delta["start_ms"] != float64(0) {
		t.Fatalf("post-barge-in start_ms=%v, want 0", delta["start_ms"])
	}
}

func TestLiveBridge_MaxTurnsCapEndsInterview(t *testing.T) {
	conn, up, mem, errCh := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	// The interview budget is four turns; the model never calls
	// end_interview.
	for i := 1; i <= 4; i++ {
		up.events <- oracle.LiveEvent{
			Kind:      oracle.LiveToolCall,
			CallID:    fmt.Sprintf("c%d", i),
			Tool:      oracle.ToolRecordEvaluation,
			Arguments: fmt.Sprintf(`{"dimension":"craft","question":"Q%d","answer":"A%d","score":3,"analysis":"ok"}`, i, i),
		}
	}

	completed := conn.expect(t, "completed")
	if completed["total_turns"] != float64(4) {
		t.Fatalf("total_turns=%v, want 4", completed["total_turns"])
	}
	waitDone(t, errCh)

	state, _ := mem.GetInterviewByToken(context.Background(), "tok-1")
	if state.Status != interview.StatusCompleted {
		t.Fatalf("status=%s", state.Status)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.resume) != 4 || up.resume[3] {
		t.Fatalf("resume=%v, want the capped ack to stop the response", up.resume)
	}
}

func TestLiveBridge_EndWithoutEvaluationsLeavesInterviewOpen(t *testing.T) {
	conn, up, mem, errCh := startBridge(t)

	up.events <- oracle.LiveEvent{Kind: oracle.LiveSessionReady}
	conn.expect(t, "ready")

	conn.push(t, `{"type":"end_interview"}`)
	ev := conn.expect(t, "error")
	if ev["code"] != "nothing_recorded" {
		t.Fatalf("error=%v, want nothing_recorded", ev)
	}
	waitDone(t, errCh)

	state, _ := mem.GetInterviewByToken(context.Background(), "tok-1")
	if state.Status == interview.StatusCompleted {
		t.Fatalf("interview completed with no evaluations")
	}
	if _, ok := mem.Report("iv-1"); ok {
		t.Fatalf("report written with no evaluations")
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if !up.closed {
		t.Fatalf("upstream left open")
	}
}

// One websocket connection tolerates one writer: the relay loop, the read
// leg's decode-error replies and registry warnings must never write
// concurrently.
func TestLiveBridge_OutboundWritesSerialized(t *testing.T) {
	conn := newFakeConn()
	conn.writeDelay = time.Millisecond
	up := newFakeUpstream()
	mem := store.NewMemory()
	mem.Put(testInterview())

	b, err := NewLiveBridge(LiveDependencies{
		Conn:      conn,
		Upstream:  up,
		Logger:    testLogger(),
		Store:     mem,
		Reporter:  &fakeOracle{},
		Interview: testInterview(),
		Config:    Config{OracleTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("NewLiveBridge: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(context.Background()) }()
	t.Cleanup(func() { close(conn.in) })

	h := b.Handle()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		// Unreadable frames draw error replies from the read leg.
		for i := 0; i < 20; i++ {
			conn.in <- []byte(`{"type":`)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = h.Warn("wrapping up soon")
		}
	}()
	chunk := base64.StdEncoding.EncodeToString(make([]byte, 480))
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			up.events <- oracle.LiveEvent{Kind: oracle.LiveAudioDelta, AudioB64: chunk}
		}
	}()
	wg.Wait()

	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c1",
		Tool:      oracle.ToolRecordEvaluation,
		Arguments: `{"dimension":"craft","question":"Q1","answer":"A1","score":4,"analysis":"ok"}`,
	}
	up.events <- oracle.LiveEvent{
		Kind:      oracle.LiveToolCall,
		CallID:    "c2",
		Tool:      oracle.ToolEndInterview,
		Arguments: `{}`,
	}

	// Drain the mixed stream until the terminal event.
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-conn.out:
			done = ev["type"] == "completed"
		case <-deadline:
			t.Fatalf("timed out waiting for completed")
		}
	}
	waitDone(t, errCh)

	if conn.overlapped() {
		t.Fatalf("overlapping WriteJSON calls on one connection")
	}
}
