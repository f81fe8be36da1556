package audio

import "time"

// Scheduler keeps the monotonic playback cursor for one outbound audio
// stream. Successive chunks are scheduled back-to-back with no gaps or
// overlaps; a producer that falls behind the reference clock has its cursor
// clamped forward so late audio never schedules in the past.
type Scheduler struct {
	format Format
	now    func() time.Time

	started  bool
	epoch    time.Time
	cursorMS int64
}

func NewScheduler(f Format, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{format: f, now: now}
}

// Schedule reserves the next playback slot for a chunk of pcmBytes raw
// samples and returns its start offset in milliseconds from the stream
// epoch. The first call establishes the epoch.
func (s *Scheduler) Schedule(pcmBytes int) (startMS int64) {
	t := s.now()
	if !s.started {
		s.started = true
		s.epoch = t
		s.cursorMS = 0
	}

	elapsed := t.Sub(s.epoch).Milliseconds()
	if s.cursorMS < elapsed {
		s.cursorMS = elapsed
	}

	startMS = s.cursorMS
	s.cursorMS += DurationMS(pcmBytes, s.format)
	return startMS
}

// BufferedMS reports how much scheduled audio is still ahead of the
// reference clock.
func (s *Scheduler) BufferedMS() int64 {
	if !s.started {
		return 0
	}
	elapsed := s.now().Sub(s.epoch).Milliseconds()
	if d := s.cursorMS - elapsed; d > 0 {
		return d
	}
	return 0
}

// Reset abandons the current stream; the next Schedule call establishes a
// fresh epoch. Used when playback is interrupted.
func (s *Scheduler) Reset() {
	s.started = false
	s.cursorMS = 0
}
