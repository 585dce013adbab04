package call

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/core"
	"github.com/dchudnov/campuscall/internal/domain"
)

// Recorder emits the single summary entry a finished call leaves in the
// message thread. Posting is fire-and-forget: a messaging outage never
// blocks or affects call teardown.
type Recorder struct {
	svc     core.MessagingService
	timeout time.Duration
}

func NewRecorder(svc core.MessagingService, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{svc: svc, timeout: timeout}
}

// Record composes the transcript entry for an ended session and posts it in
// the background. Nil recorder or service is allowed (headless tests).
func (r *Recorder) Record(s *Session, now time.Time) {
	if r == nil || r.svc == nil {
		return
	}
	entry := domain.TranscriptEntry{
		Kind:            s.Kind,
		Outcome:         s.Outcome(),
		DurationSeconds: int(s.Duration(now).Seconds()),
	}
	peer := s.RemoteParty
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.svc.PostThreadEntry(ctx, peer, entry); err != nil {
			log.Warn().Err(err).Str("module", "call").
				Str("peer", string(peer)).Msg("transcript entry not posted")
		}
	}()
}
