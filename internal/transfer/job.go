package transfer

import (
	"sync/atomic"
	"time"

	"github.com/stanstork/pgtransfer/internal/models"
)

// stopToken is the cooperative cancellation flag. The worker reads it only
// between phases and between batches.
type stopToken struct {
	flag atomic.Bool
}

func (t *stopToken) Stop()         { t.flag.Store(true) }
func (t *stopToken) Stopped() bool { return t.flag.Load() }

// logRing keeps the newest capacity lines.
type logRing struct {
	buf   []string
	start int
	n     int
}

func newLogRing(capacity int) *logRing {
	if capacity < 1 {
		capacity = 1
	}
	return &logRing{buf: make([]string, capacity)}
}

func (r *logRing) append(line string) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = line
		r.n++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % len(r.buf)
}

func (r *logRing) lines() []string {
	out := make([]string, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// job is the single mutable record. Every field except the immutable
// id/spec/profiles/stop/done is guarded by Manager.mu.
type job struct {
	id     string
	spec   models.TransferSpec
	source models.ConnectionProfile
	dest   models.ConnectionProfile

	phase       models.Phase
	totalRows   int64
	transferred int64
	batch       int
	startedAt   time.Time
	completedAt *time.Time
	eta         *time.Time
	errMsg      string
	logs        *logRing

	stop stopToken
	done chan struct{}
}

func (j *job) snapshot() models.TransferSnapshot {
	started := j.startedAt
	s := models.TransferSnapshot{
		ID:              j.id,
		Phase:           j.phase,
		Spec:            j.spec,
		TotalRows:       j.totalRows,
		TransferredRows: j.transferred,
		CurrentBatch:    j.batch,
		StartedAt:       &started,
		ErrorMessage:    j.errMsg,
		Logs:            j.logs.lines(),
	}
	if j.completedAt != nil {
		t := *j.completedAt
		s.CompletedAt = &t
	}
	if j.eta != nil {
		t := *j.eta
		s.EstimatedCompletion = &t
	}
	return s
}
