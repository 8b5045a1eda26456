package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/metrics"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/repository"
)

// Connector opens one side of a transfer.
type Connector interface {
	Connect(ctx context.Context, profile models.ConnectionProfile) (repository.TableRepository, error)
}

type dialConnector struct {
	dialer database.Dialer
}

func NewConnector(dialer database.Dialer) Connector {
	return &dialConnector{dialer: dialer}
}

func (c *dialConnector) Connect(ctx context.Context, profile models.ConnectionProfile) (repository.TableRepository, error) {
	db, err := c.dialer.Dial(ctx, profile)
	if err != nil {
		return nil, err
	}
	return repository.NewTableRepository(db), nil
}

type Options struct {
	Connector Connector
	Logger    zerolog.Logger
	// Clock defaults to time.Now; Location (for daily windows and bare dates) to time.Local.
	Clock    func() time.Time
	Location *time.Location
	NewID    func() string
	// LogCapacity bounds the in-memory log buffer.
	LogCapacity int
	// VerifyTolerance is the allowed |source-dest| difference outside full mode.
	VerifyTolerance int64
	// BaseContext scopes database calls made by the worker. Stop does not cancel it.
	BaseContext context.Context
}

// Manager is the single-slot job registry. At most one job is in a running phase.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.RWMutex
	current *job
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "transfer_" + uuid.NewString() }
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = 1000
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "transfer_manager").Logger(),
	}
}

// Start validates req and launches a new job if the slot is free.
func (m *Manager) Start(req models.TransferRequest) (models.TransferSnapshot, error) {
	spec, src, dst, err := req.Validate(m.opts.Location)
	if err != nil {
		return models.TransferSnapshot{}, err
	}

	m.mu.Lock()
	if m.current != nil && m.current.phase.Running() {
		m.mu.Unlock()
		return models.TransferSnapshot{}, ErrJobAlreadyRunning
	}
	j := &job{
		id:        m.opts.NewID(),
		spec:      spec,
		source:    src,
		dest:      dst,
		phase:     models.PhaseInitializing,
		totalRows: -1,
		startedAt: m.opts.Clock(),
		logs:      newLogRing(m.opts.LogCapacity),
		done:      make(chan struct{}),
	}
	m.current = j
	m.appendLog(j, fmt.Sprintf("Starting %s transfer %s -> %s (batch size %d)", spec.Mode, spec.SourceName(), spec.DestName(), spec.BatchSize))
	snap := j.snapshot()
	metrics.TransferRunning.Set(1)
	m.mu.Unlock()

	metrics.TransfersStarted.WithLabelValues(string(spec.Mode)).Inc()
	go m.run(m.opts.BaseContext, j)
	return snap, nil
}

// Stop asks the running job to halt at its next safe point. It returns false
// when nothing was running.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.current
	if j == nil || !j.phase.Running() {
		return false
	}
	if !j.stop.Stopped() {
		j.stop.Stop()
		m.appendLog(j, "Stop requested, the transfer will halt after the current step")
	}
	return true
}

// Status never waits on the worker.
func (m *Manager) Status() models.TransferSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return models.TransferSnapshot{Phase: models.PhaseIdle, TotalRows: -1}
	}
	return m.current.snapshot()
}

func (m *Manager) Logs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return []string{}
	}
	return m.current.logs.lines()
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed once the current job's worker has exited.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return closedCh
	}
	return m.current.done
}

// Wait blocks until the current worker exits or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("transfer_id", j.id).Interface("panic", r).Msg("transfer worker panicked")
			m.finish(j, models.PhaseFailed, fmt.Errorf("internal error: %v", r))
		}
	}()

	err := m.execute(ctx, j)
	switch {
	case err == nil:
		m.finish(j, models.PhaseCompleted, nil)
	case errors.Is(err, ErrCancelled):
		m.finish(j, models.PhaseStopped, nil)
	default:
		m.finish(j, models.PhaseFailed, err)
	}
}

func (m *Manager) execute(ctx context.Context, j *job) error {
	spec := j.spec

	m.appendLogLocked(j, "Connecting to source "+j.source.Redacted())
	src, err := m.opts.Connector.Connect(ctx, j.source)
	if err != nil {
		return errors.Wrap(err, "source")
	}
	defer src.Close()

	m.appendLogLocked(j, "Connecting to destination "+j.dest.Redacted())
	dst, err := m.opts.Connector.Connect(ctx, j.dest)
	if err != nil {
		return errors.Wrap(err, "destination")
	}
	defer dst.Close()

	if err := m.checkpoint(j, models.PhaseCountingRows, "Counting rows in "+spec.SourceName()+"..."); err != nil {
		return err
	}
	// The daily window is fixed by the start time, not by when counting begins.
	p, err := newPlan(ctx, src, spec, j.startedAt.In(m.opts.Location))
	if err != nil {
		return err
	}
	if p.filter != nil {
		m.appendLogLocked(j, fmt.Sprintf("Selecting rows with %s in %s", p.filter.Column, describeFilter(p.filter)))
	}
	total, err := estimate(ctx, src, p)
	if err != nil {
		return err
	}
	m.setTotal(j, total)

	if err := m.checkpoint(j, models.PhaseCreatingTables, "Preparing destination table "+spec.DestName()+"..."); err != nil {
		return err
	}
	if err := prepareDestination(ctx, dst, p, spec, func(msg string) { m.appendLogLocked(j, msg) }); err != nil {
		return err
	}

	tolerance := m.opts.VerifyTolerance
	if spec.Mode == models.TransferModeFull {
		tolerance = 0
	}

	if err := m.checkpoint(j, models.PhaseTransferring, "Starting data transfer..."); err != nil {
		return err
	}
	c := &copier{
		src:       src,
		dst:       dst,
		plan:      p,
		batchSize: spec.BatchSize,
		stop:      &j.stop,
		clock:     m.opts.Clock,
		onBatch:   func(rows int, elapsed time.Duration) { m.recordBatch(j, rows, elapsed) },
	}
	copied, err := c.run(ctx, total)
	if err != nil {
		return err
	}
	m.appendLogLocked(j, fmt.Sprintf("Copied %d rows in %d batches", copied, c.batches))
	if short := total - copied; short > 0 {
		m.appendLogLocked(j, fmt.Sprintf("Source returned %d fewer rows than counted (%d of %d copied)", short, copied, total))
		if short > tolerance {
			return errors.Wrapf(ErrIncompleteTransfer, "copied %d of %d rows", copied, total)
		}
	}

	if !spec.Verify {
		return nil
	}
	if err := m.checkpoint(j, models.PhaseVerifying, "Verifying transfer..."); err != nil {
		return err
	}
	res, err := verify(ctx, src, dst, p, spec.Mode, tolerance)
	if err != nil {
		return err
	}
	m.appendLogLocked(j, fmt.Sprintf("Verification - Source: %d, Destination: %d", res.SourceCount, res.DestCount))
	if !res.Matched {
		return errors.Wrapf(ErrVerificationMismatch, "source has %d rows, destination has %d", res.SourceCount, res.DestCount)
	}
	m.appendLogLocked(j, "Verification passed")
	if j.stop.Stopped() {
		return ErrCancelled
	}
	return nil
}

// checkpoint is a safe point: it honours a pending stop, then advances.
func (m *Manager) checkpoint(j *job, next models.Phase, msg string) error {
	if j.stop.Stopped() {
		return ErrCancelled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !j.phase.CanAdvanceTo(next) {
		return errors.Errorf("illegal phase transition %s -> %s", j.phase, next)
	}
	j.phase = next
	m.appendLog(j, msg)
	return nil
}

func (m *Manager) setTotal(j *job, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.totalRows = total
	m.appendLog(j, fmt.Sprintf("Found %d rows to transfer", total))
}

func (m *Manager) recordBatch(j *job, rows int, elapsed time.Duration) {
	metrics.RowsTransferred.Add(float64(rows))
	metrics.BatchLatency.Observe(elapsed.Seconds())

	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	j.transferred += int64(rows)
	j.batch++

	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(rows) / secs
	}
	pct := 0.0
	if j.totalRows > 0 {
		pct = float64(j.transferred) / float64(j.totalRows) * 100
	}
	m.appendLog(j, fmt.Sprintf("Batch %d: %d rows (%d/%d, %.1f%%) in %.2fs - %.0f rows/sec",
		j.batch, rows, j.transferred, j.totalRows, pct, elapsed.Seconds(), rate))

	if total := j.totalRows; total > 0 && j.transferred > 0 {
		if sofar := now.Sub(j.startedAt).Seconds(); sofar > 0 {
			perSec := float64(j.transferred) / sofar
			remaining := time.Duration(float64(total-j.transferred) / perSec * float64(time.Second))
			eta := now.Add(remaining)
			j.eta = &eta
		}
	}
}

func (m *Manager) finish(j *job, phase models.Phase, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.phase.Terminal() {
		return
	}
	now := m.opts.Clock()
	j.phase = phase
	j.completedAt = &now
	metrics.TransferRunning.Set(0)

	switch phase {
	case models.PhaseCompleted:
		m.appendLog(j, fmt.Sprintf("Transfer completed successfully: %d rows in %s", j.transferred, now.Sub(j.startedAt).Round(time.Millisecond)))
	case models.PhaseStopped:
		m.appendLog(j, fmt.Sprintf("Transfer stopped by user after %d rows (%d batches)", j.transferred, j.batch))
	case models.PhaseFailed:
		j.errMsg = cause.Error()
		m.appendLog(j, "Transfer failed: "+j.errMsg)
		if j.transferred > 0 {
			m.appendLog(j, fmt.Sprintf("%d rows already written to %s were kept", j.transferred, j.spec.DestName()))
		}
	}
	metrics.TransfersFinished.WithLabelValues(string(phase)).Inc()
}

// appendLog requires m.mu held for writing.
func (m *Manager) appendLog(j *job, msg string) {
	now := m.opts.Clock()
	j.logs.append(now.Format(time.RFC3339) + ": " + msg)

	evt := m.logger.Info()
	if j.phase == models.PhaseFailed {
		evt = m.logger.Error()
	}
	evt.Str("transfer_id", j.id).Str("phase", string(j.phase)).Msg(msg)
}

func (m *Manager) appendLogLocked(j *job, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLog(j, msg)
}
