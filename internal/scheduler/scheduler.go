package scheduler

import (
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/config"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/transfer"
)

// Starter is satisfied by *transfer.Manager.
type Starter interface {
	Start(req models.TransferRequest) (models.TransferSnapshot, error)
}

// Scheduler fires configured transfers on cron schedules. A trigger that finds
// another transfer running is skipped, not queued.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(starter Starter, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(NewCronLogger(logger)),
			cron.WithChain(cron.Recover(NewCronLogger(logger))),
		),
		starter: starter,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers one schedule. The request is validated up front so a bad
// entry fails at startup rather than on every tick.
func (s *Scheduler) Add(sc config.ScheduleConfig) error {
	if _, _, _, err := sc.Request.Validate(nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sc.Name]; ok {
		return errors.New("schedule " + sc.Name + " already registered")
	}

	name, req := sc.Name, sc.Request
	id, err := s.cron.AddFunc(sc.Cron, func() { s.trigger(name, req) })
	if err != nil {
		return err
	}
	s.entries[name] = id
	s.logger.Info().Str("schedule", name).Str("cron", sc.Cron).Msg("scheduled transfer")
	return nil
}

func (s *Scheduler) trigger(name string, req models.TransferRequest) {
	snap, err := s.starter.Start(req)
	switch {
	case errors.Is(err, transfer.ErrJobAlreadyRunning):
		s.logger.Warn().Str("schedule", name).Msg("transfer already running, skipping scheduled run")
	case err != nil:
		s.logger.Error().Err(err).Str("schedule", name).Msg("scheduled transfer failed to start")
	default:
		s.logger.Info().Str("schedule", name).Str("transfer_id", snap.ID).Msg("scheduled transfer started")
	}
}

// Entries lists registered schedule names with their next run.
func (s *Scheduler) Entries() map[string]cron.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]cron.Entry, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id)
	}
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("schedules", len(s.entries)).Msg("scheduler started")
}

// Stop prevents new triggers and waits for running trigger funcs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}
