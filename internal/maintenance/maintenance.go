// Package maintenance runs the broker's background housekeeping on a cron
// schedule: pruning expired push dedup state and an optional periodic
// operational summary log line.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alertd/internal/registry"
	"alertd/internal/storage"
	"alertd/internal/store"
	"alertd/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Config controls the maintenance schedules. Cron specs use the standard
// five-field format plus descriptors (@hourly, @every 10m, ...).
type Config struct {
	Enabled bool
	// PruneSchedule defaults to "@hourly".
	PruneSchedule string
	// SummarySchedule is off when empty.
	SummarySchedule string
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron

	store storage.Store // optional
	ring  *store.Store
	reg   *registry.Registry
}

func New(cfg Config, st storage.Store, ring *store.Store, reg *registry.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "@hourly"
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		store:  st,
		ring:   ring,
		reg:    reg,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(s.parser))

	if s.store != nil {
		if _, err := c.AddFunc(s.cfg.PruneSchedule, func() { s.pruneDedup(ctx) }); err != nil {
			return fmt.Errorf("maintenance.prune_schedule: %w", err)
		}
	}
	if s.cfg.SummarySchedule != "" {
		if _, err := c.AddFunc(s.cfg.SummarySchedule, s.logSummary); err != nil {
			return fmt.Errorf("maintenance.summary_schedule: %w", err)
		}
	}

	c.Start()
	s.c = c
	s.log.Debug("maintenance started",
		logx.String("prune", s.cfg.PruneSchedule), logx.String("summary", s.cfg.SummarySchedule))
	return nil
}

// Stop waits for in-flight jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

func (s *Service) pruneDedup(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.store.PruneDedup(pctx); err != nil {
		s.log.Warn("dedup prune failed", logx.Err(err))
		return
	}
	s.log.Debug("dedup pruned")
}

func (s *Service) logSummary() {
	fields := []logx.Field{}
	if s.ring != nil {
		fields = append(fields, logx.Int("alerts_stored", s.ring.Len()), logx.Int64("last_id", s.ring.LastID()))
	}
	if s.reg != nil {
		fields = append(fields, logx.Int("identities", s.reg.Len()))
	}
	s.log.Info("broker summary", fields...)
}
