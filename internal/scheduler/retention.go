package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/database"
)

// RetentionScheduler periodically prunes finished import requests and their
// staging directories.
type RetentionScheduler struct {
	db  *database.Database
	cfg config.Retention

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	isPruning  bool
	cancelFunc context.CancelFunc
}

// NewRetentionScheduler creates a new scheduler instance
func NewRetentionScheduler(db *database.Database, cfg config.Retention) *RetentionScheduler {
	return &RetentionScheduler{
		db:   db,
		cfg:  cfg,
		cron: cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the scheduler if retention pruning is enabled
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if !s.cfg.Enabled {
		log.Printf("Retention scheduler: disabled")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.runPrune()
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule '%s': %w", s.cfg.Schedule, err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Retention scheduler: started with schedule '%s' (keeping requests for %d days)",
		s.cfg.Schedule, s.cfg.Days)

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scheduler
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Retention scheduler: stopped")
}

// RunNow triggers an immediate pruning pass
func (s *RetentionScheduler) RunNow() error {
	go s.runPrune()
	return nil
}

// IsRunning returns whether the scheduler is active
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next pruning pass will occur
func (s *RetentionScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}

	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

// runPrune performs the actual pruning pass
func (s *RetentionScheduler) runPrune() {
	s.mu.Lock()
	if s.isPruning {
		s.mu.Unlock()
		log.Printf("Retention prune: skipped (already running)")
		return
	}
	s.isPruning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isPruning = false
		s.mu.Unlock()
	}()

	days := s.cfg.Days
	if days <= 0 {
		days = 7
	}
	retention := time.Duration(days) * 24 * time.Hour

	expired, err := s.db.GetExpiredRequests(retention)
	if err != nil {
		log.Printf("Retention prune: failed to list expired requests: %v", err)
		return
	}
	if len(expired) == 0 {
		log.Printf("Retention prune: nothing to remove")
		return
	}

	startTime := time.Now()
	deleted := 0
	for _, req := range expired {
		if req.StagingDir != "" {
			if err := os.RemoveAll(req.StagingDir); err != nil {
				log.Printf("Retention prune: failed to remove staging dir %s: %v", req.StagingDir, err)
			}
		}
		if err := s.db.DeleteImportRequest(req.ID); err != nil {
			log.Printf("Retention prune: failed to delete request %d: %v", req.ID, err)
			continue
		}
		deleted++
	}

	log.Printf("Retention prune: removed %d of %d expired requests in %v",
		deleted, len(expired), time.Since(startTime).Round(time.Millisecond))
}
