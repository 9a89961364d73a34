package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one housekeeping job. Run returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// MaintenanceScheduler runs housekeeping tasks on a fixed interval.
type MaintenanceScheduler struct {
	tasks         []Task
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	checkInterval time.Duration
	taskTimeout   time.Duration
}

// NewMaintenanceScheduler creates a scheduler for tasks. A non-positive
// interval falls back to ten minutes.
func NewMaintenanceScheduler(tasks []Task, interval time.Duration, logger *slog.Logger) *MaintenanceScheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceScheduler{
		tasks:         tasks,
		logger:        logger,
		stopChan:      make(chan struct{}),
		checkInterval: interval,
		taskTimeout:   time.Minute,
	}
}

// Start begins the scheduler loop and blocks until Stop or ctx cancellation.
func (s *MaintenanceScheduler) Start(ctx context.Context) {
	s.logger.Info("starting maintenance scheduler",
		"check_interval", s.checkInterval,
		"tasks", len(s.tasks))
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Run once immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler. It is safe to call more than once.
func (s *MaintenanceScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce executes every task in order. A failing task is logged and does not
// stop the ones after it.
func (s *MaintenanceScheduler) RunOnce(ctx context.Context) {
	for _, task := range s.tasks {
		taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
		start := time.Now()
		removed, err := task.Run(taskCtx)
		cancel()

		if err != nil {
			s.logger.Error("maintenance task failed", "task", task.Name, "error", err)
			continue
		}
		if removed > 0 {
			s.logger.Info("maintenance task completed",
				"task", task.Name,
				"removed", removed,
				"duration_ms", time.Since(start).Milliseconds())
		} else {
			s.logger.Debug("maintenance task found nothing to remove", "task", task.Name)
		}
	}
}
