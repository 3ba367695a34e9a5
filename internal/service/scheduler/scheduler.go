// Package scheduler runs pipeline jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"RiskPull/pkg/logger"
)

// ErrLocked is returned by Run when another run of the job holds the lock.
var ErrLocked = errors.New("job already running")

// Locker guards a job against overlapping runs, across processes when backed by Redis.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type JobFunc func(ctx context.Context) error

// JobStatus is the last known state of a registered job.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type jobEntry struct {
	name     string
	schedule string
	fn       JobFunc
	cronID   cron.EntryID
	running  bool
	lastRun  *time.Time
	lastErr  string
}

type Option func(*Service)

// WithLockTTL bounds how long a crashed run can block the next one.
func WithLockTTL(d time.Duration) Option { return func(s *Service) { s.lockTTL = d } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }

// WithTimeout caps a single run; zero means no limit.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

type Service struct {
	cron    *cron.Cron
	lock    Locker
	lockTTL time.Duration
	timeout time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewService creates a scheduler. A nil locker only prevents overlap in process.
func NewService(lock Locker, opts ...Option) *Service {
	s := &Service{
		cron:    cron.New(),
		lock:    lock,
		lockTTL: 6 * time.Hour,
		log:     logger.Nop(),
		jobs:    make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register adds a job under a standard five field cron expression.
func (s *Service) Register(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	entry := &jobEntry{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.Run(s.ctx, name); err != nil && !errors.Is(err, ErrLocked) {
			s.log.Error("scheduled job failed", logger.String("job", name), logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	entry.cronID = id
	s.jobs[name] = entry
	s.log.Info("job registered", logger.String("job", name), logger.String("schedule", schedule))
	return nil
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lockKey(name string) string { return "scheduler:lock:" + name }

// Run executes a job now, unless a run of the same job is in flight.
func (s *Service) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown job %s", name)
	}
	if entry.running {
		s.mu.Unlock()
		s.log.Warn("job skipped, previous run still active", logger.String("job", name))
		return ErrLocked
	}
	entry.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		entry.running = false
		s.mu.Unlock()
	}()

	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, lockKey(name), s.lockTTL)
		if err != nil {
			return fmt.Errorf("lock %s: %w", name, err)
		}
		if !ok {
			s.log.Warn("job skipped, lock held elsewhere", logger.String("job", name))
			return ErrLocked
		}
		defer func() {
			if err := s.lock.Unlock(context.Background(), lockKey(name)); err != nil {
				s.log.Warn("unlock failed", logger.String("job", name), logger.Error(err))
			}
		}()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Info("job started", logger.String("job", name))
	err := entry.fn(ctx)

	s.mu.Lock()
	now := start.UTC()
	entry.lastRun = &now
	entry.lastErr = ""
	if err != nil {
		entry.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.log.Info("job finished", logger.String("job", name), logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Status lists the registered jobs.
func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := JobStatus{Name: e.name, Schedule: e.schedule, Running: e.running, LastRun: e.lastRun, LastError: e.lastErr}
		if next := s.cron.Entry(e.cronID).Next; !next.IsZero() {
			st.NextRun = &next
		}
		out = append(out, st)
	}
	return out
}
