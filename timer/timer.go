// Package timer schedules cancellable one-shot tasks.
package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handle cancels a scheduled task. Cancel is safe to call more than once and
// after the task has run.
type Handle interface {
	Cancel()
}

type Scheduler interface {
	After(d time.Duration, task func()) Handle
}

// GocronScheduler runs each task as a gocron one-time job.
type GocronScheduler struct {
	s gocron.Scheduler
}

func NewGocronScheduler(opts ...gocron.SchedulerOption) (*GocronScheduler, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	s.Start()
	return &GocronScheduler{s: s}, nil
}

func (g *GocronScheduler) After(d time.Duration, task func()) Handle {
	run := guarded(task)

	start := gocron.OneTimeJobStartImmediately()
	if d > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(d))
	}
	// A one-time job stays registered after it runs unless its run count is limited.
	job, err := g.s.NewJob(gocron.OneTimeJob(start), gocron.NewTask(run), gocron.WithLimitedRuns(1))
	if err != nil {
		log.Warn().Err(err).Dur("delay", d).Msg("gocron rejected job, falling back to runtime timer")
		return &runtimeHandle{t: time.AfterFunc(d, run)}
	}
	return &jobHandle{s: g.s, id: job.ID()}
}

func (g *GocronScheduler) Shutdown() error {
	return g.s.Shutdown()
}

type jobHandle struct {
	s    gocron.Scheduler
	id   uuid.UUID
	once sync.Once
}

func (h *jobHandle) Cancel() {
	h.once.Do(func() {
		if err := h.s.RemoveJob(h.id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			log.Warn().Err(err).Str("jobID", h.id.String()).Msg("Failed to remove scheduled job")
		}
	})
}

type runtimeHandle struct {
	t *time.Timer
}

func (h *runtimeHandle) Cancel() {
	h.t.Stop()
}

// guarded keeps a panicking task from taking the scheduler down with it.
func guarded(task func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Scheduled task panicked")
			}
		}()
		task()
	}
}

// RuntimeScheduler uses plain runtime timers. It needs no lifecycle and is
// the fallback when no scheduler is configured.
type RuntimeScheduler struct{}

func (RuntimeScheduler) After(d time.Duration, task func()) Handle {
	return &runtimeHandle{t: time.AfterFunc(d, guarded(task))}
}
