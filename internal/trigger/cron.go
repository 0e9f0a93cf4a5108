// Package trigger posts backup-trigger messages onto a shared channel:
// one cron job per source, one debounced FS-event watcher, and a
// size-gated minimum interval for cron fires (spec §4.8).
package trigger

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs one cron job per source, posting the source's directory
// onto Fires whenever that source's schedule comes due. Jobs can be
// added, replaced, or removed at runtime to support hot-reload.
type Scheduler struct {
	Fires chan string

	c         *cron.Cron
	mu        sync.Mutex
	jobs      map[string]cron.EntryID // source dir -> cron entry
	schedules map[string]string       // source dir -> schedule string, to detect no-op updates
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		Fires:     make(chan string, 64),
		c:         cron.New(cron.WithParser(parser)),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
	}
}

// Schedule adds or replaces the cron job for sourceDir. A no-op if
// sourceDir is already scheduled with the same schedule string.
func (s *Scheduler) Schedule(sourceDir, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.schedules[sourceDir]; ok && existing == schedule {
		return nil
	}
	if entry, ok := s.jobs[sourceDir]; ok {
		s.c.Remove(entry)
		delete(s.jobs, sourceDir)
	}

	entry, err := s.c.AddFunc(schedule, func() {
		select {
		case s.Fires <- sourceDir:
		default:
			log.Printf("trigger: cron fire for %s dropped, channel full", sourceDir)
		}
	})
	if err != nil {
		return err
	}
	s.jobs[sourceDir] = entry
	s.schedules[sourceDir] = schedule
	return nil
}

// Remove cancels sourceDir's cron job, if any.
func (s *Scheduler) Remove(sourceDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.jobs[sourceDir]; ok {
		s.c.Remove(entry)
		delete(s.jobs, sourceDir)
		delete(s.schedules, sourceDir)
	}
}

// Sync reconciles the scheduler's job set with schedules (source dir ->
// cron schedule string), adding new sources, updating changed schedules,
// and removing sources no longer present.
func (s *Scheduler) Sync(schedules map[string]string) {
	s.mu.Lock()
	var stale []string
	for dir := range s.jobs {
		if _, ok := schedules[dir]; !ok {
			stale = append(stale, dir)
		}
	}
	s.mu.Unlock()

	for _, dir := range stale {
		s.Remove(dir)
	}
	for dir, sched := range schedules {
		if err := s.Schedule(dir, sched); err != nil {
			log.Printf("trigger: failed to schedule %s: %v", dir, err)
		}
	}
}

func (s *Scheduler) Start() { s.c.Start() }

func (s *Scheduler) Stop() { s.c.Stop() }
