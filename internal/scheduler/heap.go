// Package scheduler runs named recurring jobs off a min-heap of due times.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// JobFunc is the work done on every run of a job
type JobFunc func(ctx context.Context)

// job is a recurring task ordered by its next due time
type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	dueAt    time.Time
	running  bool
	runs     int
	index    int // index in the heap, -1 while running or removed
}

// jobHeap is a min-heap of jobs ordered by dueAt
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].dueAt.Before(h[j].dueAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil // avoid memory leak
	j.index = -1
	*h = old[0 : n-1]
	return j
}

// Scheduler runs each job every interval. A job never overlaps itself: the
// next run is scheduled one interval after the previous run returns.
type Scheduler struct {
	mu      sync.Mutex
	heap    jobHeap
	jobs    map[string]*job
	wakeup  chan struct{}
	log     logrus.FieldLogger
	now     func() time.Time
	started bool
	stopped bool

	cancel context.CancelFunc
	loopWg sync.WaitGroup
	jobWg  sync.WaitGroup
}

// New creates a stopped scheduler
func New(log logrus.FieldLogger) *Scheduler {
	s := &Scheduler{
		heap:   make(jobHeap, 0),
		jobs:   make(map[string]*job),
		wakeup: make(chan struct{}, 1),
		log:    log.WithField("component", "scheduler"),
		now:    time.Now,
	}
	heap.Init(&s.heap)
	return s
}

// Every registers fn to run every interval, first after one interval has
// passed. Registering an existing name replaces that job.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	s.removeLocked(name)

	j := &job{name: name, interval: interval, fn: fn, dueAt: s.now().Add(interval), index: -1}
	s.jobs[name] = j
	heap.Push(&s.heap, j)
	s.signal()
	return nil
}

// Cancel removes a job. A run already in progress finishes.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if j.index >= 0 {
		heap.Remove(&s.heap, j.index)
	}
	delete(s.jobs, name)
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Start runs the scheduling loop until Stop is called or ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.loopWg.Add(1)
	go s.run(ctx)
}

// Stop stops scheduling and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loopWg.Wait()
	s.jobWg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.loopWg.Done()

	for {
		s.mu.Lock()

		waitDuration := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			waitDuration = next.dueAt.Sub(s.now())

			if waitDuration <= 0 {
				j := heap.Pop(&s.heap).(*job)
				j.running = true
				s.jobWg.Add(1)
				go s.execute(ctx, j)

				s.mu.Unlock()
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	defer s.jobWg.Done()

	start := s.now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithFields(logrus.Fields{"job": j.name, "panic": r}).Error("Job panicked")
			}
		}()
		j.fn(ctx)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	j.running = false
	j.runs++
	s.log.WithFields(logrus.Fields{"job": j.name, "took": s.now().Sub(start)}).Debug("Job finished")

	// cancelled or replaced while running
	if s.stopped || s.jobs[j.name] != j {
		return
	}
	j.dueAt = s.now().Add(j.interval)
	heap.Push(&s.heap, j)
	s.signal()
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Jobs: len(s.jobs)}
	for _, j := range s.jobs {
		if j.running {
			st.Running++
		}
		st.Runs += j.runs
	}
	return st
}

// Stats contains statistics about the scheduler
type Stats struct {
	Jobs    int
	Running int
	Runs    int
}

var (
	ErrSchedulerStopped = &SchedulerError{"scheduler is stopped"}
	ErrInvalidInterval  = &SchedulerError{"job interval must be positive"}
)

// SchedulerError represents a scheduler error
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string {
	return e.msg
}
