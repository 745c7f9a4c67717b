package jobobject

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/lager/v3"
)

const DefaultPollInterval = time.Second

// Limits watches a job's peak memory against its limit and notifies once
// per change in either value that leaves the peak at or above the limit.
type Limits struct {
	job      JobObject
	clock    clock.Clock
	interval time.Duration
	logger   lager.Logger

	mu                   sync.Mutex
	onMemoryLimitReached func()
	polled               bool
	lastPeak             uint64
	lastLimit            uint64
	stop                 chan struct{}
	done                 chan struct{}
	closed               bool
}

func NewLimits(job JobObject, clock clock.Clock, interval time.Duration, logger lager.Logger) *Limits {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Limits{
		job:      job,
		clock:    clock,
		interval: interval,
		logger:   logger.Session("job-object-limits"),
	}
}

// OnMemoryLimitReached replaces any previously registered callback.
func (l *Limits) OnMemoryLimitReached(callback func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onMemoryLimitReached = callback
}

func (l *Limits) LimitMemory(limitInBytes uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ironframe.ErrDisposed
	}

	err := l.job.SetJobMemoryLimit(limitInBytes)
	if err != nil {
		return err
	}

	if l.stop == nil {
		l.stop = make(chan struct{})
		l.done = make(chan struct{})

		go l.poll(l.stop, l.done)
	}

	return nil
}

func (l *Limits) Close() error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return nil
	}

	l.closed = true
	stop, done := l.stop, l.done

	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	return nil
}

func (l *Limits) poll(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			l.check()
		case <-stop:
			return
		}
	}
}

func (l *Limits) check() {
	l.mu.Lock()

	peak, err := l.job.GetPeakJobMemoryUsed()
	if err != nil {
		l.mu.Unlock()
		l.logger.Error("failed-to-get-peak-memory", err)
		return
	}

	limit, err := l.job.GetJobMemoryLimit()
	if err != nil {
		l.mu.Unlock()
		l.logger.Error("failed-to-get-memory-limit", err)
		return
	}

	changed := !l.polled || peak != l.lastPeak || limit != l.lastLimit
	reached := changed && limit > 0 && peak >= limit

	l.polled = true
	l.lastPeak = peak
	l.lastLimit = limit

	callback := l.onMemoryLimitReached

	l.mu.Unlock()

	if reached {
		l.logger.Info("memory-limit-reached", lager.Data{"peak": peak, "limit": limit})

		if callback != nil {
			callback()
		}
	}
}
