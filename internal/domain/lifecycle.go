package domain

import "time"

// legalTransitions enumerates every edge of the job state machine. The store
// enforces the same table through conditional updates; this mirror exists for
// guard checks and tests.
var legalTransitions = map[State][]State{
	StateNew:        {StateQueued, StateCancelled},
	StateQueued:     {StateProcessing, StateCancelled},
	StateProcessing: {StateDone, StateError, StateQueued, StateCancelled},
	StateError:      {StateQueued, StateFailed, StateCancelled},
}

// CanTransition reports whether the state machine admits from -> to.
func CanTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a user cancel is legal from s.
func Cancellable(s State) bool { return CanTransition(s, StateCancelled) }

// RetryPolicy bounds lease reclamation.
type RetryPolicy struct {
	Timeout     time.Duration
	Grace       time.Duration
	MaxAttempts int
}

// StaleThreshold returns the last_change cutoff below which a processing job
// counts as stale.
func (p RetryPolicy) StaleThreshold(now time.Time) time.Time {
	return now.Add(-(p.Timeout + p.Grace))
}

// Retryable reports whether a job in the given state with the given
// last_change is eligible for reclassification. Error jobs are immediately
// eligible; processing jobs only once the lease plus grace has elapsed.
func (p RetryPolicy) Retryable(s State, lastChange, now time.Time) bool {
	switch s {
	case StateError:
		return true
	case StateProcessing:
		return lastChange.Before(p.StaleThreshold(now))
	}
	return false
}

// Requeue decides the sweeper outcome for a retryable job: true means back to
// the queue, false means the attempt budget is exhausted and the job fails.
// Each entry into processing consumes one attempt, so a job may be requeued
// while previousAttempts < MaxAttempts.
func (p RetryPolicy) Requeue(previousAttempts int) bool {
	return previousAttempts < p.MaxAttempts
}

// LeaseFor derives the lease granted by a heartbeat or claim at the given
// server time.
func (p RetryPolicy) LeaseFor(now time.Time) Lease {
	return Lease{Deadline: now.Add(p.Timeout), ServerTime: now}
}

// Ready is the readiness predicate deciding NEW -> QUEUED: every image has
// its image uploaded, ALTO and PAGE are uploaded wherever required, and the
// metadata requirement is satisfied. The store evaluates the same predicate
// as a single SQL expression inside the promotion update; this mirror serves
// views and tests.
func Ready(j Job, images []Image) bool {
	if j.MetaJSONRequired && !j.MetaJSONUploaded {
		return false
	}
	for _, img := range images {
		if !img.ImageUploaded {
			return false
		}
		if j.AltoRequired && !img.AltoUploaded {
			return false
		}
		if j.PageRequired && !img.PageUploaded {
			return false
		}
	}
	return true
}

// ClampProgress forces p into [0, 1].
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// AppendLog concatenates entry onto log, inserting a newline separator when
// the existing text does not already end in one.
func AppendLog(log, entry string) string {
	if entry == "" {
		return log
	}
	if log == "" || log[len(log)-1] == '\n' {
		return log + entry
	}
	return log + "\n" + entry
}
