package procmgr

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/nibzard/apex/internal/apexerr"
)

// SpawnBreaker wraps Manager.Spawn with a circuit breaker per kind, so
// a run of subprocess spawn failures (missing binary, exhausted file
// descriptors) fails fast instead of retrying into the same hole.
// Grounded on the teacher's use of a half-open probationary state in
// internal/captain/supervisor.go's crash-loop detector, generalized
// from a hand-rolled window counter to sony/gobreaker.
type SpawnBreaker struct {
	mgr *Manager
	cbs map[Kind]*gobreaker.CircuitBreaker[Record]
}

// NewSpawnBreaker wraps mgr with one breaker per process kind, tripping
// after 5 consecutive spawn failures and probing again after 30s.
func NewSpawnBreaker(mgr *Manager) *SpawnBreaker {
	sb := &SpawnBreaker{mgr: mgr, cbs: make(map[Kind]*gobreaker.CircuitBreaker[Record])}
	for _, k := range []Kind{KindWorker, KindUtility} {
		sb.cbs[k] = gobreaker.NewCircuitBreaker[Record](gobreaker.Settings{
			Name:        "spawn:" + string(k),
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A refusal at the concurrency cap is not a failed launch and
			// does not count toward tripping the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || apexerr.Is(err, apexerr.ResourceExhausted)
			},
		})
	}
	return sb
}

// Spawn runs Manager.Spawn through the breaker for kind, returning a
// Critical apexerr when the breaker is open rather than attempting
// another doomed subprocess launch.
func (sb *SpawnBreaker) Spawn(taskID, role string, kind Kind, cmdLine []string) (Record, error) {
	cb := sb.cbs[kind]
	rec, err := cb.Execute(func() (Record, error) {
		return sb.mgr.Spawn(taskID, role, kind, cmdLine)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Record{}, apexerr.New(apexerr.Critical, component, "Spawn", err)
		}
		return Record{}, err
	}
	return rec, nil
}

// CheckStatus and Terminate pass straight through to the wrapped
// Manager -- the breaker only guards Spawn, since those two never
// launch a subprocess themselves.
func (sb *SpawnBreaker) CheckStatus(processID string) (Record, error) {
	return sb.mgr.CheckStatus(processID)
}

func (sb *SpawnBreaker) Terminate(processID string) error {
	return sb.mgr.Terminate(processID)
}
