package procmgr

import (
	"sync"
	"time"
)

// RestartPolicy optionally respawns a workload whose process exits
// before it is marked done, up to maxRespawns within windowDuration,
// after which it gives up and leaves the last record's status as-is.
// Disabled by default per spec §9 Open Question (b): one-shot workers
// are not restarted unless a caller opts a task id in. Grounded on the
// teacher's internal/captain/supervisor.go crash-loop counter.
type RestartPolicy struct {
	mgr  *Manager
	tick time.Duration

	maxRespawns    int
	windowDuration time.Duration

	mu      sync.Mutex
	watched map[string]*respawnState // taskID -> state
	stop    chan struct{}
}

type respawnState struct {
	spawn         func() ([]string, string, Kind) // returns (cmdLine, role, kind) for a fresh attempt
	processID     string
	respawnCount  int
	windowStart   time.Time
}

// NewRestartPolicy constructs a policy that ticks every interval
// (default 1s per spec §4.D) checking watched task ids.
func NewRestartPolicy(mgr *Manager, tick time.Duration, maxRespawns int, windowDuration time.Duration) *RestartPolicy {
	if tick <= 0 {
		tick = time.Second
	}
	if maxRespawns <= 0 {
		maxRespawns = 3
	}
	if windowDuration <= 0 {
		windowDuration = time.Minute
	}
	return &RestartPolicy{
		mgr:            mgr,
		tick:           tick,
		maxRespawns:    maxRespawns,
		windowDuration: windowDuration,
		watched:        make(map[string]*respawnState),
		stop:           make(chan struct{}),
	}
}

// Watch registers processID for restart-on-exit, using spawn to build
// a fresh launch when it is observed terminal and DesiredRunning.
func (rp *RestartPolicy) Watch(taskID, processID string, spawn func() ([]string, string, Kind)) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.watched[taskID] = &respawnState{spawn: spawn, processID: processID, windowStart: time.Now()}
}

// Run blocks, ticking the restart check until Stop is called.
func (rp *RestartPolicy) Run() {
	ticker := time.NewTicker(rp.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rp.checkAll()
		case <-rp.stop:
			return
		}
	}
}

func (rp *RestartPolicy) Stop() { close(rp.stop) }

func (rp *RestartPolicy) checkAll() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	for taskID, st := range rp.watched {
		rec, err := rp.mgr.CheckStatus(st.processID)
		if err != nil || !rec.Status.Terminal() || !rec.DesiredRunning {
			continue
		}
		if rec.Status == StatusCompleted {
			delete(rp.watched, taskID)
			continue
		}

		if time.Since(st.windowStart) > rp.windowDuration {
			st.windowStart = time.Now()
			st.respawnCount = 0
		}
		if st.respawnCount >= rp.maxRespawns {
			rp.mgr.log.Printf("task %s exceeded %d respawns within %s, giving up", taskID, rp.maxRespawns, rp.windowDuration)
			delete(rp.watched, taskID)
			continue
		}

		cmdLine, role, kind := st.spawn()
		newRec, err := rp.mgr.Spawn(taskID, role, kind, cmdLine)
		if err != nil {
			rp.mgr.log.Printf("respawn task %s: %v", taskID, err)
			continue
		}
		st.respawnCount++
		st.processID = newRec.ProcessID
	}
}
