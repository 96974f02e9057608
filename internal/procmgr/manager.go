package procmgr

import (
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nibzard/apex/internal/apexerr"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/streamparser"
	"github.com/nibzard/apex/internal/telemetry"
)

const component = "procmgr"

// process is the Manager's live bookkeeping for one subprocess; Record
// is the persisted, JSON-safe projection of it.
type process struct {
	rec    Record
	cmd    *exec.Cmd
	stdout *tailBuffer
	stderr *tailBuffer
}

// Manager spawns, tracks, and terminates worker and utility
// subprocesses, enforcing the hard per-kind concurrency caps, per spec
// §4.D. Grounded on the teacher's internal/agents/spawner.go.
type Manager struct {
	st  store.Store
	cfg config.ProcessConfig
	log *telemetry.Logger
	met *telemetry.Metrics

	mu     sync.Mutex
	active map[string]*process // process_id -> process
	counts map[Kind]int

	// OnExit, if set, is invoked (outside the lock) whenever a tracked
	// process reaches a terminal status. The Orchestrator/bus wiring
	// hooks this to publish process-exit events.
	OnExit func(Record)
}

// New constructs a Manager backed by st for persistence.
func New(st store.Store, cfg config.ProcessConfig, log *telemetry.Logger, met *telemetry.Metrics) *Manager {
	return &Manager{
		st:     st,
		cfg:    cfg,
		log:    log.With("procmgr"),
		met:    met,
		active: make(map[string]*process),
		counts: make(map[Kind]int),
	}
}

func (m *Manager) capFor(k Kind) int {
	if k == KindUtility {
		return m.cfg.MaxUtilities
	}
	return m.cfg.MaxWorkers
}

// Spawn launches a worker or utility subprocess for the given task and
// role, running cmdLine. It fails with ResourceExhausted if the
// per-kind concurrency cap is already reached.
func (m *Manager) Spawn(taskID, role string, kind Kind, cmdLine []string) (Record, error) {
	m.mu.Lock()
	if m.counts[kind] >= m.capFor(kind) {
		m.mu.Unlock()
		return Record{}, apexerr.New(apexerr.ResourceExhausted, component, "Spawn",
			fmt.Errorf("%s concurrency cap (%d) reached", kind, m.capFor(kind)))
	}
	m.counts[kind]++
	m.mu.Unlock()
	m.updateGauges()

	pid := uuid.NewString()
	cmd := exec.Command(cmdLine[0], cmdLine[1:]...)
	setpgid(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		m.release(kind)
		return Record{}, apexerr.New(apexerr.SubprocessFailure, component, "Spawn", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		m.release(kind)
		return Record{}, apexerr.New(apexerr.SubprocessFailure, component, "Spawn", err)
	}

	if err := cmd.Start(); err != nil {
		m.release(kind)
		return Record{}, apexerr.New(apexerr.SubprocessFailure, component, "Spawn", err)
	}

	p := &process{
		rec: Record{
			ProcessID:   pid,
			Kind:        kind,
			TaskID:      taskID,
			Role:        role,
			Status:      StatusStarting,
			PID:         cmd.Process.Pid,
			StartedAt:   time.Now(),
			CommandLine: cmdLine,
		},
		cmd:    cmd,
		stdout: newTailBuffer(maxTailLines),
		stderr: newTailBuffer(maxTailLines),
	}
	p.rec.Status = StatusRunning

	m.mu.Lock()
	m.active[pid] = p
	m.mu.Unlock()

	var stdoutFwd io.WriteCloser
	if kind == KindWorker {
		// Worker stdout is claude's --output-format stream-json (per
		// WorkerCommand); hand it to the Stream Parser concurrently
		// with tail capture, keyed by the process id so a caller can
		// later replay the session via streamparser.Events(pid).
		pr, pw := io.Pipe()
		stdoutFwd = pw
		parser := streamparser.New(m.st, pid)
		go func() {
			if err := parser.Consume(pr); err != nil {
				m.log.Printf("stream parser %s: %v", pid, err)
			}
		}()
	}
	go pump(stdoutPipe, p.stdout, stdoutFwd)
	go pump(stderrPipe, p.stderr, nil)

	timeout := m.cfg.WorkerTimeout
	if kind == KindUtility {
		timeout = m.cfg.UtilityTimeout
	}
	go m.monitor(p, timeout)

	if m.met != nil {
		m.met.ProcessesSpawned.Inc()
	}
	if err := m.persist(p.rec); err != nil {
		m.log.Printf("persist spawn record %s: %v", pid, err)
	}
	return p.rec, nil
}

func (m *Manager) release(kind Kind) {
	m.mu.Lock()
	m.counts[kind]--
	m.mu.Unlock()
	m.updateGauges()
}

func (m *Manager) updateGauges() {
	if m.met == nil {
		return
	}
	m.mu.Lock()
	workers, utilities := m.counts[KindWorker], m.counts[KindUtility]
	m.mu.Unlock()
	m.met.ActiveWorkers.Set(float64(workers))
	m.met.ActiveUtilities.Set(float64(utilities))
}

// CheckStatus returns the current tracked record for a process id.
func (m *Manager) CheckStatus(processID string) (Record, error) {
	m.mu.Lock()
	p, ok := m.active[processID]
	m.mu.Unlock()
	if ok {
		return p.rec, nil
	}
	return m.loadPersisted(processID)
}

// ListActive returns records for every process not yet in a terminal state.
func (m *Manager) ListActive() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.active))
	for _, p := range m.active {
		if !p.rec.Status.Terminal() {
			out = append(out, p.rec)
		}
	}
	return out
}

// GetOutput returns the captured stdout/stderr tail buffers for a process.
func (m *Manager) GetOutput(processID string) (stdout, stderr []string, err error) {
	m.mu.Lock()
	p, ok := m.active[processID]
	m.mu.Unlock()
	if !ok {
		rec, err := m.loadPersisted(processID)
		if err != nil {
			return nil, nil, err
		}
		return rec.CapturedStdoutTail, rec.CapturedStderrTail, nil
	}
	return p.stdout.Lines(), p.stderr.Lines(), nil
}

// Terminate asks a running process to exit, escalating to a kill after
// the configured grace period.
func (m *Manager) Terminate(processID string) error {
	m.mu.Lock()
	p, ok := m.active[processID]
	m.mu.Unlock()
	if !ok {
		return apexerr.New(apexerr.NotFound, component, "Terminate", fmt.Errorf("process %s not active", processID))
	}
	if p.rec.Status.Terminal() {
		return nil
	}
	return terminateProcess(p.cmd, m.cfg.TerminateGrace)
}

func (m *Manager) finish(p *process, status Status, exitCode *int) {
	m.mu.Lock()
	p.rec.Status = status
	now := time.Now()
	p.rec.CompletedAt = &now
	p.rec.ExitCode = exitCode
	p.rec.CapturedStdoutTail = p.stdout.Lines()
	p.rec.CapturedStderrTail = p.stderr.Lines()
	rec := p.rec
	m.mu.Unlock()

	m.release(p.rec.Kind)

	if err := m.persist(rec); err != nil {
		m.log.Printf("persist finish record %s: %v", rec.ProcessID, err)
	}
	if m.met != nil {
		switch status {
		case StatusCompleted:
			m.met.ProcessesCompleted.Inc()
		case StatusFailed, StatusTerminated:
			m.met.ProcessesFailed.Inc()
		case StatusTimeout:
			m.met.ProcessesTimedOut.Inc()
		}
	}
	if m.OnExit != nil {
		m.OnExit(rec)
	}
}

func (m *Manager) persist(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.st.Write(recordKey(rec.ProcessID), data)
}

func (m *Manager) loadPersisted(processID string) (Record, error) {
	data, found, err := m.st.Read(recordKey(processID))
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, apexerr.New(apexerr.NotFound, component, "CheckStatus", fmt.Errorf("process %s", processID))
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func recordKey(processID string) []byte {
	return store.Key("supervisor", "processes", "history", processID)
}
