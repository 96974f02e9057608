package bus

import (
	"encoding/json"
	"fmt"

	nc "github.com/nats-io/nats.go"

	"github.com/nibzard/apex/internal/procmgr"
)

// SubjectProcessExited is the subject every terminal process-status
// change is published on, per the teacher's messages.go subject-pattern
// convention.
const SubjectProcessExited = "apex.process.exited"

// ProcessEvent is published once a tracked process reaches a terminal
// status (completed, failed, timed out, or terminated).
type ProcessEvent struct {
	ProcessID string         `json:"process_id"`
	TaskID    string         `json:"task_id"`
	Kind      procmgr.Kind   `json:"kind"`
	Status    procmgr.Status `json:"status"`
	ExitCode  *int           `json:"exit_code,omitempty"`
}

// PublishProcessExited announces one terminal process record. Intended
// to be wired as a procmgr.Manager.OnExit hook.
func (b *Bus) PublishProcessExited(rec procmgr.Record) error {
	ev := ProcessEvent{
		ProcessID: rec.ProcessID,
		TaskID:    rec.TaskID,
		Kind:      rec.Kind,
		Status:    rec.Status,
		ExitCode:  rec.ExitCode,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal process event: %w", err)
	}
	return b.conn.Publish(SubjectProcessExited, data)
}

// SubscribeProcessExited registers handler for every process-exit
// event. The subscription is one-way: subscribers observe completed
// work, they never reply or push commands back through it, per spec
// §9's "message-passing is one-way".
func (b *Bus) SubscribeProcessExited(handler func(ProcessEvent)) (*nc.Subscription, error) {
	return b.conn.Subscribe(SubjectProcessExited, func(msg *nc.Msg) {
		var ev ProcessEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		handler(ev)
	})
}
