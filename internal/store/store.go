// ABOUTME: Transcript types for the history ledger of terminal commands.
// ABOUTME: Live orchestration state never touches the store; this is read-model only.

package store

import "time"

// Transcript is one terminal command as recorded for history reads.
// Commands land here only after reaching completed, failed, or cancelled;
// pending and processing state lives in memory and dies with the process.
type Transcript struct {
	CommandID     string     `json:"command_id"`
	SessionID     string     `json:"session_id"`
	WorkspaceID   string     `json:"workspace_id"`
	Seq           uint64     `json:"seq"`
	Message       string     `json:"message"`
	AttachmentRef string     `json:"attachment_ref,omitempty"`
	Status        string     `json:"status"`
	Result        string     `json:"result,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Steps         int        `json:"steps"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
