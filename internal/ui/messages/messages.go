package messages

import "devpulse/internal/models"

// PingResultsMsg carries a ping-all round keyed by host id.
type PingResultsMsg map[string]models.PingResult

type PowerResultMsg struct {
	HostName string
	Action   string
	Result   models.PowerResult
}

type ConnectedMsg struct {
	HostName  string
	SessionID string
}

type ConnectFailedMsg struct {
	HostName string
	Err      error
}

type ShellExitedMsg struct {
	SessionID string
	Err       error
}
