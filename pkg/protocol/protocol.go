package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Command represents a command sent to the engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Session is one client the hook handed out
type Session struct {
	ID             int        `json:"id"`
	SessionID      string     `json:"session_id"`
	Device         string     `json:"device"`
	Backend        string     `json:"backend"`
	Synthetic      bool       `json:"synthetic"`
	State          string     `json:"state"`
	Format         string     `json:"format,omitempty"`
	SampleRate     int        `json:"sample_rate,omitempty"`
	Channels       int        `json:"channels,omitempty"`
	BitsPerSample  int        `json:"bits_per_sample,omitempty"`
	ShareMode      string     `json:"share_mode,omitempty"`
	BufferDuration int64      `json:"buffer_duration,omitempty"`
	Periodicity    int64      `json:"periodicity,omitempty"`
	Status         string     `json:"status,omitempty"`
	ActivatedAt    time.Time  `json:"activated_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// SessionEvent is one recorded step of a session
type SessionEvent struct {
	ID        int       `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Status represents the current daemon status
type Status struct {
	Backend   string    `json:"backend"`
	Hooked    bool      `json:"hooked"`
	Driver    string    `json:"driver,omitempty"`
	State     string    `json:"state,omitempty"`
	Playing   bool      `json:"playing"`
	Source    string    `json:"source,omitempty"`
	Format    string    `json:"format,omitempty"`
	Uptime    string    `json:"uptime"`
	StartTime time.Time `json:"start_time"`
	Version   string    `json:"version"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := parts[1]

		switch cmd.Type {
		case CmdPlay:
			// PLAY:tone:440, PLAY:file:/tmp/a.wav, PLAY:silence
			playParts := strings.SplitN(args, ":", 2)
			cmd.Args["source"] = strings.ToLower(playParts[0])
			if len(playParts) > 1 {
				cmd.Args["arg"] = playParts[1]
			}

		case CmdSessions:
			// SESSIONS:10 or SESSIONS:active
			if strings.EqualFold(args, "active") {
				cmd.Args["active"] = true
			} else {
				cmd.Args["limit"] = args
			}

		case CmdEvents:
			// EVENTS:<session id>
			cmd.Args["session"] = args

		case CmdConfig:
			// CONFIG:get:key
			configParts := strings.SplitN(args, ":", 3)
			if len(configParts) >= 1 {
				cmd.Args["action"] = configParts[0]
			}
			if len(configParts) >= 2 {
				cmd.Args["key"] = configParts[1]
			}
			if len(configParts) >= 3 {
				cmd.Args["value"] = configParts[2]
			}
		}
	}

	return cmd, nil
}

// String converts a Response to JSON
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdStatus   = "STATUS"
	CmdDrivers  = "DRIVERS"
	CmdSessions = "SESSIONS"
	CmdEvents   = "EVENTS"
	CmdPlay     = "PLAY"
	CmdStop     = "STOP"
	CmdReset    = "RESET"
	CmdPanel    = "PANEL"
	CmdLevels   = "LEVELS"
	CmdConfig   = "CONFIG"
	CmdQuit     = "QUIT"
	CmdPing     = "PING"
)
