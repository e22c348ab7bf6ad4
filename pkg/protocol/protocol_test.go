package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("STATUS")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != "STATUS" {
			t.Errorf("Expected type STATUS, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for STATUS, got %d", len(cmd.Args))
		}
	})

	t.Run("Lowercase Command", func(t *testing.T) {
		cmd, err := ParseCommand("  drivers \n")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdDrivers {
			t.Errorf("Expected type DRIVERS, got %s", cmd.Type)
		}
	})

	t.Run("PLAY Tone With Frequency", func(t *testing.T) {
		cmd, err := ParseCommand("PLAY:Tone:880")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Args["source"] != "tone" {
			t.Errorf("Expected source tone, got %v", cmd.Args["source"])
		}
		if cmd.Args["arg"] != "880" {
			t.Errorf("Expected arg 880, got %v", cmd.Args["arg"])
		}
	})

	t.Run("PLAY File Keeps Path Colons", func(t *testing.T) {
		cmd, err := ParseCommand("PLAY:file:C:/music/a.wav")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Args["source"] != "file" {
			t.Errorf("Expected source file, got %v", cmd.Args["source"])
		}
		if cmd.Args["arg"] != "C:/music/a.wav" {
			t.Errorf("Expected path C:/music/a.wav, got %v", cmd.Args["arg"])
		}
	})

	t.Run("PLAY Without Arguments", func(t *testing.T) {
		cmd, err := ParseCommand("PLAY")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if _, ok := cmd.Args["source"]; ok {
			t.Error("Expected no source for bare PLAY")
		}
	})

	t.Run("SESSIONS Command with Limit", func(t *testing.T) {
		cmd, err := ParseCommand("SESSIONS:20")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Type != "SESSIONS" {
			t.Errorf("Expected type SESSIONS, got %s", cmd.Type)
		}
		if cmd.Args["limit"] != "20" {
			t.Errorf("Expected limit 20, got %v", cmd.Args["limit"])
		}
	})

	t.Run("SESSIONS Active Only", func(t *testing.T) {
		cmd, err := ParseCommand("SESSIONS:Active")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["active"] != true {
			t.Errorf("Expected active true, got %v", cmd.Args["active"])
		}
	})

	t.Run("EVENTS Command", func(t *testing.T) {
		cmd, err := ParseCommand("EVENTS:7f1c3a9e-0000-4000-8000-000000000001")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Args["session"] != "7f1c3a9e-0000-4000-8000-000000000001" {
			t.Errorf("Expected session id, got %v", cmd.Args["session"])
		}
	})

	t.Run("CONFIG Command Get", func(t *testing.T) {
		cmd, err := ParseCommand("CONFIG:get:hook.backend")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cmd.Args["action"] != "get" {
			t.Errorf("Expected action get, got %v", cmd.Args["action"])
		}
		if cmd.Args["key"] != "hook.backend" {
			t.Errorf("Expected key hook.backend, got %v", cmd.Args["key"])
		}
		if _, exists := cmd.Args["value"]; exists {
			t.Error("Expected no value for CONFIG get")
		}
	})

	t.Run("Unknown Command Keeps Type", func(t *testing.T) {
		cmd, err := ParseCommand("FROBNICATE:x")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != "FROBNICATE" {
			t.Errorf("Expected type FROBNICATE, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args for unknown command, got %d", len(cmd.Args))
		}
	})
}

func TestResponse(t *testing.T) {
	t.Run("Success Response", func(t *testing.T) {
		resp := NewSuccessResponse(map[string]interface{}{"pong": true})

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["success"] != true {
			t.Error("Expected success true in JSON")
		}
		if _, exists := parsed["error"]; exists {
			t.Error("Expected error to be omitted")
		}
	})

	t.Run("Error Response", func(t *testing.T) {
		resp := NewErrorResponse("invalid command")

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(resp.String()), &parsed); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		if parsed["success"] != false {
			t.Error("Expected success false in JSON")
		}
		if parsed["error"] != "invalid command" {
			t.Errorf("Expected error in JSON, got %v", parsed["error"])
		}
	})
}

func TestSession(t *testing.T) {
	t.Run("Open Session Omits Close Time", func(t *testing.T) {
		s := Session{
			ID:          1,
			SessionID:   "abc",
			Backend:     "asio",
			Synthetic:   true,
			State:       "started",
			ActivatedAt: time.Now(),
		}

		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Failed to marshal session: %v", err)
		}
		if strings.Contains(string(data), "closed_at") {
			t.Errorf("Expected closed_at to be omitted, got %s", data)
		}
		if !strings.Contains(string(data), `"synthetic":true`) {
			t.Errorf("Expected synthetic flag, got %s", data)
		}
	})
}

func TestConstants(t *testing.T) {
	constants := map[string]string{
		"STATUS":   CmdStatus,
		"DRIVERS":  CmdDrivers,
		"SESSIONS": CmdSessions,
		"EVENTS":   CmdEvents,
		"PLAY":     CmdPlay,
		"STOP":     CmdStop,
		"RESET":    CmdReset,
		"PANEL":    CmdPanel,
		"LEVELS":   CmdLevels,
		"CONFIG":   CmdConfig,
		"QUIT":     CmdQuit,
		"PING":     CmdPing,
	}

	for expected, constant := range constants {
		if constant != expected {
			t.Errorf("Expected constant %s to equal %s, got %s", expected, expected, constant)
		}
	}
}
