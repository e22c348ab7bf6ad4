package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/dougsko/audiohook/pkg/protocol"
)

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	_, err = conn.Write([]byte(cmd + "\n"))
	if err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	// level and config dumps can exceed the scanner's default token size
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// call sends cmd and fails on an unsuccessful response
func (c *SocketClient) call(name, cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s error: %s", name, resp.Error)
	}
	return resp, nil
}

// decode converts one field of the response data into out. Missing fields
// leave out untouched.
func decode(resp *protocol.Response, key string, out interface{}) error {
	value, ok := resp.Data[key]
	if !ok {
		return nil
	}

	// Convert to JSON and back to parse properly
	data, _ := json.Marshal(value)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.call("status", protocol.CmdStatus)
	if err != nil {
		return nil, err
	}
	if _, ok := resp.Data["status"]; !ok {
		return nil, fmt.Errorf("status not found in response")
	}

	var status protocol.Status
	if err := decode(resp, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetDrivers lists the installed pro-audio drivers
func (c *SocketClient) GetDrivers() ([]proaudio.DriverInfo, error) {
	resp, err := c.call("drivers", protocol.CmdDrivers)
	if err != nil {
		return nil, err
	}

	drivers := []proaudio.DriverInfo{}
	if err := decode(resp, "drivers", &drivers); err != nil {
		return nil, err
	}
	return drivers, nil
}

// GetSessions gets recent sessions, newest first. A limit of zero uses the
// daemon's default.
func (c *SocketClient) GetSessions(limit int) ([]protocol.Session, error) {
	cmd := protocol.CmdSessions
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdSessions, limit)
	}
	return c.sessions(cmd)
}

// GetActiveSessions gets the sessions that are not closed yet
func (c *SocketClient) GetActiveSessions() ([]protocol.Session, error) {
	return c.sessions(protocol.CmdSessions + ":active")
}

func (c *SocketClient) sessions(cmd string) ([]protocol.Session, error) {
	resp, err := c.call("sessions", cmd)
	if err != nil {
		return nil, err
	}

	sessions := []protocol.Session{}
	if err := decode(resp, "sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetEvents gets the event log of one session
func (c *SocketClient) GetEvents(sessionID string) ([]protocol.SessionEvent, error) {
	resp, err := c.call("events", fmt.Sprintf("%s:%s", protocol.CmdEvents, sessionID))
	if err != nil {
		return nil, err
	}

	events := []protocol.SessionEvent{}
	if err := decode(resp, "events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Play starts the test consumer. source is "tone", "silence" or "file";
// arg is the tone frequency or the file path and may be empty.
func (c *SocketClient) Play(source, arg string) (string, error) {
	cmd := protocol.CmdPlay
	if source != "" {
		cmd = fmt.Sprintf("%s:%s", protocol.CmdPlay, source)
		if arg != "" {
			cmd += ":" + arg
		}
	}

	resp, err := c.call("play", cmd)
	if err != nil {
		return "", err
	}
	name, _ := resp.Data["source"].(string)
	return name, nil
}

// StopPlayback stops the test consumer
func (c *SocketClient) StopPlayback() error {
	_, err := c.call("stop", protocol.CmdStop)
	return err
}

// Reset asks the pro-audio backend to reload its driver
func (c *SocketClient) Reset() error {
	_, err := c.call("reset", protocol.CmdReset)
	return err
}

// Panel opens the pro-audio driver's control panel
func (c *SocketClient) Panel() error {
	_, err := c.call("panel", protocol.CmdPanel)
	return err
}

// GetLevels gets the level monitor's current data
func (c *SocketClient) GetLevels() (map[string]interface{}, error) {
	resp, err := c.call("levels", protocol.CmdLevels)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetConfig reads one configuration value
func (c *SocketClient) GetConfig(key string) (interface{}, error) {
	resp, err := c.call("config", fmt.Sprintf("%s:get:%s", protocol.CmdConfig, key))
	if err != nil {
		return nil, err
	}
	return resp.Data["value"], nil
}

// ListConfig returns every exposed configuration value
func (c *SocketClient) ListConfig() (map[string]interface{}, error) {
	resp, err := c.call("config", protocol.CmdConfig+":list")
	if err != nil {
		return nil, err
	}

	values := map[string]interface{}{}
	if err := decode(resp, "values", &values); err != nil {
		return nil, err
	}
	return values, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call("ping", protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
