package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// frame mirrors agentd's socketFrame wire shape (spec §4.7: "semantics
// mirror the client protocol minus authentication") independently, since
// a client necessarily speaks the wire contract rather than importing
// the daemon's internal, unexported type.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// client is a single connection to the daemon's local control socket.
type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(socketPath string) (*client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("agentctl: connect to %s: %w", socketPath, err)
	}
	return &client{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

// call sends one request frame and waits for the response frame with a
// matching id, discarding any unsolicited Event frames in between (a
// session this connection is attached to may be broadcasting
// concurrently with a one-shot call on the same connection).
func (c *client) call(method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	req := frame{ID: id, Method: method, Params: raw}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("agentctl: write request: %w", err)
	}

	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("agentctl: read response: %w", err)
		}
		var resp frame
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("agentctl: decode response: %w", err)
		}
		if resp.Event != nil {
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.OK == nil || !*resp.OK {
			if resp.Error != nil {
				return nil, fmt.Errorf("agentctl: %s: %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("agentctl: request failed")
		}
		return resp.Payload, nil
	}
}

// streamEvents reads frames until the connection closes or an error
// occurs, calling onEvent for every unsolicited Event frame. Used by the
// attach command, which has no further request/response exchange once
// attach_session succeeds.
func (c *client) streamEvents(onEvent func(json.RawMessage)) error {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			return err
		}
		var resp frame
		if err := json.Unmarshal(line, &resp); err != nil {
			return fmt.Errorf("agentctl: decode event frame: %w", err)
		}
		if resp.Event != nil {
			onEvent(resp.Event)
		}
	}
}
