package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// recordSeparator terminates every frame of the JSON hub protocol.
const recordSeparator = 0x1e

// Hub protocol frame types.
const (
	frameInvocation = 1
	frameCompletion = 3
	framePing       = 6
	frameClose      = 7
)

var handshakeRequest = []byte(`{"protocol":"json","version":1}`)

// frame is the union of the hub frames this client sends or understands.
type frame struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// encodeFrame marshals v and appends the record separator.
func encodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// buildInvocation encodes target(args...). An empty invocationID makes it a
// fire-and-forget invocation the server never completes.
func buildInvocation(invocationID, target string, args ...interface{}) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("chat: encode %s argument: %w", target, err)
		}
		raw = append(raw, data)
	}
	return encodeFrame(frame{Type: frameInvocation, InvocationID: invocationID, Target: target, Arguments: raw})
}

// splitFrames cuts a websocket message into separator-terminated records. A trailing
// record without a separator is ignored.
func splitFrames(data []byte) [][]byte {
	var out [][]byte
	for {
		idx := bytes.IndexByte(data, recordSeparator)
		if idx < 0 {
			return out
		}
		if idx > 0 {
			out = append(out, data[:idx])
		}
		data = data[idx+1:]
	}
}

func parseFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("chat: malformed frame: %w", err)
	}
	if f.Type == 0 {
		return frame{}, errors.New("chat: frame without type")
	}
	return f, nil
}
