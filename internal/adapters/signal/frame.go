package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
)

var errNotObject = errors.New("frame is not a json object")

// Message is one parsed inbound frame.
type Message struct {
	typ     string
	subtype string
	fields  map[string]json.RawMessage
	raw     []byte
}

var _ core.Message = (*Message)(nil)

func (m *Message) MessageType() string { return m.typ }

func (m *Message) Subtype() string { return m.subtype }

func (m *Message) Raw() []byte { return m.raw }

func (m *Message) Decode(v any) error {
	b, err := json.Marshal(m.fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// RequestID reports the numeric correlation id, if the frame carries one.
// A string id (a user id in roster events) is not a request id.
func (m *Message) RequestID() (uint32, bool) {
	raw, ok := m.fields["id"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint32(id), true
}

// protocolError returns the error carried by a response payload, if any.
func (m *Message) protocolError() error {
	raw, ok := m.fields["error"]
	if !ok || isNull(raw) {
		return nil
	}
	pe := &domain.ProtocolError{}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		pe.Code = domain.ErrorCode(code)
	} else {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			pe.Name = name
		} else {
			pe.Name = string(raw)
		}
	}
	if msg, ok := m.fields["message"]; ok {
		_ = json.Unmarshal(msg, &pe.Message)
	}
	if data, ok := m.fields["data"]; ok && !isNull(data) {
		pe.Data = append([]byte(nil), data...)
	}
	return pe
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// decodeMessage parses one frame. Keys are read in order so a repeated
// "type" key is kept as the subtype instead of overwriting the frame type.
func decodeMessage(line []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}
	m := &Message{fields: make(map[string]json.RawMessage), raw: line}
	seenType := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if key != "type" {
			m.fields[key] = raw
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("type: %w", err)
		}
		if !seenType {
			seenType = true
			m.typ = s
			m.fields["type"] = raw
		} else {
			m.subtype = s
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return m, nil
}

// encodeFrame serializes {id?, type, ...payload} followed by a newline.
func encodeFrame(id *uint32, typ domain.CommandType, payload any) (core.Frame, error) {
	body := make(map[string]json.RawMessage)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		if !isNull(b) {
			if err := json.Unmarshal(b, &body); err != nil {
				return nil, fmt.Errorf("%s payload: %w", typ, errNotObject)
			}
		}
	}
	t, _ := json.Marshal(string(typ))
	body["type"] = t
	if id != nil {
		body["id"] = json.RawMessage(strconv.FormatUint(uint64(*id), 10))
	}
	out, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// splitFrames yields the non-empty newline-delimited frames of one message.
func splitFrames(data []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			out = append(out, line)
		}
	}
	return out
}
