package ddp

import "encoding/json"

// Envelope is the parsed form of any inbound DDP frame. Fields the
// particular message type doesn't carry are left at their zero value;
// json.RawMessage fields are nil when the corresponding key was absent
// from the frame (as opposed to present-but-null), which lets callers
// tell "result omitted" from "result: null".
type Envelope struct {
	Msg        string          `json:"msg"`
	Session    string          `json:"session,omitempty"`
	Version    string          `json:"version,omitempty"`
	ID         json.RawMessage `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Name       string          `json:"name,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Cleared    json.RawMessage `json:"cleared,omitempty"`
	Subs       []string        `json:"subs,omitempty"`
	ServerID   json.RawMessage `json:"server_id,omitempty"`
}

// DecodeEnvelope parses one inbound DDP frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// HasServerID reports whether the frame carried the legacy "server_id"
// hint, which callers should ignore during negotiation.
func (e Envelope) HasServerID() bool { return len(e.ServerID) > 0 }

// HasError reports whether the frame carried a non-absent "error" key.
func (e Envelope) HasError() bool { return len(e.Error) > 0 }

// HasResult reports whether the frame carried a non-absent "result" key.
func (e Envelope) HasResult() bool { return len(e.Result) > 0 }

// IDString extracts the frame's "id" field as a string. ok is false when
// the field was absent or was not a JSON string.
func (e Envelope) IDString() (id string, ok bool) {
	if len(e.ID) == 0 {
		return "", false
	}
	if err := json.Unmarshal(e.ID, &id); err != nil {
		return "", false
	}
	return id, true
}

type connectFrame struct {
	Msg     string   `json:"msg"`
	Version string   `json:"version"`
	Support []string `json:"support"`
}

// EncodeConnect builds the client's initial {"msg":"connect",...} frame.
func EncodeConnect(version string, support []string) string {
	b, _ := json.Marshal(connectFrame{Msg: "connect", Version: version, Support: support})
	return string(b)
}

type pongFrame struct {
	Msg string          `json:"msg"`
	ID  json.RawMessage `json:"id,omitempty"`
}

// EncodePong builds a {"msg":"pong"} frame, including "id" verbatim when
// the originating ping carried one. A nil/empty id omits the key
// entirely rather than emitting "id":null.
func EncodePong(id json.RawMessage) string {
	b, _ := json.Marshal(pongFrame{Msg: "pong", ID: id})
	return string(b)
}

type methodFrame struct {
	Msg    string          `json:"msg"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// EncodeMethod builds a {"msg":"method",...} frame. When params is nil,
// the "params" key is omitted entirely rather than emitted as null.
func EncodeMethod(id, method string, params any) (string, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(methodFrame{Msg: "method", ID: id, Method: method, Params: raw})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type subFrame struct {
	Msg    string          `json:"msg"`
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// EncodeSub builds a {"msg":"sub",...} frame, with the same params
// omission rule as EncodeMethod.
func EncodeSub(id, name string, params any) (string, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(subFrame{Msg: "sub", ID: id, Name: name, Params: raw})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type unsubFrame struct {
	Msg string `json:"msg"`
	ID  string `json:"id"`
}

// EncodeUnsub builds a {"msg":"unsub","id":...} frame.
func EncodeUnsub(id string) string {
	b, _ := json.Marshal(unsubFrame{Msg: "unsub", ID: id})
	return string(b)
}

// marshalParams returns nil (meaning: omit the key) when params is nil,
// otherwise the marshaled JSON value.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
