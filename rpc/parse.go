package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Version is the only accepted value of the "jsonrpc" envelope member.
const Version = "2.0"

// Call is one inbound request. Params holds the decoded JSON value model:
// nil, bool, json.Number, string, []any or map[string]any.
type Call struct {
	ID     ID
	Method string
	Params any

	// Client is the channel the reply must be sent through. It is set by
	// the dispatcher, never by Parse.
	Client ReplyChannel
}

// DecodeParams converts the params value into target using its JSON tags.
func (c *Call) DecodeParams(target any) error {
	data, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("re-encoding params: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}

// DecodeValue parses a JSON document into the value model used by the
// validator. Numbers are kept as json.Number so integers and decimals
// stay distinguishable.
func DecodeValue(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return value, nil
}

// Parse decodes a raw payload into a Call after checking the envelope.
// Entrypoint-specific params validation happens later and only for
// envelopes that pass here. Failures are returned as *RequestError.
func Parse(raw []byte) (*Call, error) {
	value, err := DecodeValue(raw)
	if err != nil {
		return nil, &RequestError{ID: NullID, Reply: NewParseError(err.Error())}
	}
	return ParseValue(value)
}

// ParseValue checks an already decoded envelope. Transports whose wire
// format is not JSON decode into the value model and call this directly.
func ParseValue(value any) (*Call, error) {
	envelope, ok := value.(map[string]any)
	if !ok {
		return nil, invalid(NullID, "request must be a JSON object")
	}

	id := NullID
	if rawID, present := envelope["id"]; present {
		parsed, ok := IDFromValue(rawID)
		if !ok {
			return nil, invalid(NullID, "id must be a string, a number or null")
		}
		id = parsed
	}

	if version, present := envelope["jsonrpc"]; present {
		if s, ok := version.(string); !ok || s != Version {
			return nil, invalid(id, fmt.Sprintf("jsonrpc must be %q", Version))
		}
	}

	rawMethod, present := envelope["method"]
	if !present {
		return nil, invalid(id, "missing method")
	}
	method, ok := rawMethod.(string)
	if !ok {
		return nil, invalid(id, "method must be a string")
	}
	if method == "" {
		return nil, invalid(id, "method must not be empty")
	}

	call := &Call{ID: id, Method: method}
	if params, present := envelope["params"]; present && params != nil {
		switch params.(type) {
		case map[string]any, []any:
			call.Params = params
		default:
			return nil, invalid(id, "params must be an object or an array")
		}
	}
	return call, nil
}

func invalid(id ID, detail string) *RequestError {
	return &RequestError{ID: id, Reply: NewInvalidRequestError(detail)}
}
