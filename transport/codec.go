package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/rendercore-go/rpc"
)

// Codec converts frame payloads to and from the JSON value model.
type Codec interface {
	Name() string
	// Decode parses one payload into the value model (nil, bool,
	// json.Number, string, []any, map[string]any).
	Decode(payload []byte) (any, error)
	// Encode serializes a *rpc.Reply or *rpc.Notification.
	Encode(message any) ([]byte, error)
}

// CodecByName returns the codec registered as name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// JSONCodec carries JSON-RPC envelopes as JSON text.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Decode(payload []byte) (any, error) {
	return rpc.DecodeValue(payload)
}

func (JSONCodec) Encode(message any) ([]byte, error) {
	return json.Marshal(message)
}

// encMode is Core Deterministic Encoding: the same envelope always
// produces the same bytes.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any so decoded envelopes
// fit the JSON value model.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec carries the same envelopes as CBOR maps. Integers and floats
// are mapped onto json.Number on the way in, and back on the way out.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Decode(payload []byte) (any, error) {
	var decoded any
	if err := decMode.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	return toValue(decoded)
}

func (CBORCodec) Encode(message any) ([]byte, error) {
	// Results are arbitrary Go values; going through their JSON form
	// keeps json tags and MarshalJSON methods authoritative.
	text, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	value, err := rpc.DecodeValue(text)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(fromValue(value))
}

// toValue converts a CBOR-decoded value into the JSON value model.
func toValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case uint64:
		return json.Number(strconv.FormatUint(x, 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(x, 10)), nil
	case float32:
		return floatNumber(float64(x))
	case float64:
		return floatNumber(x)
	case []byte:
		return string(x), nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			converted, err := toValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			converted, err := toValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	case map[any]any:
		return nil, fmt.Errorf("map keys must be strings")
	}
	return nil, fmt.Errorf("unsupported CBOR value of type %T", v)
}

func floatNumber(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// fromValue converts json.Number leaves into CBOR numbers.
func fromValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u
		}
		f, _ := x.Float64()
		return f
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = fromValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = fromValue(item)
		}
		return out
	}
	return v
}
