package humastar

import (
	"bytes"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
)

// Signals is the flat JSON object of signals Datastar posts with an action.
// Numbers arrive as float64 and nested objects as map[string]any.
type Signals map[string]any

// ParseSignals decodes a request body. An empty body yields no signals.
func ParseSignals(body []byte) (Signals, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Signals{}, nil
	}
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns the string signal key, or "".
func (s Signals) String(key string) string {
	str, _ := s[key].(string)
	return str
}

// Float returns the numeric signal key and whether it is a number.
func (s Signals) Float(key string) (float64, bool) {
	f, ok := s[key].(float64)
	return f, ok
}

// Object returns the object signal key, or nil.
func (s Signals) Object(key string) map[string]any {
	m, _ := s[key].(map[string]any)
	return m
}

// SignalsInput receives the raw signals body of a Datastar action.
type SignalsInput struct {
	RawBody []byte
}

// MustParse decodes the body, answering 400 when it is not a JSON object.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
