package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phixlab/nutrilens/backend/internal/model"
)

// ErrUnrecognizedShape is returned when a payload matches none of the accepted encodings
var ErrUnrecognizedShape = errors.New("unrecognized response shape")

// ErrInvalidPayload is returned when a payload is not JSON at all
var ErrInvalidPayload = errors.New("response is not valid JSON")

// Shape identifies which accepted encoding a payload matched
type Shape int

const (
	ShapeNone Shape = iota
	// ShapeOutputObject is {"output": {"status": ..., ...}}
	ShapeOutputObject
	// ShapeOutputArray is [{"output": {"status": ..., ...}}, ...]
	ShapeOutputArray
	// ShapeDirect is {"status": ..., ...}
	ShapeDirect
)

func (s Shape) String() string {
	switch s {
	case ShapeOutputObject:
		return "output_object"
	case ShapeOutputArray:
		return "output_array"
	case ShapeDirect:
		return "direct"
	}
	return "none"
}

// statusProbe reads only the status of a candidate result
type statusProbe struct {
	Status model.Truthy `json:"status"`
}

// envelope is the wrapper used by the webhook workflow
type envelope struct {
	Output json.RawMessage `json:"output"`
}

// Normalize decodes an upstream payload into a NutritionResult. Encodings are
// tried in a fixed order and the first one carrying a truthy status wins:
// an object's output, the first array element's output, then the object itself.
func Normalize(raw []byte) (*model.NutritionResult, error) {
	res, _, err := NormalizeShape(raw)
	return res, err
}

// NormalizeShape is Normalize that also reports the matched encoding
func NormalizeShape(raw []byte) (*model.NutritionResult, Shape, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, ShapeNone, ErrInvalidPayload
	}

	switch raw[0] {
	case '{':
		if out, ok := outputOf(raw); ok {
			return decodeResult(out, ShapeOutputObject)
		}
		if hasStatus(raw) {
			return decodeResult(raw, ShapeDirect)
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
			if out, ok := outputOf(items[0]); ok {
				return decodeResult(out, ShapeOutputArray)
			}
		}
	}
	return nil, ShapeNone, ErrUnrecognizedShape
}

// outputOf returns v.output when v is an object whose output has a truthy status.
func outputOf(v json.RawMessage) (json.RawMessage, bool) {
	var env envelope
	if err := json.Unmarshal(v, &env); err != nil || len(env.Output) == 0 {
		return nil, false
	}
	if !hasStatus(env.Output) {
		return nil, false
	}
	return env.Output, true
}

func hasStatus(v json.RawMessage) bool {
	var p statusProbe
	if err := json.Unmarshal(v, &p); err != nil {
		return false
	}
	return bool(p.Status)
}

func decodeResult(v json.RawMessage, shape Shape) (*model.NutritionResult, Shape, error) {
	var res model.NutritionResult
	if err := json.Unmarshal(v, &res); err != nil {
		return nil, ShapeNone, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}
	return &res, shape, nil
}
