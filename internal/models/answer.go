package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AnswerKind is the tag of an Answer
type AnswerKind string

const (
	AnswerBoolean AnswerKind = "boolean"
	AnswerNumber  AnswerKind = "number"
	AnswerString  AnswerKind = "string"
	AnswerObject  AnswerKind = "object"
	AnswerMedia   AnswerKind = "media"
)

// Valid returns true if k is a known answer tag
func (k AnswerKind) Valid() bool {
	switch k {
	case AnswerBoolean, AnswerNumber, AnswerString, AnswerObject, AnswerMedia:
		return true
	}
	return false
}

// Answer errors
var (
	// ErrEmptyAnswer is returned for answers that must not be submitted
	ErrEmptyAnswer = errors.New("answer is empty")
	// ErrAnswerKind is returned when an answer cannot take the requested tag
	ErrAnswerKind = errors.New("answer has the wrong type")
)

// Answer is a tagged union over the value shapes a grader accepts.
// Media answers carry base64 text (optionally a data URI) in Text.
type Answer struct {
	Kind   AnswerKind
	Bool   bool
	Number float64
	Text   string
	Object any
}

func BoolAnswer(v bool) Answer { return Answer{Kind: AnswerBoolean, Bool: v} }
func NumberAnswer(v float64) Answer { return Answer{Kind: AnswerNumber, Number: v} }
func StringAnswer(v string) Answer { return Answer{Kind: AnswerString, Text: v} }
func ObjectAnswer(v any) Answer { return Answer{Kind: AnswerObject, Object: v} }
func MediaAnswer(b64 string) Answer { return Answer{Kind: AnswerMedia, Text: b64} }

// Validate rejects answers that are empty or not representable on the wire
func (a Answer) Validate() error {
	switch a.Kind {
	case AnswerBoolean:
		return nil
	case AnswerNumber:
		if math.IsNaN(a.Number) || math.IsInf(a.Number, 0) {
			return fmt.Errorf("number answer is not finite: %v", a.Number)
		}
		return nil
	case AnswerString, AnswerMedia:
		if strings.TrimSpace(a.Text) == "" {
			return ErrEmptyAnswer
		}
		return nil
	case AnswerObject:
		if a.Object == nil {
			return ErrEmptyAnswer
		}
		return nil
	case "":
		return ErrEmptyAnswer
	default:
		return fmt.Errorf("unknown answer kind %q", a.Kind)
	}
}

// Value returns the Go value emitted for the answer field of a submission
func (a Answer) Value() any {
	switch a.Kind {
	case AnswerBoolean:
		return a.Bool
	case AnswerNumber:
		if a.Number == math.Trunc(a.Number) && math.Abs(a.Number) < 1<<53 {
			return int64(a.Number)
		}
		return a.Number
	case AnswerObject:
		return a.Object
	default:
		return a.Text
	}
}

// MarshalJSON emits the answer per its tag: raw literal for scalars,
// embedded JSON for objects, base64 string for media.
func (a Answer) MarshalJSON() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a.Value())
}

// String renders a short form of the answer for logs
func (a Answer) String() string {
	var s string
	switch a.Kind {
	case AnswerObject:
		raw, _ := json.Marshal(a.Object)
		s = string(raw)
	case AnswerMedia:
		return fmt.Sprintf("media(%d bytes)", len(a.Text))
	default:
		s = fmt.Sprint(a.Value())
	}
	return truncate(s, 200)
}

// ParseAnswer interprets free-form model output: JSON first, then number,
// then boolean words, falling back to a string answer.
func ParseAnswer(raw string) Answer {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "data:") && strings.Contains(text, ";base64,") {
		return MediaAnswer(text)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return FromValue(decoded)
	}

	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return NumberAnswer(n)
	}

	switch strings.ToLower(text) {
	case "true", "yes":
		return BoolAnswer(true)
	case "false", "no":
		return BoolAnswer(false)
	}

	return StringAnswer(text)
}

// FromValue wraps a decoded JSON value in an Answer
func FromValue(v any) Answer {
	switch val := v.(type) {
	case bool:
		return BoolAnswer(val)
	case float64:
		return NumberAnswer(val)
	case int:
		return NumberAnswer(float64(val))
	case int64:
		return NumberAnswer(float64(val))
	case json.Number:
		f, _ := val.Float64()
		return NumberAnswer(f)
	case string:
		return StringAnswer(val)
	case nil:
		return Answer{}
	default:
		return ObjectAnswer(val)
	}
}

// Coerce converts the answer to the requested tag. An empty target keeps the
// current tag. Conversion failures return an error and the original answer.
func (a Answer) Coerce(kind AnswerKind) (Answer, error) {
	if kind == "" || kind == a.Kind {
		return a, nil
	}

	switch kind {
	case AnswerString:
		switch a.Kind {
		case AnswerObject:
			raw, err := json.Marshal(a.Object)
			if err != nil {
				return a, err
			}
			return StringAnswer(string(raw)), nil
		default:
			return StringAnswer(fmt.Sprint(a.Value())), nil
		}

	case AnswerNumber:
		switch a.Kind {
		case AnswerBoolean:
			if a.Bool {
				return NumberAnswer(1), nil
			}
			return NumberAnswer(0), nil
		case AnswerString:
			cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(a.Text))
			if n, err := strconv.ParseFloat(cleaned, 64); err == nil {
				return NumberAnswer(n), nil
			}
		case AnswerObject:
			if n, ok := singleNumber(a.Object); ok {
				return NumberAnswer(n), nil
			}
		}

	case AnswerBoolean:
		switch a.Kind {
		case AnswerNumber:
			return BoolAnswer(a.Number != 0), nil
		case AnswerString:
			switch strings.ToLower(strings.TrimSpace(a.Text)) {
			case "true", "yes", "1":
				return BoolAnswer(true), nil
			case "false", "no", "0":
				return BoolAnswer(false), nil
			}
		}

	case AnswerObject:
		if a.Kind == AnswerString {
			var decoded any
			if err := json.Unmarshal([]byte(a.Text), &decoded); err == nil && decoded != nil {
				return ObjectAnswer(decoded), nil
			}
		}

	case AnswerMedia:
		if a.Kind == AnswerString && strings.TrimSpace(a.Text) != "" {
			return MediaAnswer(strings.TrimSpace(a.Text)), nil
		}
	}

	return a, fmt.Errorf("%w: cannot coerce %s answer to %s", ErrAnswerKind, a.Kind, kind)
}

// singleNumber extracts the lone numeric value of a one-field object
func singleNumber(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return 0, false
	}
	for _, inner := range m {
		if f, ok := inner.(float64); ok {
			return f, true
		}
	}
	return 0, false
}
