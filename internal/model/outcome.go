package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// ParseOutcome is the result of parsing a model response. It is either
// Structured or Degraded; no other implementations exist.
type ParseOutcome interface {
	isParseOutcome()
	// Fallback reports whether parsing fell back to the sentinel record.
	Fallback() bool
}

// Structured holds a well-formed JSON object extracted from model output.
type Structured struct {
	Record json.RawMessage
}

func (Structured) isParseOutcome() {}

// Fallback implements ParseOutcome.
func (Structured) Fallback() bool { return false }

// Decode unmarshals the record into v.
func (s Structured) Decode(v any) error {
	if err := json.Unmarshal(s.Record, v); err != nil {
		return eris.Wrap(err, "model: decode structured record")
	}
	return nil
}

// Fields decodes the record as a generic object.
func (s Structured) Fields() map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(s.Record, &m); err != nil {
		return nil
	}
	return m
}

// MarshalJSON emits the record verbatim.
func (s Structured) MarshalJSON() ([]byte, error) {
	if len(s.Record) == 0 {
		return []byte("null"), nil
	}
	return s.Record, nil
}

// Degraded is the sentinel returned when no well-formed payload could be
// extracted. The original text is kept so nothing is lost.
type Degraded struct {
	Error       string `json:"error"`
	RawResponse string `json:"raw_response"`
	IsFallback  bool   `json:"fallback"`
}

func (Degraded) isParseOutcome() {}

// Fallback implements ParseOutcome.
func (d Degraded) Fallback() bool { return d.IsFallback }

// ParseFailedMessage is the error text carried by every Degraded outcome.
const ParseFailedMessage = "parse failed"

// NewDegraded builds the sentinel record for raw.
func NewDegraded(raw string) Degraded {
	return Degraded{Error: ParseFailedMessage, RawResponse: raw, IsFallback: true}
}

// DecodeOutcome rebuilds a ParseOutcome from its serialized form. The
// sentinel record decodes to Degraded, any other object to Structured, and
// null to nil.
func DecodeOutcome(b json.RawMessage) (ParseOutcome, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	var probe struct {
		Error       string  `json:"error"`
		RawResponse *string `json:"raw_response"`
		Fallback    bool    `json:"fallback"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, eris.Wrap(err, "model: decode outcome")
	}
	if probe.Fallback && probe.RawResponse != nil {
		return Degraded{Error: probe.Error, RawResponse: *probe.RawResponse, IsFallback: true}, nil
	}
	return Structured{Record: append(json.RawMessage(nil), b...)}, nil
}
