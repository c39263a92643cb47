package genai

import (
	"encoding/json"
	"strings"

	"github.com/soyeahso/casefinder/internal/domain"
)

// Decoder turns raw transport chunks into Events. It tolerates chunk
// boundaries falling anywhere, including mid-record: a partial trailing
// line stays buffered until the next Feed completes it. One Decoder is
// scoped to one response body; it keeps no state across streams.
type Decoder struct {
	buf      strings.Builder
	resolved bool // terminal result already emitted
}

// NewDecoder creates a decoder for a single stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes the next chunk and returns any events completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf.Write(chunk)

	data := d.buf.String()
	lines := strings.Split(data, "\n")

	// The last element is either empty (chunk ended on a newline) or an
	// incomplete record; keep it buffered either way.
	rest := lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	d.buf.Reset()
	d.buf.WriteString(rest)

	var events []Event
	for _, line := range lines {
		if evt, ok := d.decodeLine(line); ok {
			events = append(events, evt)
		}
	}
	return events
}

// Close discards any unterminated partial record. No synthetic event is
// emitted for the dropped tail.
func (d *Decoder) Close() {
	d.buf.Reset()
}

// streamRecord is the JSON payload of one `data:` line.
type streamRecord struct {
	Event string `json:"event"`
	Data  struct {
		Text    string          `json:"text"`
		Outputs json.RawMessage `json:"outputs"`
	} `json:"data"`
	Message string `json:"message"`
}

// decodeLine parses one complete line into an event. Lines that are not
// data records, and records that fail to parse, are dropped silently —
// the generator interleaves informational lines that are not meant to
// be consumed.
func (d *Decoder) decodeLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data: ") {
		return Event{}, false
	}
	payload := strings.TrimSpace(line[len("data: "):])
	if payload == "" {
		return Event{}, false
	}

	var rec streamRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Event{}, false
	}

	switch rec.Event {
	case "text_chunk":
		if rec.Data.Text == "" {
			return Event{}, false
		}
		return Event{Type: EventDelta, Text: rec.Data.Text}, true

	case "workflow_finished":
		if d.resolved {
			return Event{}, false
		}
		d.resolved = true
		return Event{Type: EventResult, Cases: parseCaseOutputs(rec.Data.Outputs)}, true

	case "error":
		msg := rec.Message
		if msg == "" {
			msg = "generator reported an error"
		}
		return Event{Type: EventError, Err: msg}, true
	}

	return Event{}, false
}

// caseOutputs mirrors the terminal payload shape. The case list may sit
// under structured_output, at the top level, or arrive as a JSON string.
type caseOutputs struct {
	StructuredOutput *struct {
		Cases []domain.CaseStudy `json:"cases"`
	} `json:"structured_output"`
	Cases []domain.CaseStudy `json:"cases"`
}

// parseCaseOutputs extracts the case list from a terminal payload,
// falling back to an empty list when the shape is not recognized.
func parseCaseOutputs(raw json.RawMessage) []domain.CaseStudy {
	if len(raw) == 0 {
		return nil
	}

	var outputs caseOutputs
	if err := json.Unmarshal(raw, &outputs); err == nil {
		if outputs.StructuredOutput != nil && len(outputs.StructuredOutput.Cases) > 0 {
			return outputs.StructuredOutput.Cases
		}
		if len(outputs.Cases) > 0 {
			return outputs.Cases
		}
	}

	// Some workflow versions return the whole output as a JSON string.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var inner struct {
			Cases []domain.CaseStudy `json:"cases"`
		}
		if err := json.Unmarshal([]byte(asString), &inner); err == nil {
			return inner.Cases
		}
	}

	return nil
}
