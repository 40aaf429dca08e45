package stream

import (
	"bytes"
	"encoding/json"

	"niftyscan/internal/domain"
)

// Message types on the wire.
const (
	TypeStock = "stock"
	TypeDone  = "done"
)

// Message is one decoded line of the analysis stream.
//
//	{"type":"stock","data":{...},"index":0,"total":50}
//	{"type":"done"}
type Message struct {
	Type  string              `json:"type"`
	Data  *domain.AnalysisRow `json:"data"`
	Index int                 `json:"index"`
	Total int                 `json:"total"`
}

// IsDone reports whether m is the completion marker.
func (m Message) IsDone() bool { return m.Type == TypeDone }

// wireMessage uses pointers so missing fields can be told apart from zero.
type wireMessage struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Index *int            `json:"index"`
	Total *int            `json:"total"`
}

// ParseMessage decodes a single line. Any failure is a ParseError carrying
// the line.
func ParseMessage(line string) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return Message{}, parseErr(line, err, "invalid JSON")
	}

	switch w.Type {
	case TypeDone:
		return Message{Type: TypeDone}, nil

	case TypeStock:
		if w.Index == nil || w.Total == nil {
			return Message{}, parseErr(line, nil, "stock message missing index or total")
		}
		if *w.Index < 0 || *w.Total < 0 {
			return Message{}, parseErr(line, nil, "negative index or total")
		}
		msg := Message{Type: TypeStock, Index: *w.Index, Total: *w.Total}

		// data is null when the server could not analyse the ticker.
		if len(w.Data) > 0 && !bytes.Equal(bytes.TrimSpace(w.Data), []byte("null")) {
			var row domain.AnalysisRow
			if err := json.Unmarshal(w.Data, &row); err != nil {
				return Message{}, parseErr(line, err, "invalid row data")
			}
			if row.Ticker == "" {
				return Message{}, parseErr(line, nil, "row missing Ticker")
			}
			msg.Data = &row
		}
		return msg, nil

	case "":
		return Message{}, parseErr(line, nil, "missing type")
	default:
		return Message{}, parseErr(line, nil, "unknown message type %q", w.Type)
	}
}

// EncodeMessage renders m as one newline-terminated line. Keys such as
// "High>Open%" are written verbatim, not HTML-escaped.
func EncodeMessage(m Message) ([]byte, error) {
	var v any = m
	if m.IsDone() {
		v = struct {
			Type string `json:"type"`
		}{TypeDone}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseErr(line string, cause error, format string, args ...any) *Error {
	e := Errorf(ParseError, cause, format, args...)
	e.Line = line
	return e
}
