// Package chatcontent splits assistant replies into text and the structured
// product/order records the RAG service embeds inline.
package chatcontent

import (
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

type Kind int

const (
	SegmentText Kind = iota
	SegmentProducts
	SegmentOrders
)

func (k Kind) String() string {
	switch k {
	case SegmentProducts:
		return "products"
	case SegmentOrders:
		return "orders"
	default:
		return "text"
	}
}

// Segment is one piece of a reply. Exactly one of Text, Products or Orders is
// set, according to Kind.
type Segment struct {
	Kind     Kind
	Text     string
	Products []Record
	Orders   []Record
}

// Record is a product or order object exactly as the service sent it. Numbers
// are kept as json.Number so re-encoding reproduces the original literal.
type Record map[string]any

func (s Segment) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SegmentProducts:
		return json.Marshal(struct {
			Type  string   `json:"type"`
			Items []Record `json:"items"`
		}{"products", s.Products})
	case SegmentOrders:
		return json.Marshal(struct {
			Type  string   `json:"type"`
			Items []Record `json:"items"`
		}{"orders", s.Orders})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", s.Text})
	}
}

var recordStart = regexp.MustCompile(`\{\s*"type"\s*:\s*"(product|order)"`)

// Parse splits raw into ordered segments. Text between records is trimmed and
// dropped when empty. Adjacent records of the same type share one segment.
// A record that never closes or is not valid JSON is demoted: its opening brace
// becomes text and scanning resumes at the next byte.
func Parse(raw string) []Segment {
	var (
		segments []Segment
		pending  strings.Builder
	)

	flushText := func() {
		text := strings.TrimSpace(pending.String())
		pending.Reset()
		if text != "" {
			segments = append(segments, Segment{Kind: SegmentText, Text: text})
		}
	}

	pos := 0
	for pos < len(raw) {
		loc := recordStart.FindStringSubmatchIndex(raw[pos:])
		if loc == nil {
			pending.WriteString(raw[pos:])
			break
		}
		start := pos + loc[0]
		kind := raw[pos+loc[2] : pos+loc[3]]
		pending.WriteString(raw[pos:start])

		end := objectEnd(raw, start)
		if end < 0 {
			pending.WriteByte('{')
			pos = start + 1
			continue
		}

		rec, err := decodeRecord(raw[start:end])
		if err != nil {
			pending.WriteByte('{')
			pos = start + 1
			continue
		}
		flushText()
		if kind == "product" {
			segments = appendRecord(segments, SegmentProducts, rec)
		} else {
			segments = appendRecord(segments, SegmentOrders, rec)
		}
		pos = end
	}
	flushText()
	return segments
}

// objectEnd returns the index just past the brace closing the object that
// opens at start, or -1 when it never closes.
func objectEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func decodeRecord(body string) (Record, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func appendRecord(segments []Segment, kind Kind, rec Record) []Segment {
	if n := len(segments); n > 0 && segments[n-1].Kind == kind {
		last := &segments[n-1]
		if kind == SegmentProducts {
			last.Products = append(last.Products, rec)
		} else {
			last.Orders = append(last.Orders, rec)
		}
		return segments
	}
	seg := Segment{Kind: kind}
	if kind == SegmentProducts {
		seg.Products = []Record{rec}
	} else {
		seg.Orders = []Record{rec}
	}
	return append(segments, seg)
}
