package tracelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
)

// ErrStop ends ScanObjects early without reporting an error.
var ErrStop = errors.New("stop_scan")

// ScanObjects calls fn with every top-level JSON object in r. The scanner
// balances braces while honoring strings and escapes, so concatenated
// objects, JSON lines and a wrapping array are all accepted. Bytes outside
// an object are skipped and an unterminated trailing object is dropped.
//
// An object cut short by a crash is abandoned at the next raw newline
// inside a string or the next '{' that opens a line, and scanning resumes
// there. Encoded strings never hold a raw newline and the writer emits one
// object per line.
func ScanObjects(r io.Reader, fn func(raw []byte) error) error {
	br := bufio.NewReader(r)
	var (
		buf      []byte
		depth    int
		inString bool
		escaped  bool
	)
	lineStart := true
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		atLineStart := lineStart
		lineStart = b == '\n'

		if depth > 0 {
			switch {
			case inString && b == '\n':
				depth = 0
				buf = buf[:0]
				continue
			case atLineStart && b == '{':
				depth = 0
			}
		}

		if depth == 0 {
			if b != '{' {
				continue
			}
			buf = append(buf[:0], b)
			depth = 1
			inString, escaped = false, false
			continue
		}

		buf = append(buf, b)
		switch {
		case escaped:
			escaped = false
		case inString:
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{':
			depth++
		case b == '}':
			depth--
			if depth == 0 {
				obj := make([]byte, len(buf))
				copy(obj, buf)
				if err := fn(obj); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return err
				}
			}
		}
	}
}

// ReadEvents returns the events for rid in file order. Objects that are not
// valid events are skipped. An empty rid returns every event.
func ReadEvents(r io.Reader, rid string) ([]Event, error) {
	out := []Event{}
	err := ScanObjects(r, func(raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.RID == "" {
			return nil
		}
		if rid == "" || ev.RID == rid {
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func ReadFile(path, rid string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadEvents(f, rid)
}

type RIDSummary struct {
	RID     string `json:"rid"`
	Events  int    `json:"events"`
	FirstTS string `json:"first_ts"`
	LastTS  string `json:"last_ts"`
}

// Summarize counts events per rid, ordered by first appearance.
func Summarize(r io.Reader) ([]RIDSummary, error) {
	index := map[string]int{}
	out := []RIDSummary{}
	err := ScanObjects(r, func(raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.RID == "" {
			return nil
		}
		i, ok := index[ev.RID]
		if !ok {
			i = len(out)
			index[ev.RID] = i
			out = append(out, RIDSummary{RID: ev.RID, FirstTS: ev.TS})
		}
		out[i].Events++
		out[i].LastTS = ev.TS
		return nil
	})
	return out, err
}

// FilterStep keeps events with the given step. An empty step keeps all.
func FilterStep(events []Event, step string) []Event {
	if step == "" {
		return events
	}
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Step == step {
			out = append(out, ev)
		}
	}
	return out
}

// SortByTS orders events by timestamp, keeping file order for ties.
func SortByTS(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS < events[j].TS })
}
