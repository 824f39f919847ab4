package airank

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
)

// Ranking is one model verdict for a prefiltered candidate.
type Ranking struct {
	DBID      int64            `json:"db_id"`
	Score     float64          `json:"score"`
	MatchType domain.MatchType `json:"match_type"`
	Criteria  string           `json:"criteria"`
}

// ParseRankings decodes model output. It accepts a bare JSON array or a
// {"matches": [...]} wrapper, optionally inside a code fence. Entries whose
// db_id is not in allowed are dropped, and duplicate ids keep the highest
// score. The result is ordered by score descending then id ascending.
func ParseRankings(text string, allowed map[int64]struct{}) ([]Ranking, error) {
	cleaned := stripFences(text)

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, ErrNotJSONArray
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		matches, ok := v["matches"].([]any)
		if !ok {
			return nil, ErrNotJSONArray
		}
		items = matches
	default:
		return nil, ErrNotJSONArray
	}

	best := make(map[int64]Ranking, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := asInt(obj["db_id"])
		if !ok {
			continue
		}
		if _, ok := allowed[id]; !ok {
			continue
		}
		r := Ranking{
			DBID:      id,
			Score:     asFloat(obj["score"]),
			MatchType: asMatchType(obj["match_type"]),
		}
		if criteria, ok := obj["criteria"].(string); ok {
			r.Criteria = strings.TrimSpace(criteria)
		}
		if prev, seen := best[id]; seen && prev.Score >= r.Score {
			continue
		}
		best[id] = r
	}

	out := make([]Ranking, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DBID < out[j].DBID
	})
	return out, nil
}

func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	if idx := strings.Index(cleaned, "\n"); idx >= 0 {
		cleaned = cleaned[idx+1:]
	} else {
		cleaned = strings.TrimPrefix(cleaned, "```")
	}
	if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}

func asInt(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, true
		}
		f, err := val.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) float64 {
	switch val := v.(type) {
	case json.Number:
		f, _ := val.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	default:
		return 0
	}
}

func asMatchType(v any) domain.MatchType {
	s, _ := v.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return domain.MatchTypeWeak
	}
	return domain.MatchType(s)
}
