package ranker

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"clinrag/internal/domain"
)

const envelopeSchema = `{
	"type": "object",
	"required": ["diagnoses"],
	"properties": {
		"diagnoses": {"type": "array"}
	}
}`

var envelope = mustSchema(envelopeSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// ParseDiagnoses extracts a ranked diagnosis list from free-form model
// output. The whole text is tried as JSON first, then the span from the
// first '{' to the last '}'. Anything that does not yield an object with a
// "diagnoses" array gives an empty list. It never fails.
func ParseDiagnoses(text string, topK int) []domain.Diagnosis {
	raw := extractJSON(text)
	if raw == nil {
		return []domain.Diagnosis{}
	}

	result, err := envelope.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil || !result.Valid() {
		return []domain.Diagnosis{}
	}

	var doc struct {
		Diagnoses []any `json:"diagnoses"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return []domain.Diagnosis{}
	}

	out := make([]domain.Diagnosis, 0, len(doc.Diagnoses))
	for _, item := range doc.Diagnoses {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rank, ok := parseRank(entry["rank"])
		if !ok {
			rank = len(out) + 1
		}
		out = append(out, domain.Diagnosis{
			Rank:        rank,
			Diagnosis:   stringField(entry["diagnosis"]),
			ICD10Code:   stringField(entry["icd10_code"]),
			Explanation: stringField(entry["explanation"]),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// extractJSON returns the candidate JSON bytes, or nil.
func extractJSON(text string) []byte {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if json.Valid([]byte(text)) {
		return []byte(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil
	}
	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil
	}
	return candidate
}

func parseRank(v any) (int, bool) {
	switch r := v.(type) {
	case json.Number:
		if n, err := r.Int64(); err == nil {
			return int(n), true
		}
		if f, err := r.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(r)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func stringField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
