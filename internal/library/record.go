// Package library persists the skill library: one record per skill holding
// its embedding, its source text and the content hash the embedding was
// computed for.
package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nidhogg/palskill/internal/skill"
)

// ErrDecode is returned when a persisted library cannot be decoded.
var ErrDecode = errors.New("library: decode failed")

// Library file names per mode.
const (
	FullLibraryFile  = "skill_lib.json"
	BasicLibraryFile = "skill_lib_basic.json"
)

// FileName returns the library file used by mode.
func FileName(mode skill.Mode) string {
	if mode == skill.ModeBasic {
		return BasicLibraryFile
	}
	return FullLibraryFile
}

// Record is the persisted form of one skill.
type Record struct {
	Name      string
	Embedding []float32
	Code      string
	CodeHash  string
}

// FromSkill captures s for persistence.
func FromSkill(s *skill.Skill) Record {
	return Record{
		Name:      s.Name,
		Embedding: s.Embedding,
		Code:      s.Source,
		CodeHash:  s.Hash,
	}
}

type wireRecord struct {
	Embedding []float32 `json:"embedding"`
	Code      string    `json:"code"`
	CodeHash  string    `json:"code_hash"`
}

// Encode renders records as an ordered JSON object keyed by name, indented
// with four spaces and terminated by a newline. A later record with the same
// name replaces an earlier one in place.
func Encode(records []Record) ([]byte, error) {
	om := orderedmap.New[string, wireRecord]()
	for _, r := range records {
		emb := r.Embedding
		if emb == nil {
			emb = []float32{}
		}
		om.Set(r.Name, wireRecord{Embedding: emb, Code: r.Code, CodeHash: r.CodeHash})
	}
	raw, err := om.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("library: encode: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return nil, fmt.Errorf("library: indent: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode parses a library document. Empty input is an empty library.
func Decode(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrDecode)
	}
	om := orderedmap.New[string, wireRecord]()
	if err := om.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	records := make([]Record, 0, om.Len())
	for p := om.Oldest(); p != nil; p = p.Next() {
		records = append(records, Record{
			Name:      p.Key,
			Embedding: p.Value.Embedding,
			Code:      p.Value.Code,
			CodeHash:  p.Value.CodeHash,
		})
	}
	return records, nil
}

// dedupe keeps the first position of each name with the last record written
// for it, matching what Encode produces.
func dedupe(records []Record) []Record {
	idx := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := idx[r.Name]; ok {
			out[i] = r
			continue
		}
		idx[r.Name] = len(out)
		out = append(out, r)
	}
	return out
}
