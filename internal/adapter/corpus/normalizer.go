package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"clinrag/internal/domain"
	"clinrag/internal/port"
)

// Normalizer reads a raw corpus as a JSON array or as JSON Lines and
// returns cleaned protocol records in input order.
type Normalizer struct{}

var _ port.Normalizer = (*Normalizer)(nil)

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// rawRecord mirrors one corpus row. Fields are decoded loosely because
// upstream exports are inconsistent about ids and code lists.
type rawRecord struct {
	ProtocolID any `json:"protocol_id"`
	SourceFile any `json:"source_file"`
	Title      any `json:"title"`
	ICDCodes   any `json:"icd_codes"`
	Text       any `json:"text"`
}

// Normalize implements port.Normalizer. The format is chosen by the first
// non-space byte: '[' means a JSON array, anything else JSON Lines.
func (n *Normalizer) Normalize(r io.Reader) ([]domain.ProtocolRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []domain.ProtocolRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []rawRecord
	if first == '[' {
		rows, err = decodeArray(br)
	} else {
		rows, err = decodeLines(br)
	}
	if err != nil {
		return nil, err
	}

	records := make([]domain.ProtocolRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := row.normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", domain.ErrInput, i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		// skip a UTF-8 byte order mark
		if b == 0xEF {
			if next, _ := br.Peek(2); bytes.Equal(next, []byte{0xBB, 0xBF}) {
				br.Discard(2)
				continue
			}
		}
		if !isSpace(b) {
			return b, br.UnreadByte()
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}

func decodeArray(r io.Reader) ([]rawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rows []rawRecord
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: corpus array: %v", domain.ErrInput, err)
	}
	return rows, nil
}

func decodeLines(r io.Reader) ([]rawRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var rows []rawRecord
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var row rawRecord
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInput, line, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r rawRecord) normalize() (domain.ProtocolRecord, error) {
	id := scalarString(r.ProtocolID)
	if id == "" {
		return domain.ProtocolRecord{}, fmt.Errorf("missing protocol_id")
	}
	return domain.ProtocolRecord{
		ProtocolID: id,
		SourceFile: scalarString(r.SourceFile),
		Title:      scalarString(r.Title),
		ICDCodes:   codeList(r.ICDCodes),
		Text:       CleanText(scalarString(r.Text)),
	}, nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case bool:
		return fmt.Sprint(s)
	}
	return ""
}

func codeList(v any) []string {
	codes := []string{}
	switch c := v.(type) {
	case []any:
		for _, item := range c {
			if s := scalarString(item); s != "" {
				codes = append(codes, s)
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(c, func(r rune) bool { return r == ',' || r == ';' }) {
			if s := strings.TrimSpace(part); s != "" {
				codes = append(codes, s)
			}
		}
	}
	return codes
}

// CleanText replaces tabs and newlines with spaces and collapses runs of
// whitespace.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
