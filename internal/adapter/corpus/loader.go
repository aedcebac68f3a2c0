package corpus

import (
	"archive/zip"
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"clinrag/internal/domain"
)

const preferredEntry = "corpus.json"

// LoadOptions selects which files make up the corpus.
type LoadOptions struct {
	// Includes are doublestar patterns matched against lowercased paths
	// relative to a directory or zip root.
	Includes []string
	Excludes []string
}

func (o LoadOptions) withDefaults() LoadOptions {
	if len(o.Includes) == 0 {
		o.Includes = []string{"**/*.{json,jsonl,ndjson}"}
	}
	return o
}

func (o LoadOptions) match(rel string) bool {
	rel = strings.ToLower(filepath.ToSlash(rel))
	for _, pattern := range o.Excludes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return false
		}
	}
	for _, pattern := range o.Includes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// LoadPath normalizes a corpus from a JSON/JSONL file, a zip archive, or a
// directory. A directory contributes every matching file in lexical order.
func LoadPath(p string, opts LoadOptions) ([]domain.ProtocolRecord, error) {
	opts = opts.withDefaults()
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInput, err)
	}

	switch {
	case info.IsDir():
		return loadDir(p, opts)
	case strings.EqualFold(filepath.Ext(p), ".zip"):
		return loadZip(p, opts)
	default:
		return loadFile(p)
	}
}

func loadFile(p string) ([]domain.ProtocolRecord, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := NewNormalizer().Normalize(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return records, nil
}

func loadDir(root string, opts LoadOptions) ([]domain.ProtocolRecord, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && !opts.matchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.match(rel) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no corpus files under %s", domain.ErrInput, root)
	}
	sort.Strings(files)

	var records []domain.ProtocolRecord
	for _, f := range files {
		recs, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (o LoadOptions) matchDir(rel string) bool {
	rel = strings.ToLower(filepath.ToSlash(rel)) + "/"
	for _, pattern := range o.Excludes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return false
		}
	}
	return true
}

// loadZip reads one entry: corpus.json when present, otherwise the first
// matching entry in archive order.
func loadZip(p string, opts LoadOptions) ([]domain.ProtocolRecord, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInput, err)
	}
	defer zr.Close()

	var chosen *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !opts.match(f.Name) {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), preferredEntry) {
			chosen = f
			break
		}
		if chosen == nil {
			chosen = f
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: no .json/.jsonl/.ndjson entry in %s", domain.ErrInput, p)
	}

	rc, err := chosen.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	records, err := NewNormalizer().Normalize(rc)
	if err != nil {
		return nil, fmt.Errorf("%s!%s: %w", p, chosen.Name, err)
	}
	return records, nil
}

// WriteJSONL writes records one per line, creating parent directories.
func WriteJSONL(p string, records []domain.ProtocolRecord) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if r.ICDCodes == nil {
			r.ICDCodes = []string{}
		}
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadJSONL reads a processed corpus written by WriteJSONL.
func ReadJSONL(r io.Reader) ([]domain.ProtocolRecord, error) {
	return NewNormalizer().Normalize(r)
}
