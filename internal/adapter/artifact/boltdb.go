package artifact

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"clinrag/internal/domain"
)

var (
	bucketMeta       = []byte("meta")
	bucketProtocols  = []byte("protocols")
	bucketEmbeddings = []byte("embeddings")

	keyVersion       = []byte("artifact_version")
	keyCreatedAt     = []byte("created_at")
	keyEncoder       = []byte("encoder_descriptor")
	keyProtocolCount = []byte("protocol_count")
	keyRows          = []byte("rows")
	keyDim           = []byte("dim")
	keyMatrix        = []byte("matrix")
)

const openTimeout = 2 * time.Second

// Write stores a into a single bbolt file at path. The file is built under
// a temporary name in the same directory and renamed into place, so path
// holds either the previous artifact or the complete new one.
func Write(path string, a *domain.Artifact) (err error) {
	if err := Validate(a); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()
	if err := tmp.Close(); err != nil {
		return err
	}

	db, err := bbolt.Open(tmpPath, 0644, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to open temp artifact: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		return writeTx(tx, a)
	}); err != nil {
		db.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	syncDir(dir)
	return nil
}

func writeTx(tx *bbolt.Tx, a *domain.Artifact) error {
	meta, err := tx.CreateBucket(bucketMeta)
	if err != nil {
		return err
	}
	enc, err := json.Marshal(a.Encoder)
	if err != nil {
		return err
	}
	if err := putAll(meta, map[string][]byte{
		string(keyVersion):       itob(a.ArtifactVersion),
		string(keyCreatedAt):     []byte(a.CreatedAt.UTC().Format(time.RFC3339Nano)),
		string(keyEncoder):       enc,
		string(keyProtocolCount): itob(a.ProtocolCount),
	}); err != nil {
		return err
	}

	protocols, err := tx.CreateBucket(bucketProtocols)
	if err != nil {
		return err
	}
	for i, p := range a.Protocols {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := protocols.Put(rowKey(i), data); err != nil {
			return err
		}
	}

	embeddings, err := tx.CreateBucket(bucketEmbeddings)
	if err != nil {
		return err
	}
	return putAll(embeddings, map[string][]byte{
		string(keyRows):   itob(a.Embeddings.Rows),
		string(keyDim):    itob(a.Embeddings.Dim),
		string(keyMatrix): encodeMatrix(a.Embeddings.Data),
	})
}

// Read loads and validates the artifact at path. The file is opened
// read-only, so any number of processes may read it concurrently.
func Read(path string) (*domain.Artifact, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err)
	}

	db, err := bbolt.Open(path, 0444, &bbolt.Options{ReadOnly: true, Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrArtifactCorrupt, path, err)
	}
	defer db.Close()

	a := &domain.Artifact{}
	if err := db.View(func(tx *bbolt.Tx) error {
		return readTx(tx, a)
	}); err != nil {
		return nil, err
	}

	if err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

func readTx(tx *bbolt.Tx, a *domain.Artifact) error {
	meta := tx.Bucket(bucketMeta)
	if meta == nil {
		return corrupt("missing meta bucket")
	}

	var err error
	if a.ArtifactVersion, err = getInt(meta, keyVersion); err != nil {
		return err
	}
	if err := checkVersion(a.ArtifactVersion); err != nil {
		return err
	}
	if a.ProtocolCount, err = getInt(meta, keyProtocolCount); err != nil {
		return err
	}

	created := meta.Get(keyCreatedAt)
	if created == nil {
		return corrupt("missing created_at")
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, string(created)); err != nil {
		return corrupt("bad created_at: %v", err)
	}

	enc := meta.Get(keyEncoder)
	if enc == nil {
		return corrupt("missing encoder_descriptor")
	}
	if err := json.Unmarshal(enc, &a.Encoder); err != nil {
		return corrupt("bad encoder_descriptor: %v", err)
	}

	protocols := tx.Bucket(bucketProtocols)
	if protocols == nil {
		return corrupt("missing protocols")
	}
	next := 0
	if err := protocols.ForEach(func(k, v []byte) error {
		if len(k) != 8 || binary.BigEndian.Uint64(k) != uint64(next) {
			return corrupt("protocol row %d out of sequence", next)
		}
		var p domain.ProtocolRecord
		if err := json.Unmarshal(v, &p); err != nil {
			return corrupt("bad protocol row %d: %v", next, err)
		}
		a.Protocols = append(a.Protocols, p)
		next++
		return nil
	}); err != nil {
		return err
	}

	embeddings := tx.Bucket(bucketEmbeddings)
	if embeddings == nil {
		return corrupt("missing embeddings")
	}
	if a.Embeddings.Rows, err = getInt(embeddings, keyRows); err != nil {
		return err
	}
	if a.Embeddings.Dim, err = getInt(embeddings, keyDim); err != nil {
		return err
	}
	raw := embeddings.Get(keyMatrix)
	if raw == nil {
		return corrupt("missing embedding matrix")
	}
	if a.Embeddings.Rows < 0 || a.Embeddings.Dim < 0 || len(raw) != 4*a.Embeddings.Rows*a.Embeddings.Dim {
		return corrupt("embedding matrix has %d bytes for shape %dx%d", len(raw), a.Embeddings.Rows, a.Embeddings.Dim)
	}
	a.Embeddings.Data = decodeMatrix(raw)
	return nil
}

// Validate checks the count and dimension invariants that bind protocols
// to matrix rows.
func Validate(a *domain.Artifact) error {
	if a == nil {
		return corrupt("nil artifact")
	}
	if a.ProtocolCount != len(a.Protocols) {
		return inconsistent("protocol_count %d != %d protocols", a.ProtocolCount, len(a.Protocols))
	}
	if a.ProtocolCount != a.Embeddings.Rows {
		return inconsistent("protocol_count %d != %d embedding rows", a.ProtocolCount, a.Embeddings.Rows)
	}
	if a.Encoder.EmbeddingDim != a.Embeddings.Dim {
		return inconsistent("embedding_dim %d != matrix dimension %d", a.Encoder.EmbeddingDim, a.Embeddings.Dim)
	}
	if len(a.Embeddings.Data) != a.Embeddings.Rows*a.Embeddings.Dim {
		return inconsistent("matrix has %d values for shape %dx%d", len(a.Embeddings.Data), a.Embeddings.Rows, a.Embeddings.Dim)
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrArtifactCorrupt, fmt.Sprintf(format, args...))
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrArtifactInconsistent, fmt.Sprintf(format, args...))
}

func putAll(b *bbolt.Bucket, kv map[string][]byte) error {
	for k, v := range kv {
		if err := b.Put([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func getInt(b *bbolt.Bucket, key []byte) (int, error) {
	v := b.Get(key)
	if v == nil {
		return 0, corrupt("missing %s", key)
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, corrupt("bad %s: %v", key, err)
	}
	return n, nil
}

func itob(n int) []byte {
	return []byte(strconv.Itoa(n))
}

func rowKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func encodeMatrix(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeMatrix(raw []byte) []float32 {
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return data
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// IsArtifactError reports whether err is one of the load-time artifact errors.
func IsArtifactError(err error) bool {
	return errors.Is(err, domain.ErrArtifactNotFound) ||
		errors.Is(err, domain.ErrArtifactCorrupt) ||
		errors.Is(err, domain.ErrArtifactInconsistent)
}
