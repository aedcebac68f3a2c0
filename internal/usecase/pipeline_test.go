package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"clinrag/config"
	"clinrag/internal/adapter/embedding"
	"clinrag/internal/domain"
	"clinrag/internal/port"
)

func buildScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.db")
	if _, err := NewBuildUseCase(newHashing(t), BuildOptions{BatchSize: 2}).
		Save(context.Background(), path, scenarioRecords); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadScenario(t *testing.T) *Pipeline {
	t.Helper()
	p, err := FromArtifact(context.Background(), buildScenario(t), embedding.NewFactory(config.DefaultConfig().Encoder), PipelineOptions{CacheSize: 8, CacheTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPipeline_RanksRelevantProtocolFirst(t *testing.T) {
	p := loadScenario(t)
	if !p.Ready() || p.Size() != 3 {
		t.Fatalf("ready=%v size=%d", p.Ready(), p.Size())
	}

	results, err := p.Retrieve(context.Background(), "pregnant patient with hypertension", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ProtocolID != "2" || results[0].ICDCodes[1] != "O14" {
		t.Errorf("expected protocol 2 first, got %+v", results[0])
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not best-first: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestPipeline_PregnancyQueryWithoutSharedWords(t *testing.T) {
	records := []domain.ProtocolRecord{
		{ProtocolID: "1", Title: "Acute nasopharyngitis", ICDCodes: []string{"J00"}, Text: "fever and cough"},
		{ProtocolID: "2", Title: "Pre-eclampsia", ICDCodes: []string{"O14"}, Text: "high blood pressure in pregnancy"},
		{ProtocolID: "3", Title: "Fracture of forearm", ICDCodes: []string{"S52"}, Text: "broken arm fracture"},
	}
	cfg := config.DefaultConfig().Encoder
	enc, err := embedding.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.db")
	if _, err := NewBuildUseCase(enc, BuildOptions{}).Save(context.Background(), path, records); err != nil {
		t.Fatal(err)
	}

	p, err := FromArtifact(context.Background(), path, embedding.NewFactory(cfg), PipelineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	results, err := p.Retrieve(context.Background(), "pregnant patient with hypertension", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ICDCodes[0] != "O14" {
		t.Errorf("expected O14 first, got %+v", results[0])
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected a strictly better top score: %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestPipeline_ResultsDoNotAliasArtifact(t *testing.T) {
	p := loadScenario(t)
	ctx := context.Background()

	first, err := p.Retrieve(ctx, "forearm fracture", 1)
	if err != nil {
		t.Fatal(err)
	}
	first[0].ICDCodes[0] = "XXX"

	second, err := p.Retrieve(ctx, "forearm fracture", 1)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].ICDCodes[0] != "S52" {
		t.Errorf("mutating a result changed the loaded corpus: %v", second[0].ICDCodes)
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	p := loadScenario(t)
	ctx := context.Background()

	first, err := p.Retrieve(ctx, "wheezing and cough", 3)
	if err != nil {
		t.Fatal(err)
	}
	// the second call is served from the vector cache
	second, err := p.Retrieve(ctx, "  wheezing and cough ", 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i].ProtocolID != second[i].ProtocolID || first[i].Score != second[i].Score {
			t.Fatalf("result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].ProtocolID != "1" {
		t.Errorf("expected asthma first, got %s", first[0].ProtocolID)
	}
}

func TestPipeline_BlankQuery(t *testing.T) {
	p := loadScenario(t)
	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := p.Retrieve(context.Background(), q, 3)
		if err != nil {
			t.Fatalf("query %q: %v", q, err)
		}
		if results == nil || len(results) != 0 {
			t.Errorf("query %q: expected empty non-nil result, got %v", q, results)
		}
	}
}

func TestPipeline_KBounds(t *testing.T) {
	p := loadScenario(t)
	tests := []struct {
		k    int
		want int
	}{
		{-1, 1},
		{0, 1},
		{1, 1},
		{3, 3},
		{50, 3},
	}
	for _, tt := range tests {
		results, err := p.Retrieve(context.Background(), "fracture", tt.k)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != tt.want {
			t.Errorf("k=%d: got %d results, want %d", tt.k, len(results), tt.want)
		}
	}
}

func TestPipeline_NoOverlapKeepsRowOrder(t *testing.T) {
	p := loadScenario(t)
	results, err := p.Retrieve(context.Background(), "zzz qqq", 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.Score != 0 {
			t.Errorf("expected zero score, got %v", r.Score)
		}
		if r.ProtocolID != scenarioRecords[i].ProtocolID {
			t.Errorf("position %d: got %s, want %s", i, r.ProtocolID, scenarioRecords[i].ProtocolID)
		}
	}
}

func TestFromArtifact_Errors(t *testing.T) {
	factory := embedding.NewFactory(config.DefaultConfig().Encoder)

	if _, err := FromArtifact(context.Background(), filepath.Join(t.TempDir(), "none.db"), factory, PipelineOptions{}); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}

	path := buildScenario(t)

	wrongDim := fixedFactory(&stubEncoder{dim: 16})
	if _, err := FromArtifact(context.Background(), path, wrongDim, PipelineOptions{}); !errors.Is(err, domain.ErrEncoderMismatch) {
		t.Errorf("expected ErrEncoderMismatch for wrong dimension, got %v", err)
	}

	unbuildable := factoryFunc(func(domain.EncoderDescriptor) (port.Encoder, error) { return nil, errBoom })
	if _, err := FromArtifact(context.Background(), path, unbuildable, PipelineOptions{}); !errors.Is(err, domain.ErrEncoderMismatch) {
		t.Errorf("expected ErrEncoderMismatch for unbuildable encoder, got %v", err)
	}
}

func TestFromArtifact_Inconsistent(t *testing.T) {
	path := buildScenario(t)

	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("meta")).Put([]byte("protocol_count"), []byte("4"))
	}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	_, err = FromArtifact(context.Background(), path, embedding.NewFactory(config.DefaultConfig().Encoder), PipelineOptions{})
	if !errors.Is(err, domain.ErrArtifactInconsistent) {
		t.Fatalf("expected ErrArtifactInconsistent, got %v", err)
	}
}

func TestRetrieve_EncodeTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.db")
	enc := &blockingEncoder{stubEncoder{dim: 5}}
	if _, err := NewBuildUseCase(&enc.stubEncoder, BuildOptions{}).Save(context.Background(), path, scenarioRecords); err != nil {
		t.Fatal(err)
	}

	p, err := FromArtifact(context.Background(), path, fixedFactory(enc), PipelineOptions{EncodeTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Retrieve(context.Background(), "anything", 2)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRetrieve_EncoderFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.db")
	if _, err := NewBuildUseCase(&stubEncoder{dim: 5}, BuildOptions{}).Save(context.Background(), path, scenarioRecords); err != nil {
		t.Fatal(err)
	}
	failing := &failAfterProbe{stubEncoder: stubEncoder{dim: 5}}

	p, err := FromArtifact(context.Background(), path, fixedFactory(failing), PipelineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Retrieve(context.Background(), "anything", 2); !errors.Is(err, domain.ErrEncoderUnavailable) {
		t.Fatalf("expected ErrEncoderUnavailable, got %v", err)
	}
}

type failAfterProbe struct{ stubEncoder }

func (e *failAfterProbe) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 1 && texts[0] == probeText {
		return e.stubEncoder.Encode(ctx, texts)
	}
	return nil, errBoom
}

func TestPipeline_ConcurrentRetrieve(t *testing.T) {
	p := loadScenario(t)
	queries := []string{"pregnant patient with hypertension", "wheezing and cough", "forearm fracture"}
	want := []string{"2", "1", "3"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := i % len(queries)
			results, err := p.Retrieve(context.Background(), queries[q], 1)
			if err != nil {
				t.Error(err)
				return
			}
			if results[0].ProtocolID != want[q] {
				t.Errorf("query %q: got %s, want %s", queries[q], results[0].ProtocolID, want[q])
			}
		}(i)
	}
	wg.Wait()
}
