package usecase

import (
	"context"
	"errors"
	"sync/atomic"

	"clinrag/internal/adapter/embedding"
	"clinrag/internal/domain"
	"clinrag/internal/port"
)

var scenarioRecords = []domain.ProtocolRecord{
	{ProtocolID: "1", SourceFile: "pulm.json", Title: "Bronchial asthma", ICDCodes: []string{"J45"},
		Text: "Bronchial asthma: wheezing, cough and shortness of breath"},
	{ProtocolID: "2", SourceFile: "obst.json", Title: "Gestational hypertension", ICDCodes: []string{"O13", "O14"},
		Text: "Gestational hypertension: high blood pressure in pregnancy after 20 weeks"},
	{ProtocolID: "3", SourceFile: "trauma.json", Title: "Forearm fracture", ICDCodes: []string{"S52"},
		Text: "Closed fracture of the forearm after a fall"},
}

func newHashing(t interface{ Fatal(...any) }) *embedding.HashingEncoder {
	enc, err := embedding.NewHashingEncoder("hashing-ngram-v1", 3, 4096)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

// stubEncoder returns fixed-size vectors derived from text length and
// counts calls.
type stubEncoder struct {
	dim   int
	err   error
	calls atomic.Int32
}

func (e *stubEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dim)
		v[len(text)%e.dim] = 1
		out[i] = v
	}
	return out, nil
}

func (e *stubEncoder) Descriptor() domain.EncoderDescriptor {
	return domain.EncoderDescriptor{Type: "stub", ModelDirOrName: "stub", EmbeddingDim: e.dim, LocalOnly: true}
}

// blockingEncoder waits for its context to end.
type blockingEncoder struct{ stubEncoder }

func (e *blockingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 1 && texts[0] == probeText {
		return e.stubEncoder.Encode(ctx, texts)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type factoryFunc func(domain.EncoderDescriptor) (port.Encoder, error)

func (f factoryFunc) FromDescriptor(desc domain.EncoderDescriptor) (port.Encoder, error) {
	return f(desc)
}

func fixedFactory(enc port.Encoder) port.EncoderFactory {
	return factoryFunc(func(domain.EncoderDescriptor) (port.Encoder, error) { return enc, nil })
}

var errBoom = errors.New("boom")
