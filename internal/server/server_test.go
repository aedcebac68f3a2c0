package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinrag/internal/domain"
)

type stubDiagnoser struct {
	gotSymptoms string
	gotTopK     int
	result      []domain.Diagnosis
	err         error
}

func (d *stubDiagnoser) Diagnose(_ context.Context, symptoms string, topK int) ([]domain.Diagnosis, error) {
	d.gotSymptoms = symptoms
	d.gotTopK = topK
	return d.result, d.err
}

type stubStatus struct{ ready bool }

func (s stubStatus) Ready() bool { return s.ready }
func (s stubStatus) Descriptor() domain.EncoderDescriptor {
	return domain.EncoderDescriptor{Type: "hashing", ModelDirOrName: "hashing-ngram-v1:n3", EmbeddingDim: 1024, LocalOnly: true}
}
func (s stubStatus) Size() int            { return 3 }
func (s stubStatus) CreatedAt() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/diagnose", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDiagnose_OK(t *testing.T) {
	d := &stubDiagnoser{result: []domain.Diagnosis{{Rank: 1, Diagnosis: "Preeclampsia", ICD10Code: "O14", Explanation: "fits"}}}
	h := New(d, stubStatus{ready: true}, nil).Handler()

	rec := post(t, h, `{"symptoms":"pregnant with hypertension","top_k":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp diagnoseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Diagnoses, 1)
	assert.Equal(t, "O14", resp.Diagnoses[0].ICD10Code)
	assert.Equal(t, "pregnant with hypertension", d.gotSymptoms)
	assert.Equal(t, 2, d.gotTopK)
}

func TestDiagnose_TopKDefaults(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{`{"symptoms":"x"}`, 3},
		{`{"symptoms":"x","top_k":0}`, 3},
		{`{"symptoms":"x","top_k":null}`, 3},
		{`{"symptoms":"x","top_k":-4}`, -4},
		{`{"symptoms":"x","top_k":25}`, 25},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			d := &stubDiagnoser{result: []domain.Diagnosis{}}
			rec := post(t, New(d, nil, nil).Handler(), tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, d.gotTopK, "clamping is left to the use case")
		})
	}
}

func TestDiagnose_ConfiguredDefaultTopK(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{`{"symptoms":"x"}`, 5},
		{`{"symptoms":"x","top_k":0}`, 5},
		{`{"symptoms":"x","top_k":2}`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			d := &stubDiagnoser{result: []domain.Diagnosis{}}
			rec := post(t, New(d, nil, nil, WithDefaultTopK(5)).Handler(), tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, d.gotTopK)
		})
	}

	d := &stubDiagnoser{result: []domain.Diagnosis{}}
	post(t, New(d, nil, nil, WithDefaultTopK(0)).Handler(), `{"symptoms":"x"}`)
	assert.Equal(t, 3, d.gotTopK, "non-positive default is ignored")
}

func TestDiagnose_EmptyListIsArray(t *testing.T) {
	d := &stubDiagnoser{result: []domain.Diagnosis{}}
	rec := post(t, New(d, nil, nil).Handler(), `{"symptoms":null}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"diagnoses":[]}`, rec.Body.String())
	assert.Equal(t, "", d.gotSymptoms)
}

func TestDiagnose_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: ranking request", domain.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: connection refused", domain.ErrEncoderUnavailable), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := post(t, New(&stubDiagnoser{err: tt.err}, nil, nil).Handler(), `{"symptoms":"x"}`)
		assert.Equal(t, tt.want, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
	}
}

func TestDiagnose_BadBody(t *testing.T) {
	rec := post(t, New(&stubDiagnoser{}, nil, nil).Handler(), `{"symptoms":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	get := func(h http.Handler, path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	loading := New(&stubDiagnoser{}, stubStatus{ready: false}, nil).Handler()
	assert.Equal(t, http.StatusOK, get(loading, "/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get(loading, "/readyz"))
	assert.Equal(t, http.StatusServiceUnavailable, get(loading, "/info"))

	ready := New(&stubDiagnoser{}, stubStatus{ready: true}, nil).Handler()
	assert.Equal(t, http.StatusOK, get(ready, "/readyz"))
	assert.Equal(t, http.StatusOK, get(ready, "/info"))
}

func TestInfo(t *testing.T) {
	h := New(&stubDiagnoser{}, stubStatus{ready: true}, nil).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))

	var body struct {
		Encoder       domain.EncoderDescriptor `json:"encoder"`
		ProtocolCount int                      `json:"protocol_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.ProtocolCount)
	assert.Equal(t, 1024, body.Encoder.EmbeddingDim)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := New(&stubDiagnoser{}, stubStatus{ready: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
