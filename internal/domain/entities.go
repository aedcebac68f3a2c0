package domain

import "time"

// ProtocolRecord is one normalized corpus entry.
type ProtocolRecord struct {
	ProtocolID string   `json:"protocol_id"`
	SourceFile string   `json:"source_file"`
	Title      string   `json:"title"`
	ICDCodes   []string `json:"icd_codes"`
	Text       string   `json:"text"`
}

// EmbeddingMatrix is a dense row-major matrix, one row per ProtocolRecord.
type EmbeddingMatrix struct {
	Rows int
	Dim  int
	Data []float32
}

// Row returns row i as a slice sharing the matrix storage.
func (m EmbeddingMatrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// EncoderDescriptor identifies the encoder an artifact was built with.
type EncoderDescriptor struct {
	Type           string `json:"type"`
	ModelDirOrName string `json:"model_dir_or_name"`
	EmbeddingDim   int    `json:"embedding_dim"`
	LocalOnly      bool   `json:"local_only"`
}

// Artifact binds a frozen corpus snapshot to its embeddings.
// Protocols[i] corresponds to Embeddings.Row(i).
type Artifact struct {
	ArtifactVersion int
	CreatedAt       time.Time
	Encoder         EncoderDescriptor
	ProtocolCount   int
	Protocols       []ProtocolRecord
	Embeddings      EmbeddingMatrix
}

// ScoredRecord is a retrieval hit shaped for the ranking step.
type ScoredRecord struct {
	Score      float64  `json:"score"`
	ProtocolID string   `json:"protocol_id"`
	Title      string   `json:"title"`
	ICDCodes   []string `json:"icd_codes"`
	Text       string   `json:"text"`
}

// Diagnosis is one entry of the ranked, explained short list.
type Diagnosis struct {
	Rank        int    `json:"rank"`
	Diagnosis   string `json:"diagnosis"`
	ICD10Code   string `json:"icd10_code"`
	Explanation string `json:"explanation"`
}
