package model

type EmbeddingEntry struct {
	ContentKey string    `json:"content_key"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
	Ctime      int64     `json:"ctime"`
}
