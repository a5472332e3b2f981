package models

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query      string   `json:"query"`
	K          int      `json:"k"`
	DocumentID string   `json:"document_id,omitempty"`
	Method     string   `json:"method,omitempty"` // bm25, tfidf, hybrid, rrf
	Alpha      *float64 `json:"alpha,omitempty"`
	Advanced   *bool    `json:"advanced,omitempty"`
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	Content    string   `json:"content"`
	Score      float64  `json:"score"`
	Source     string   `json:"source"`
	DocumentID string   `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Method     string   `json:"method"`
	TFIDFScore *float64 `json:"tfidf_score,omitempty"`
	BM25Score  *float64 `json:"bm25_score,omitempty"`
	TFIDFRank  *int     `json:"tfidf_rank,omitempty"`
	BM25Rank   *int     `json:"bm25_rank,omitempty"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Method  string         `json:"method"`
	Count   int            `json:"count"`
}

// IndexChunk is one pre-chunked span handed to the indexer.
type IndexChunk struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	StartSentence int    `json:"start_sentence,omitempty"`
	EndSentence   int    `json:"end_sentence,omitempty"`
}

// IndexRequest is the body of POST /index.
type IndexRequest struct {
	DocumentID string       `json:"document_id,omitempty"`
	Title      string       `json:"title,omitempty"`
	Source     string       `json:"source,omitempty"`
	Text       string       `json:"text,omitempty"`
	Chunks     []IndexChunk `json:"chunks,omitempty"`
}

// IndexResponse is the body returned by POST /index.
type IndexResponse struct {
	DocumentID     string `json:"document_id"`
	IndexedChunks  int    `json:"indexed_chunks"`
	PrunedRecords  int64  `json:"pruned_records"`
	TFIDFAvailable bool   `json:"tfidf_available"`
}

// ExtractRequest is the body of POST /extract.
type ExtractRequest struct {
	URL string `json:"url"`
}

// IndexInfo describes the cached index of a scope.
type IndexInfo struct {
	Scope          string   `json:"scope"`
	State          string   `json:"state"`
	Chunks         int      `json:"chunks"`
	TFIDFAvailable bool     `json:"tfidf_available"`
	BuiltAt        string   `json:"built_at,omitempty"`
	SearchMethods  []string `json:"search_methods"`
}
