package model

// RetrievedChunk 定义了返回给调用方的检索结果，按相关度从高到低排列。
type RetrievedChunk struct {
	Content    string  `json:"content"`
	SourceName string  `json:"sourceName"`
	DocumentID string  `json:"documentId"`
	Position   int     `json:"position"`
	Score      float64 `json:"score"`
}

// SearchMethod 标识最终产出结果的检索策略。
type SearchMethod string

const (
	MethodVector SearchMethod = "vector_search"
	MethodText   SearchMethod = "text_search"
	MethodNone   SearchMethod = "none"
)

// SearchResult 是一次检索的完整结果。Reason 只在结果为空时说明原因。
type SearchResult struct {
	Results []RetrievedChunk `json:"results"`
	Method  SearchMethod     `json:"method"`
	Reason  string           `json:"reason,omitempty"`
}
