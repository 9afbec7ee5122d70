// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIngestTask asks a consumer to run extraction, chunking and indexing for a
// document whose record already exists in the processing state.
type DocumentIngestTask struct {
	DocumentID string `json:"document_id"`
	CorpusID   string `json:"corpus_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	FileType   string `json:"file_type"`
}

// Key identifies the task for retry accounting.
func (t DocumentIngestTask) Key() string {
	return t.DocumentID
}
