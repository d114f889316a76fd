package ingest

// Provenance is the ingestion bookkeeping carried on a document: where the
// content came from, how it relates to its parent, and when processing
// started, finished, or failed. The pipeline and the upload service work
// with the typed form and flatten it into the generic metadata map only at
// the store boundary.
type Provenance struct {
	UploadTime string
	FilePath   string
	FileType   string

	ParentDocumentID string
	ChunkIndex       *int
	TotalChunks      int
	ChunkCount       int

	ProcessingStarted   string
	ProcessingCompleted string
	ProcessingError     string
	ProcessingFailed    string
}

// Fields flattens the set entries into metadata keys for a store merge.
// Zero-valued entries are omitted so partial records layer cleanly over
// what is already persisted.
func (pv Provenance) Fields() map[string]any {
	m := make(map[string]any)
	if pv.UploadTime != "" {
		m["upload_time"] = pv.UploadTime
	}
	if pv.FilePath != "" {
		m["file_path"] = pv.FilePath
	}
	if pv.FileType != "" {
		m["file_type"] = pv.FileType
	}
	if pv.ParentDocumentID != "" {
		m["parent_document_id"] = pv.ParentDocumentID
	}
	if pv.ChunkIndex != nil {
		m["chunk_index"] = *pv.ChunkIndex
	}
	if pv.TotalChunks > 0 {
		m["total_chunks"] = pv.TotalChunks
	}
	if pv.ChunkCount > 0 {
		m["chunk_count"] = pv.ChunkCount
	}
	if pv.ProcessingStarted != "" {
		m["processing_started"] = pv.ProcessingStarted
	}
	if pv.ProcessingCompleted != "" {
		m["processing_completed"] = pv.ProcessingCompleted
	}
	if pv.ProcessingError != "" {
		m["processing_error"] = pv.ProcessingError
	}
	if pv.ProcessingFailed != "" {
		m["processing_failed"] = pv.ProcessingFailed
	}
	return m
}
