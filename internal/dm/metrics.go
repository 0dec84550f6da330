package dm

// Metrics receives counters for upload outcomes and consistency anomalies.
type Metrics interface {
	// UploadFinished counts an upload by outcome: "created", "duplicate",
	// "invalid_input", "invalid_path", "write_failure" or "error".
	UploadFinished(outcome string)

	// DownloadFinished counts a download by outcome: "found" or "not_found".
	DownloadFinished(outcome string)

	// ContentMissing counts records whose blob cannot be found.
	ContentMissing()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) UploadFinished(string)   {}
func (NopMetrics) DownloadFinished(string) {}
func (NopMetrics) ContentMissing()         {}
