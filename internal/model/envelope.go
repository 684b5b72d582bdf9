package model

import "time"

// TimestampFormat is the wire format of envelope and signal timestamps:
// RFC3339 UTC truncated to seconds.
const TimestampFormat = "2006-01-02T15:04:05Z"

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Envelope is the normalized event record appended to the output stream,
// one JSON object per line. Payload is event_type specific and opaque to
// the runtime.
type Envelope struct {
	Tool            string `json:"tool"`
	ToolVersion     string `json:"tool_version"`
	RunID           string `json:"run_id"`
	BatchID         string `json:"batch_id"`
	EventType       string `json:"event_type"`
	Timestamp       string `json:"timestamp"`
	Payload         any    `json:"payload"`
	ToolImageDigest string `json:"tool_image_digest,omitempty"`
}
