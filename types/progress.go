package types

// EventStatus is the discriminator of a stream event.
type EventStatus string

// Stream event statuses emitted by long-running device operations.
const (
	EventCopyStart      EventStatus = "copy_start"
	EventCopyProgress   EventStatus = "copy_progress"
	EventAnalyzeStart   EventStatus = "analyze_start"
	EventAnalyzeDone    EventStatus = "analyze_done"
	EventUploadProgress EventStatus = "upload_progress"
	EventCopyEnd        EventStatus = "copy_end"
	EventWipeStart      EventStatus = "wipe_start"
	EventWipeProgress   EventStatus = "wipe_progress"
	EventWipeEnd        EventStatus = "wipe_end"
	EventImageStart     EventStatus = "image_start"
	EventImageProgress  EventStatus = "image_progress"
	EventImageEnd       EventStatus = "image_end"
	EventError          EventStatus = "error"
)

// IsTerminal returns true for the last event of an operation.
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventCopyEnd, EventWipeEnd, EventImageEnd, EventError:
		return true
	default:
		return false
	}
}

// Event is one progress or result record of a device operation stream.
// Streams are encoded as newline-delimited JSON.
type Event struct {
	Status  EventStatus `json:"status"`
	Current uint64      `json:"current,omitempty"`
	Total   uint64      `json:"total,omitempty"`
	Path    string      `json:"path,omitempty"`
	Message string      `json:"msg,omitempty"`
	// Files carries per-file verdicts on analyze_done.
	Files map[string]Verdict `json:"files,omitempty"`
}
