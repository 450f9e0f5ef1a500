// Package events defines the session-to-embedder event channel: the sealed
// set of notifications a receiver session or download task emits as a
// transfer progresses.
package events

import "github.com/google/uuid"

// Event is the sealed interface implemented by every event type sent on the
// embedder's event channel.
type Event interface {
	isEvent()
}

// RequestReceived is delivered when a peer proposes a new transfer.
type RequestReceived struct {
	TransferID uuid.UUID
	PeerIP     string
}

// FileDownloadStarted is delivered when a download task begins streaming
// bytes for a file.
type FileDownloadStarted struct {
	TransferID uuid.UUID
	PathID     uint64
	Offset     uint64
}

// FileDownloadProgress is delivered each time another
// REPORT_PROGRESS_THRESHOLD bytes have arrived, and once more when the last
// byte arrives if any bytes were not yet reported. BytesReceived is the
// absolute count, never the delta.
type FileDownloadProgress struct {
	TransferID    uuid.UUID
	PathID        uint64
	BytesReceived uint64
}

// FileDownloadSuccess is delivered once a file has been placed at its final
// destination.
type FileDownloadSuccess struct {
	TransferID uuid.UUID
	PathID     uint64
	FinalPath  string
}

// FileDownloadFailed is delivered when a download task terminates with a
// non-Canceled error. Cancellation is silent and emits nothing.
type FileDownloadFailed struct {
	TransferID uuid.UUID
	PathID     uint64
	Reason     string
}

func (RequestReceived) isEvent()      {}
func (FileDownloadStarted) isEvent()  {}
func (FileDownloadProgress) isEvent() {}
func (FileDownloadSuccess) isEvent()  {}
func (FileDownloadFailed) isEvent()   {}

// Sink is implemented by the embedder to receive events. Send must not
// block for long; slow embedders should buffer internally.
type Sink interface {
	Send(Event)
}

// ChanSink adapts a buffered channel to the Sink interface, used by the
// default CLI embedder and by tests.
type ChanSink chan Event

// Send implements Sink. A full channel drops the event rather than
// blocking the session loop; callers that need back-pressure should size
// the channel generously and drain promptly.
func (s ChanSink) Send(e Event) {
	select {
	case s <- e:
	default:
	}
}
