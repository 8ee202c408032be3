package models

// Event is a signal delivered by a transport: a chunk of reply text or a change in the connection
// lifecycle.
type Event struct {
	Kind EventKind

	// Session is the number the renderer gave to the Send this event answers. Zero means the event belongs
	// to the connection rather than to one reply.
	Session int

	// Chunk would be filled if Kind is EventChunk. It may be empty: the renderer decides whether an empty
	// chunk is a handshake or an end-of-stream marker.
	Chunk string

	// Err would be filled if Kind is EventError.
	Err error
}

// EventKind represents the type of a transport event.
type EventKind string

const (
	// EventOpened is delivered once the transport is ready to send.
	EventOpened EventKind = "opened"
	// EventChunk carries one unit of partial reply text.
	EventChunk EventKind = "chunk"
	// EventComplete marks the end of the current reply for transports with an explicit end.
	EventComplete EventKind = "complete"
	// EventError reports a transport failure.
	EventError EventKind = "error"
	// EventClosed is delivered after the transport was closed on purpose.
	EventClosed EventKind = "closed"
)
