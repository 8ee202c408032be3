package services

import "errors"

// Transport failures. Every transport wraps its underlying error with one of these so the renderer and the
// logs can tell them apart with errors.Is.
var (
	// ErrTransportOpen means the connection or request could not be established.
	ErrTransportOpen = errors.New("transport open failure")
	// ErrTransportClosed means the connection dropped while it was expected to stay up.
	ErrTransportClosed = errors.New("transport closed unexpectedly")
	// ErrTransportProtocol means the backend answered with a body that could not be decoded.
	ErrTransportProtocol = errors.New("transport protocol error")
)

const errLoggerKey = "err"
