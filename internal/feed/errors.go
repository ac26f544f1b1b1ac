package feed

import "errors"

// ErrMalformedMessage marks a frame whose envelope or body is not valid
// structured data. Such frames are dropped and logged, never delivered.
var ErrMalformedMessage = errors.New("feed: malformed message")

// ErrUnrecognizedTopic marks a frame on a topic outside the known namespace.
var ErrUnrecognizedTopic = errors.New("feed: unrecognized topic")
