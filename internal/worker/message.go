package worker

import (
	"errors"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/timing"
)

// Kind tags a message of the chunking protocol.
type Kind string

const (
	KindProcessChapters Kind = "PROCESS_CHAPTERS"
	KindChunksProcessed Kind = "CHUNKS_PROCESSED"
	KindError           Kind = "ERROR"
)

// Request asks for a whole book to be chunked.
type Request struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Chapters     []book.Chapter `json:"chapters"`
	TimingConfig timing.Config  `json:"timingConfig"`
}

// Response is the single outcome of a Request: either the chunk sequence
// or a human readable error message.
type Response struct {
	ID      string           `json:"id"`
	Kind    Kind             `json:"kind"`
	Chunks  []book.TextChunk `json:"chunks,omitempty"`
	Message string           `json:"message,omitempty"`

	cause error
}

// Failure is the error form of an ERROR response.
type Failure struct {
	RequestID string
	Message   string
	cause     error
}

func (f *Failure) Error() string { return f.Message }

// Unwrap returns the in-process cause, when the failure has one.
func (f *Failure) Unwrap() error { return f.cause }

// Err returns nil for a success response and a *Failure otherwise.
func (r Response) Err() error {
	if r.Kind != KindError {
		return nil
	}
	return &Failure{RequestID: r.ID, Message: r.Message, cause: r.cause}
}

func success(id string, chunks []book.TextChunk) Response {
	return Response{ID: id, Kind: KindChunksProcessed, Chunks: chunks}
}

func failure(id string, err error) Response {
	return Response{ID: id, Kind: KindError, Message: err.Error(), cause: err}
}

var errUnknownKind = errors.New("unknown request kind")
