// Package serialize encodes run document streams into persisted files.
// A Serializer is a scoped resource: it is constructed against a sink
// Manager for one run, receives every (name, document) pair in order, and
// must be closed before the run's outcome is finalized.
package serialize

import (
	"strings"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// ArtifactLabel is the Manager artifact label serialized document files are
// opened under.
const ArtifactLabel = "all"

// Serializer encodes one run's documents.
type Serializer interface {
	// Serialize encodes one document. The first document of a run must
	// carry the run's uid; it names the output file.
	Serialize(name documents.Name, doc documents.Document) error

	// Close flushes and releases the underlying stream. Safe to call more
	// than once.
	Close() error
}

// Factory constructs a Serializer bound to a Manager, one per run.
type Factory func(mgr sink.Manager) (Serializer, error)

// Format is a supported on-disk document encoding.
type Format string

const (
	FormatMsgpack Format = "msgpack"
	FormatJSONL   Format = "jsonl"
)

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "msgpack":
		return FormatMsgpack, nil
	case "jsonl":
		return FormatJSONL, nil
	}
	return "", errors.New(errors.CodeConfigInvalid, "unknown document format").
		WithContext("format", s)
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Factory returns the serializer factory for the format.
func (f Format) Factory() Factory {
	if f == FormatJSONL {
		return NewJSONL
	}
	return NewMsgpack
}

// fileName derives the per-run output filename from the first document.
func fileName(doc documents.Document, ext string) (string, error) {
	uid := doc.UID()
	if uid == "" {
		return "", errors.New(errors.CodeSerializeFailed, "first document has no uid")
	}
	return uid + "." + ext, nil
}
