// Package sink abstracts the named output streams a pack is written through.
// A Manager hands out writable streams keyed by a semantic artifact label
// (e.g. "all", "manifest", "catalog_file") plus a relative filename, and
// remembers everything it opened so callers can enumerate the produced
// artifacts afterwards.
package sink

import (
	"io"
)

// Mode selects how a stream is opened.
type Mode string

const (
	// ModeAppend opens the stream for appending, creating it if needed.
	ModeAppend Mode = "a"

	// ModeCreate opens the stream for exclusive creation: opening a name
	// that already exists is an error. Used for artifacts that must never
	// silently overwrite a prior pack (the catalog descriptor).
	ModeCreate Mode = "xt"
)

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m == ModeAppend || m == ModeCreate
}

// Stream is a writable artifact stream. Tell reports the current write
// position; manifest writers use it to decide whether a separator is needed
// before appending.
type Stream interface {
	io.Writer
	io.Closer

	// Tell returns the current write position in bytes.
	Tell() (int64, error)
}

// Manager opens named artifact streams. Implementations are not safe for
// concurrent use; the exporter is single-threaded by design.
type Manager interface {
	// Open returns a stream for the given artifact label and relative
	// filename. The same (name, ModeAppend) pair may be opened repeatedly;
	// ModeCreate fails if the name was already created.
	Open(artifact, name string, mode Mode) (Stream, error)

	// Artifacts maps each artifact label to the relative filenames opened
	// under it, in first-open order without duplicates.
	Artifacts() map[string][]string

	// Close releases any streams still open.
	Close() error
}

// recordArtifact appends name under label unless already present.
func recordArtifact(artifacts map[string][]string, label, name string) {
	for _, existing := range artifacts[label] {
		if existing == name {
			return
		}
	}
	artifacts[label] = append(artifacts[label], name)
}
