// Package catalog defines the queryable source-catalog and Run collaborators
// the exporter reads from, with two implementations: an in-memory catalog
// for tests and programmatic use, and a loader that reopens a packed
// directory through its catalog.yml descriptor.
package catalog

import (
	"reflect"

	"github.com/tacaswell/databroker-pack/pkg/documents"
)

// Run is one replayable, ordered document stream.
type Run interface {
	// UID is the run's start document uid.
	UID() string

	// Documents returns a fresh cursor over the run's canonical stream
	// with external data left unfilled. Restartable: each call replays
	// from the start document.
	Documents() Cursor

	// FileList enumerates the absolute paths of the external files backing
	// one of the run's resource documents.
	FileList(resource documents.Document) ([]string, error)
}

// Cursor iterates a document stream.
type Cursor interface {
	// Next advances to the next document, returning false at the end of
	// the stream or on error.
	Next() bool

	// Document returns the current (name, document) pair. Only valid
	// after Next has returned true.
	Document() (documents.Name, documents.Document)

	// Err returns the error that stopped iteration, if any.
	Err() error
}

// Catalog is a queryable collection of runs.
type Catalog interface {
	// Get resolves a uid, or a unique uid prefix, to a Run.
	Get(uid string) (Run, error)

	// Len returns the number of runs.
	Len() int

	// Each calls fn for every (uid, run) pair in catalog order. A non-nil
	// return from fn stops iteration and is returned.
	Each(fn func(uid string, run Run) error) error

	// Search returns the sub-catalog of runs whose start documents match
	// the query.
	Search(q Query) (Catalog, error)
}

// Query matches against start documents: exact field matches combined with
// an optional closed-open time range, all ANDed together. The zero Query
// matches every run.
type Query struct {
	// Fields are exact-match constraints on start document fields.
	Fields map[string]any

	// Since/Until bound the start document's time. Zero means unbounded.
	Since float64
	Until float64
}

// Matches reports whether the start document satisfies the query. Field
// values are compared by deep equality, so slice and map constraints are
// allowed.
func (q Query) Matches(start documents.Document) bool {
	for key, want := range q.Fields {
		if !reflect.DeepEqual(start[key], want) {
			return false
		}
	}
	if q.Since != 0 || q.Until != 0 {
		t, ok := start.Time()
		if !ok {
			return false
		}
		if q.Since != 0 && t < q.Since {
			return false
		}
		if q.Until != 0 && t >= q.Until {
			return false
		}
	}
	return true
}
