package catalog

import (
	"strings"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// MemoryCatalog is an in-memory Catalog preserving insertion order.
type MemoryCatalog struct {
	uids []string
	runs map[string]Run
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{runs: make(map[string]Run)}
}

// Add inserts a run, replacing any run with the same uid.
func (c *MemoryCatalog) Add(run Run) {
	uid := run.UID()
	if _, ok := c.runs[uid]; !ok {
		c.uids = append(c.uids, uid)
	}
	c.runs[uid] = run
}

// Get implements Catalog. Partial uid prefixes resolve when unambiguous.
func (c *MemoryCatalog) Get(uid string) (Run, error) {
	if run, ok := c.runs[uid]; ok {
		return run, nil
	}
	var matches []string
	for _, candidate := range c.uids {
		if strings.HasPrefix(candidate, uid) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errors.New(errors.CodeUIDNotFound, "no run with this uid").
			WithContext("uid", uid)
	case 1:
		return c.runs[matches[0]], nil
	default:
		return nil, errors.New(errors.CodeAmbiguousUID, "uid prefix matches multiple runs").
			WithContext("uid", uid).
			WithContext("matches", len(matches))
	}
}

// Len implements Catalog.
func (c *MemoryCatalog) Len() int {
	return len(c.uids)
}

// Each implements Catalog.
func (c *MemoryCatalog) Each(fn func(uid string, run Run) error) error {
	for _, uid := range c.uids {
		if err := fn(uid, c.runs[uid]); err != nil {
			return err
		}
	}
	return nil
}

// Search implements Catalog.
func (c *MemoryCatalog) Search(q Query) (Catalog, error) {
	out := NewMemoryCatalog()
	for _, uid := range c.uids {
		run := c.runs[uid]
		start, err := startDocument(run)
		if err != nil {
			return nil, err
		}
		if q.Matches(start) {
			out.Add(run)
		}
	}
	return out, nil
}

// startDocument replays a run just far enough to read its start document.
func startDocument(run Run) (documents.Document, error) {
	cur := run.Documents()
	for cur.Next() {
		name, doc := cur.Document()
		if name == documents.Start {
			return doc, nil
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New(errors.CodeQueryInvalid, "run has no start document").
		WithContext("uid", run.UID())
}

// MemoryRun is an in-memory Run built from an explicit document list.
type MemoryRun struct {
	uid       string
	docs      []taggedDocument
	fileLists map[string][]string // resource uid -> absolute paths

	// FailAfter, when non-negative, makes cursors fail after that many
	// documents. Tests use it to simulate broken runs.
	FailAfter int
}

type taggedDocument struct {
	name documents.Name
	doc  documents.Document
}

// NewMemoryRun creates an empty run with the given uid.
func NewMemoryRun(uid string) *MemoryRun {
	return &MemoryRun{
		uid:       uid,
		fileLists: make(map[string][]string),
		FailAfter: -1,
	}
}

// Append adds one document to the stream.
func (r *MemoryRun) Append(name documents.Name, doc documents.Document) {
	r.docs = append(r.docs, taggedDocument{name: name, doc: doc})
}

// SetFileList records the external files backing a resource document.
func (r *MemoryRun) SetFileList(resourceUID string, files []string) {
	r.fileLists[resourceUID] = files
}

// UID implements Run.
func (r *MemoryRun) UID() string {
	return r.uid
}

// Documents implements Run.
func (r *MemoryRun) Documents() Cursor {
	return &memoryCursor{run: r, pos: -1}
}

// FileList implements Run.
func (r *MemoryRun) FileList(resource documents.Document) ([]string, error) {
	files, ok := r.fileLists[resource.UID()]
	if !ok {
		return nil, errors.New(errors.CodeFileListFailed, "no file list for resource").
			WithContext("resource", resource.UID())
	}
	return append([]string(nil), files...), nil
}

type memoryCursor struct {
	run *MemoryRun
	pos int
	err error
}

func (c *memoryCursor) Next() bool {
	if c.err != nil {
		return false
	}
	next := c.pos + 1
	if c.run.FailAfter >= 0 && next >= c.run.FailAfter {
		c.err = errors.New(errors.CodeRunFailed, "simulated document stream failure").
			WithContext("uid", c.run.uid)
		return false
	}
	if next >= len(c.run.docs) {
		return false
	}
	c.pos = next
	return true
}

func (c *memoryCursor) Document() (documents.Name, documents.Document) {
	d := c.run.docs[c.pos]
	return d.name, d.doc
}

func (c *memoryCursor) Err() error {
	return c.err
}
