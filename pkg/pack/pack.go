// Package pack drives the export pipeline: it iterates runs out of a source
// catalog, serializes their documents through a sink Manager, tracks the
// roots of externally-stored files, and writes the manifests and catalog
// descriptor that make the exported directory a self-contained, reopenable
// catalog.
package pack

import (
	"io"
	"log"
	"sort"

	"github.com/tacaswell/databroker-pack/pkg/catalog"
	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/fill"
	"github.com/tacaswell/databroker-pack/pkg/serialize"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// ExternalMode selects what happens to externally-stored array data.
type ExternalMode int

const (
	// ExternalManifest (the default) leaves documents untouched and
	// enumerates the external files so they can be listed in per-root
	// manifests.
	ExternalManifest ExternalMode = iota

	// ExternalFill resolves external references into inline data before
	// serialization. No file enumeration happens.
	ExternalFill

	// ExternalOmit neither fills nor locates external files.
	ExternalOmit
)

// ParseExternalMode parses a CLI-facing mode name. "ignore" is accepted as
// an alias for omit.
func ParseExternalMode(s string) (ExternalMode, error) {
	switch s {
	case "", "manifest":
		return ExternalManifest, nil
	case "fill":
		return ExternalFill, nil
	case "omit", "ignore":
		return ExternalOmit, nil
	}
	return ExternalManifest, errors.New(errors.CodeConfigInvalid, "unknown external mode").
		WithContext("external", s)
}

// String returns the mode's CLI name.
func (m ExternalMode) String() string {
	switch m {
	case ExternalFill:
		return "fill"
	case ExternalOmit:
		return "omit"
	default:
		return "manifest"
	}
}

// FilesByRoot maps each external-file root to the set of absolute file
// paths discovered under it.
type FilesByRoot map[string]map[string]struct{}

// Add records one file under a root.
func (f FilesByRoot) Add(root, file string) {
	set, ok := f[root]
	if !ok {
		set = make(map[string]struct{})
		f[root] = set
	}
	set[file] = struct{}{}
}

// Merge unions another mapping into this one.
func (f FilesByRoot) Merge(other FilesByRoot) {
	for root, set := range other {
		for file := range set {
			f.Add(root, file)
		}
	}
}

// Roots returns the roots in sorted order.
func (f FilesByRoot) Roots() []string {
	roots := make([]string, 0, len(f))
	for root := range f {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Files returns the sorted files recorded under a root.
func (f FilesByRoot) Files(root string) []string {
	set := f[root]
	files := make([]string, 0, len(set))
	for file := range set {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// Progress reports per-unit progress of a long operation. The exporters
// invoke it synchronously from a single thread; the transfer phases may
// call Advance concurrently.
type Progress interface {
	Start(total int, description string)
	Advance()
	Finish()
}

// NopProgress is the default Progress; it reports nothing.
type NopProgress struct{}

func (NopProgress) Start(int, string) {}
func (NopProgress) Advance()          {}
func (NopProgress) Finish()           {}

// Options configure an export.
type Options struct {
	// External selects the external-data mode. Default: manifest.
	External ExternalMode

	// DryRun suppresses all serializer writes.
	DryRun bool

	// Strict aborts a batch export on the first per-run failure instead
	// of recording it and continuing.
	Strict bool

	// Handlers maps handler spec names to loaders for fill mode. Nil
	// selects the built-in registry.
	Handlers fill.Registry

	// NewSerializer builds the per-run serializer. Nil selects msgpack.
	NewSerializer serialize.Factory

	// Progress receives one unit per run attempted. Nil disables.
	Progress Progress

	// Logger receives per-run failure detail. Nil discards.
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.NewSerializer == nil {
		o.NewSerializer = serialize.NewMsgpack
	}
	if o.Progress == nil {
		o.Progress = NopProgress{}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// ExportRun exports one run through the Manager. The returned mapping lists
// every external file discovered per root; it is empty in fill and omit
// modes, where no enumeration happens. Failures propagate to the caller:
// batch-level recovery is ExportUIDs'/ExportCatalog's job.
func ExportRun(run catalog.Run, mgr sink.Manager, opts Options) (FilesByRoot, error) {
	opts = opts.withDefaults()

	filler := fill.NewFiller(opts.Handlers)
	defer filler.Close()

	serializer, err := opts.NewSerializer(mgr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerializeFailed, "failed to construct serializer")
	}

	var resources []documents.Document
	iterErr := func() error {
		cur := run.Documents()
		for cur.Next() {
			name, doc := cur.Document()
			if name == documents.Resource {
				resources = append(resources, doc)
			}
			if opts.External == ExternalFill {
				var err error
				name, doc, err = filler.Fill(name, doc)
				if err != nil {
					return err
				}
			}
			if !opts.DryRun {
				if err := serializer.Serialize(name, doc); err != nil {
					return err
				}
			}
		}
		return cur.Err()
	}()
	// The serializer must be released on every exit path, and before any
	// file enumeration, so the run's documents are durable first.
	closeErr := serializer.Close()
	if iterErr != nil {
		return nil, iterErr
	}
	if closeErr != nil {
		return nil, errors.Wrap(closeErr, errors.CodeSerializeFailed, "failed to close serializer")
	}

	files := make(FilesByRoot)
	if opts.External == ExternalManifest {
		for _, resource := range resources {
			list, err := run.FileList(resource)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeFileListFailed, "failed to list resource files").
					WithContext("resource", resource.UID())
			}
			for _, file := range list {
				files.Add(resource.Root(), file)
			}
		}
	}
	return files, nil
}

// ExportUIDs exports the runs named by a list of (possibly partial) uids.
// Unless Strict, per-run failures are logged, recorded in the returned
// failures list, and do not stop the batch.
func ExportUIDs(cat catalog.Catalog, uids []string, mgr sink.Manager, opts Options) (FilesByRoot, []string, error) {
	opts = opts.withDefaults()

	accumulated := make(FilesByRoot)
	var failures []string

	opts.Progress.Start(len(uids), "Packing runs")
	defer opts.Progress.Finish()

	for _, uid := range uids {
		err := func() error {
			run, err := cat.Get(uid)
			if err != nil {
				return err
			}
			files, err := ExportRun(run, mgr, opts)
			if err != nil {
				return err
			}
			accumulated.Merge(files)
			return nil
		}()
		if err != nil {
			opts.Logger.Printf("error while packing run %q: %v", uid, err)
			if opts.Strict {
				return accumulated, failures, errors.Wrap(err, errors.CodeRunFailed, "run export failed").
					WithContext("uid", uid)
			}
			failures = append(failures, uid)
		}
		opts.Progress.Advance()
	}
	return accumulated, failures, nil
}

// ExportCatalog exports every run in the catalog, in catalog order. Failure
// handling matches ExportUIDs.
func ExportCatalog(cat catalog.Catalog, mgr sink.Manager, opts Options) (FilesByRoot, []string, error) {
	opts = opts.withDefaults()

	accumulated := make(FilesByRoot)
	var failures []string

	opts.Progress.Start(cat.Len(), "Packing runs")
	defer opts.Progress.Finish()

	err := cat.Each(func(uid string, run catalog.Run) error {
		files, err := ExportRun(run, mgr, opts)
		if err != nil {
			opts.Logger.Printf("error while packing run %q: %v", uid, err)
			if opts.Strict {
				return errors.Wrap(err, errors.CodeRunFailed, "run export failed").
					WithContext("uid", uid)
			}
			failures = append(failures, uid)
		} else {
			accumulated.Merge(files)
		}
		opts.Progress.Advance()
		return nil
	})
	if err != nil {
		return accumulated, failures, err
	}
	return accumulated, failures, nil
}
