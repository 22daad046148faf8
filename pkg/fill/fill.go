// Package fill resolves external-data references in event documents.
//
// A resource document names a root directory and a handler spec; datum
// documents reference a resource plus per-datum kwargs; event documents
// carry datum ids in their data map with filled[key] == false. The Filler
// watches the stream, caches resources and datums, and on request replaces
// datum references in events with the data loaded by the spec's handler.
package fill

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// Handler loads the external data referenced by one datum of a resource.
type Handler interface {
	Load(resource documents.Document, datumKwargs map[string]any) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(resource documents.Document, datumKwargs map[string]any) (any, error)

// Load implements Handler.
func (f HandlerFunc) Load(resource documents.Document, datumKwargs map[string]any) (any, error) {
	return f(resource, datumKwargs)
}

// Registry maps handler spec names (as they appear in resource documents)
// to loader capabilities.
type Registry map[string]Handler

// DiscoverHandlers returns the built-in registry, used when the caller does
// not supply an explicit one.
func DiscoverHandlers() Registry {
	return Registry{
		"RAW": HandlerFunc(loadRaw),
	}
}

// loadRaw reads the whole referenced file as bytes. The datum kwarg "index"
// selects a numbered file next to the resource path, matching how the
// simulated detector lays out its output.
func loadRaw(resource documents.Document, datumKwargs map[string]any) (any, error) {
	path := filepath.Join(resource.Root(), resource.ResourcePath())
	if idx, ok := datumKwargs["index"]; ok {
		path = filepath.Join(path, rawFileName(idx))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFillFailed, "failed to read external file").
			WithContext("path", path)
	}
	return data, nil
}

// rawFileName maps a datum index to its on-disk name. Decoders hand back
// numbers as different widths depending on the encoding, so accept them all.
func rawFileName(idx any) string {
	var i int64
	switch v := idx.(type) {
	case int:
		i = int64(v)
	case int8:
		i = int64(v)
	case int16:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	case uint64:
		i = int64(v)
	case float64:
		i = int64(v)
	}
	return strconv.FormatInt(i, 10) + ".raw"
}
