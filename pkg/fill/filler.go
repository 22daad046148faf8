package fill

import (
	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// Filler is a scoped document transformer. It never mutates its input;
// filled events are deep copies. Acquire one per run and Close it when the
// run's stream is exhausted.
type Filler struct {
	handlers  Registry
	resources map[string]documents.Document // resource uid -> resource
	datums    map[string]documents.Document // datum_id -> datum
	closed    bool
}

// NewFiller constructs a Filler from a handler registry. A nil registry
// falls back to DiscoverHandlers.
func NewFiller(handlers Registry) *Filler {
	if handlers == nil {
		handlers = DiscoverHandlers()
	}
	return &Filler{
		handlers:  handlers,
		resources: make(map[string]documents.Document),
		datums:    make(map[string]documents.Document),
	}
}

// Fill passes one document through the filler. Resource and datum documents
// are cached and returned unchanged; events have their unfilled data keys
// resolved through the registry. Everything else passes through untouched.
func (f *Filler) Fill(name documents.Name, doc documents.Document) (documents.Name, documents.Document, error) {
	if f.closed {
		return name, doc, errors.New(errors.CodeFillFailed, "filler is closed")
	}

	switch name {
	case documents.Resource:
		f.resources[doc.UID()] = doc
	case documents.Datum:
		f.datums[doc.DatumID()] = doc
	case documents.DatumPage:
		if err := f.cacheDatumPage(doc); err != nil {
			return name, doc, err
		}
	case documents.Event:
		return f.fillEvent(doc)
	}
	return name, doc, nil
}

// cacheDatumPage unpacks a page's parallel arrays into one cached datum per
// datum_id, each carrying that row's scalar kwargs. Events then resolve
// exactly as if the datums had arrived individually.
func (f *Filler) cacheDatumPage(page documents.Document) error {
	ids, _ := page["datum_id"].([]any)
	columns, _ := page["datum_kwargs"].(map[string]any)
	for i, raw := range ids {
		id, ok := raw.(string)
		if !ok {
			return errors.New(errors.CodeFillFailed, "datum page has non-string datum_id").
				WithContext("position", i)
		}
		kwargs := make(map[string]any, len(columns))
		for key, column := range columns {
			values, ok := column.([]any)
			if !ok || len(values) != len(ids) {
				return errors.New(errors.CodeFillFailed, "datum page kwargs column does not match datum_id length").
					WithContext("key", key)
			}
			kwargs[key] = values[i]
		}
		f.datums[id] = documents.Document{
			"datum_id":     id,
			"resource":     page.ResourceUID(),
			"datum_kwargs": kwargs,
		}
	}
	return nil
}

func (f *Filler) fillEvent(doc documents.Document) (documents.Name, documents.Document, error) {
	filled := doc.Filled()
	if len(filled) == 0 {
		return documents.Event, doc, nil
	}

	out := doc.Copy()
	data := out.Data()
	outFilled := out.Filled()
	for key, state := range filled {
		if done, ok := state.(bool); ok && done {
			continue
		}
		datumID, ok := data[key].(string)
		if !ok {
			return documents.Event, doc, errors.New(errors.CodeFillFailed, "unfilled key has no datum reference").
				WithContext("key", key)
		}
		datum, ok := f.datums[datumID]
		if !ok {
			return documents.Event, doc, errors.New(errors.CodeFillFailed, "datum not seen before event").
				WithContext("datum_id", datumID)
		}
		resource, ok := f.resources[datum.ResourceUID()]
		if !ok {
			return documents.Event, doc, errors.New(errors.CodeFillFailed, "resource not seen before datum").
				WithContext("resource", datum.ResourceUID())
		}
		handler, ok := f.handlers[resource.Spec()]
		if !ok {
			return documents.Event, doc, errors.New(errors.CodeHandlerUnknown, "no handler for spec").
				WithContext("spec", resource.Spec())
		}
		kwargs, _ := datum["datum_kwargs"].(map[string]any)
		value, err := handler.Load(resource, kwargs)
		if err != nil {
			return documents.Event, doc, errors.Wrap(err, errors.CodeFillFailed, "handler failed to load datum").
				WithContext("datum_id", datumID)
		}
		data[key] = value
		outFilled[key] = true
	}
	return documents.Event, out, nil
}

// Close releases the filler's caches. Fill returns an error afterwards.
func (f *Filler) Close() error {
	f.closed = true
	f.resources = nil
	f.datums = nil
	return nil
}
