// Package documents defines the self-describing document model emitted by
// data-acquisition runs: an ordered stream of (name, document) pairs.
package documents

// Name identifies the kind of a document in a run's stream.
type Name string

const (
	Start      Name = "start"
	Descriptor Name = "descriptor"
	Event      Name = "event"
	EventPage  Name = "event_page"
	Datum      Name = "datum"
	DatumPage  Name = "datum_page"
	Resource   Name = "resource"
	Stop       Name = "stop"
)

// Valid reports whether n is a known document kind.
func (n Name) Valid() bool {
	switch n {
	case Start, Descriptor, Event, EventPage, Datum, DatumPage, Resource, Stop:
		return true
	}
	return false
}

// Document is one self-describing record. Documents are schemaless maps;
// typed accessors below cover the fields this package cares about.
type Document map[string]any

// UID returns the document's "uid" field, or "" if absent.
func (d Document) UID() string {
	return d.str("uid")
}

// Root returns a resource document's "root" directory.
func (d Document) Root() string {
	return d.str("root")
}

// Spec returns a resource document's handler spec name.
func (d Document) Spec() string {
	return d.str("spec")
}

// ResourcePath returns a resource document's path relative to its root.
func (d Document) ResourcePath() string {
	return d.str("resource_path")
}

// DatumID returns a datum document's "datum_id" field.
func (d Document) DatumID() string {
	return d.str("datum_id")
}

// ResourceUID returns a datum document's back-reference to its resource.
func (d Document) ResourceUID() string {
	return d.str("resource")
}

// Time returns the document's "time" field in seconds since the epoch.
func (d Document) Time() (float64, bool) {
	switch v := d["time"].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Filled returns the event's "filled" map: data key -> whether the value is
// inline (true) or a datum reference (false). Nil if the event has none.
func (d Document) Filled() map[string]any {
	m, _ := d["filled"].(map[string]any)
	return m
}

// Data returns the event's "data" map. Nil if absent.
func (d Document) Data() map[string]any {
	m, _ := d["data"].(map[string]any)
	return m
}

func (d Document) str(key string) string {
	s, _ := d[key].(string)
	return s
}

// Copy returns a deep copy of the document. Map and slice values are copied
// recursively; scalars are shared.
func (d Document) Copy() Document {
	return Document(copyMap(d))
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case Document:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
