package serialize

import (
	json "github.com/goccy/go-json"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// JSONLSerializer writes one <uid>.jsonl file per run: a two-element JSON
// array [name, document] per line. Plaintext counterpart to msgpack.
type JSONLSerializer struct {
	mgr    sink.Manager
	stream sink.Stream
	closed bool
}

// NewJSONL is the Factory for JSONL output.
func NewJSONL(mgr sink.Manager) (Serializer, error) {
	return &JSONLSerializer{mgr: mgr}, nil
}

// Serialize implements Serializer.
func (s *JSONLSerializer) Serialize(name documents.Name, doc documents.Document) error {
	if s.closed {
		return errors.New(errors.CodeSerializeFailed, "serializer is closed")
	}
	if s.stream == nil {
		filename, err := fileName(doc, FormatJSONL.Extension())
		if err != nil {
			return err
		}
		stream, err := s.mgr.Open(ArtifactLabel, filename, sink.ModeCreate)
		if err != nil {
			return errors.Wrap(err, errors.CodeSerializeFailed, "failed to open document file")
		}
		s.stream = stream
	}
	line, err := json.Marshal([]any{string(name), map[string]any(doc)})
	if err != nil {
		return errors.Wrap(err, errors.CodeSerializeFailed, "failed to encode document").
			WithContext("document", string(name))
	}
	line = append(line, '\n')
	if _, err := s.stream.Write(line); err != nil {
		return errors.Wrap(err, errors.CodeSerializeFailed, "failed to write document").
			WithContext("document", string(name))
	}
	return nil
}

// Close implements Serializer.
func (s *JSONLSerializer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
