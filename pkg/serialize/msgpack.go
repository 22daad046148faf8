package serialize

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// MsgpackSerializer writes one <uid>.msgpack file per run. Each document is
// encoded as a two-element array [name, document], concatenated on the
// stream, so a decoder can replay the run in order.
type MsgpackSerializer struct {
	mgr    sink.Manager
	stream sink.Stream
	enc    *msgpack.Encoder
	closed bool
}

// NewMsgpack is the Factory for msgpack output.
func NewMsgpack(mgr sink.Manager) (Serializer, error) {
	return &MsgpackSerializer{mgr: mgr}, nil
}

// Serialize implements Serializer.
func (s *MsgpackSerializer) Serialize(name documents.Name, doc documents.Document) error {
	if s.closed {
		return errors.New(errors.CodeSerializeFailed, "serializer is closed")
	}
	if s.stream == nil {
		filename, err := fileName(doc, FormatMsgpack.Extension())
		if err != nil {
			return err
		}
		stream, err := s.mgr.Open(ArtifactLabel, filename, sink.ModeCreate)
		if err != nil {
			return errors.Wrap(err, errors.CodeSerializeFailed, "failed to open document file")
		}
		s.stream = stream
		s.enc = msgpack.NewEncoder(stream)
	}
	if err := s.enc.Encode([]any{string(name), map[string]any(doc)}); err != nil {
		return errors.Wrap(err, errors.CodeSerializeFailed, "failed to encode document").
			WithContext("document", string(name))
	}
	return nil
}

// Close implements Serializer.
func (s *MsgpackSerializer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
