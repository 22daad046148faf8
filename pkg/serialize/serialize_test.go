package serialize

import (
	"bytes"
	"io"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"msgpack", FormatMsgpack, false},
		{"MSGPACK", FormatMsgpack, false},
		{"jsonl", FormatJSONL, false},
		{"parquet", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestMsgpackSerializer_WritesReplayableStream(t *testing.T) {
	mgr := sink.NewMemoryManager()
	ser, err := NewMsgpack(mgr)
	if err != nil {
		t.Fatal(err)
	}

	docs := []struct {
		name documents.Name
		doc  documents.Document
	}{
		{documents.Start, documents.Document{"uid": "abc", "plan_name": "count"}},
		{documents.Stop, documents.Document{"uid": "abc-stop", "run_start": "abc"}},
	}
	for _, d := range docs {
		if err := ser.Serialize(d.name, d.doc); err != nil {
			t.Fatalf("Serialize(%s) failed: %v", d.name, err)
		}
	}
	if err := ser.Close(); err != nil {
		t.Fatal(err)
	}

	raw, ok := mgr.Buffer("abc.msgpack")
	if !ok {
		t.Fatalf("expected abc.msgpack, artifacts: %v", mgr.Artifacts())
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	var names []string
	for {
		var pair []any
		if err := dec.Decode(&pair); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode failed: %v", err)
		}
		if len(pair) != 2 {
			t.Fatalf("expected (name, doc) pair, got %v", pair)
		}
		names = append(names, pair[0].(string))
	}
	if len(names) != 2 || names[0] != "start" || names[1] != "stop" {
		t.Errorf("replayed names = %v", names)
	}
}

func TestJSONLSerializer_OneDocumentPerLine(t *testing.T) {
	mgr := sink.NewMemoryManager()
	ser, err := NewJSONL(mgr)
	if err != nil {
		t.Fatal(err)
	}

	if err := ser.Serialize(documents.Start, documents.Document{"uid": "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := ser.Serialize(documents.Stop, documents.Document{"uid": "abc-stop"}); err != nil {
		t.Fatal(err)
	}
	if err := ser.Close(); err != nil {
		t.Fatal(err)
	}

	raw, ok := mgr.Buffer("abc.jsonl")
	if !ok {
		t.Fatalf("expected abc.jsonl, artifacts: %v", mgr.Artifacts())
	}
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var pair []any
	if err := json.Unmarshal(lines[0], &pair); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if pair[0] != "start" {
		t.Errorf("first document name = %v, want start", pair[0])
	}
}

func TestSerializer_FirstDocumentMustHaveUID(t *testing.T) {
	for _, factory := range []Factory{NewMsgpack, NewJSONL} {
		ser, err := factory(sink.NewMemoryManager())
		if err != nil {
			t.Fatal(err)
		}
		if err := ser.Serialize(documents.Start, documents.Document{}); err == nil {
			t.Error("serializing a first document without uid must fail")
		}
		ser.Close()
	}
}

func TestSerializer_CloseWithoutDocuments(t *testing.T) {
	for _, factory := range []Factory{NewMsgpack, NewJSONL} {
		ser, err := factory(sink.NewMemoryManager())
		if err != nil {
			t.Fatal(err)
		}
		if err := ser.Close(); err != nil {
			t.Errorf("closing an unused serializer must succeed: %v", err)
		}
		if err := ser.Close(); err != nil {
			t.Errorf("double close must be safe: %v", err)
		}
	}
}

func TestSerializer_RejectsWritesAfterClose(t *testing.T) {
	ser, err := NewMsgpack(sink.NewMemoryManager())
	if err != nil {
		t.Fatal(err)
	}
	ser.Close()
	if err := ser.Serialize(documents.Start, documents.Document{"uid": "abc"}); err == nil {
		t.Error("serializing after close must fail")
	}
}
