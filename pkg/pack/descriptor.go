package pack

import (
	"gopkg.in/yaml.v3"

	"github.com/tacaswell/databroker-pack/pkg/catalog"
	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// CatalogFileArtifact is the Manager artifact label the descriptor is
// opened under.
const CatalogFileArtifact = "catalog_file"

// WriteMsgpackCatalogFile writes the catalog.yml descriptor declaring a
// msgpack-driver catalog over the given glob paths. rootMap, when non-nil,
// remaps original resource roots to their packaged locations; nil leaves
// the key out entirely.
func WriteMsgpackCatalogFile(mgr sink.Manager, paths []string, rootMap map[string]string) error {
	return writeCatalogFile(mgr, catalog.MsgpackDriver, paths, rootMap)
}

// WriteJSONLCatalogFile is WriteMsgpackCatalogFile for JSONL document files.
func WriteJSONLCatalogFile(mgr sink.Manager, paths []string, rootMap map[string]string) error {
	return writeCatalogFile(mgr, catalog.JSONLDriver, paths, rootMap)
}

// writeCatalogFile emits the descriptor in exclusive-create mode: a second
// invocation for the same directory fails rather than silently overwriting
// a prior pack's description.
func writeCatalogFile(mgr sink.Manager, driver string, paths []string, rootMap map[string]string) error {
	args := map[string]any{"paths": paths}
	if rootMap != nil {
		args["root_map"] = rootMap
	}
	body := map[string]any{
		"sources": map[string]any{
			"catalog": map[string]any{
				"driver": driver,
				"args":   args,
			},
		},
	}

	stream, err := mgr.Open(CatalogFileArtifact, catalog.DescriptorName, sink.ModeCreate)
	if err != nil {
		return err
	}
	defer stream.Close()

	enc := yaml.NewEncoder(stream)
	if err := enc.Encode(body); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to encode catalog descriptor")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to flush catalog descriptor")
	}
	return stream.Close()
}
