package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tacaswell/databroker-pack/internal/simulate"
	"github.com/tacaswell/databroker-pack/pkg/catalog"
	"github.com/tacaswell/databroker-pack/pkg/config"
	"github.com/tacaswell/databroker-pack/pkg/fill"
	"github.com/tacaswell/databroker-pack/pkg/pack"
	"github.com/tacaswell/databroker-pack/pkg/serialize"
	"github.com/tacaswell/databroker-pack/pkg/sink"
	"github.com/tacaswell/databroker-pack/pkg/storage/s3"
	"github.com/tacaswell/databroker-pack/pkg/tui"
)

func runPack(cmd *cobra.Command, args []string) error {
	catalogArg, directory := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings, err := resolveSettings(cfg)
	if err != nil {
		return err
	}

	cat, err := catalog.OpenPack(catalogArg)
	if err != nil {
		return err
	}

	mgr, err := sink.NewMultiFileManager(directory)
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Error detail goes to a temp log the summary points at; the terminal
	// only sees per-run failure lines and the final counts.
	errorLog, err := os.CreateTemp("", "databroker-pack-errors-*.log")
	if err != nil {
		return err
	}
	defer errorLog.Close()

	opts := pack.Options{
		External:      settings.external,
		DryRun:        noDocuments,
		Strict:        strictFlag,
		Handlers:      settings.handlers,
		NewSerializer: settings.format.Factory(),
		Progress:      tui.NewProgress(),
		Logger:        log.New(errorLog, "", log.LstdFlags),
	}

	var (
		externalFiles pack.FilesByRoot
		failures      []string
		attempted     int
	)
	switch {
	case allRuns || len(queries) > 0:
		query, err := parseQueries(queries)
		if err != nil {
			return err
		}
		results, err := cat.Search(query)
		if err != nil {
			return err
		}
		if results.Len() == 0 {
			tui.Errorf("query yielded no results, exiting")
			os.Exit(1)
		}
		attempted = results.Len()
		externalFiles, failures, err = pack.ExportCatalog(results, mgr, opts)
		if err != nil {
			return err
		}
	case len(uidFiles) > 0:
		uids, err := readUIDs(uidFiles)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			tui.Errorf("found empty input for --uids, exiting")
			os.Exit(1)
		}
		attempted = len(uids)
		externalFiles, failures, err = pack.ExportUIDs(cat, uids, mgr, opts)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("must specify which runs to pack: --query ..., --uids ..., or --all")
	}

	if err := finishPack(mgr, directory, settings, externalFiles); err != nil {
		return err
	}

	if len(failures) > 0 {
		reportFailures(failures, errorLog.Name())
		os.Exit(1)
	}
	tui.Successf("packed %d run(s) into %s", attempted-len(failures), directory)
	return nil
}

// finishPack writes the manifests, optionally transfers external files, and
// emits the catalog descriptor.
func finishPack(mgr *sink.MultiFileManager, directory string, settings packSettings, externalFiles pack.FilesByRoot) error {
	if !noDocuments {
		if err := pack.WriteDocumentsManifest(mgr, mgr.Artifacts()[serialize.ArtifactLabel]); err != nil {
			return err
		}
	}

	var rootMap map[string]string
	if settings.external == pack.ExternalManifest {
		// External data is neither filled into the documents nor omitted,
		// so the descriptor must say where to find it.
		rootMap = make(map[string]string)
		switch {
		case copyExternal:
			target := filepath.Join(mgr.Dir(), "external_files")
			for _, root := range externalFiles.Roots() {
				newRoot, newFiles, err := pack.CopyExternalFiles(target, root, externalFiles.Files(root), tui.NewProgress())
				if err != nil {
					return err
				}
				relRoot, err := filepath.Rel(mgr.Dir(), newRoot)
				if err != nil {
					return err
				}
				rootMap[root] = relRoot
				relFiles := make([]string, 0, len(newFiles))
				for _, f := range newFiles {
					rel, err := filepath.Rel(mgr.Dir(), f)
					if err != nil {
						return err
					}
					relFiles = append(relFiles, rel)
				}
				if err := pack.WriteExternalFilesManifest(mgr, root, relFiles); err != nil {
					return err
				}
			}
		case s3Bucket != "":
			client, err := s3.NewClient(context.Background(), s3Config(settings.cfg))
			if err != nil {
				return err
			}
			for _, root := range externalFiles.Roots() {
				newRoot, err := client.UploadExternalFiles(context.Background(), root, externalFiles.Files(root), tui.NewProgress())
				if err != nil {
					return err
				}
				rootMap[root] = newRoot
				if err := pack.WriteExternalFilesManifest(mgr, root, externalFiles.Files(root)); err != nil {
					return err
				}
			}
		default:
			for _, root := range externalFiles.Roots() {
				rootMap[root] = root
				if err := pack.WriteExternalFilesManifest(mgr, root, externalFiles.Files(root)); err != nil {
					return err
				}
			}
		}
	}

	paths := []string{"./*." + settings.format.Extension()}
	if settings.format == serialize.FormatJSONL {
		return pack.WriteJSONLCatalogFile(mgr, paths, rootMap)
	}
	return pack.WriteMsgpackCatalogFile(mgr, paths, rootMap)
}

func runDemo(cmd *cobra.Command, args []string) error {
	directory := args[0]

	sourceRoot, err := filepath.Abs(filepath.Join(directory, "demo_source"))
	if err != nil {
		return err
	}
	cat, err := simulate.NewCatalog(3, simulate.RunSpec{
		Root:        sourceRoot,
		Materialize: true,
	})
	if err != nil {
		return err
	}

	mgr, err := sink.NewMultiFileManager(directory)
	if err != nil {
		return err
	}
	defer mgr.Close()

	opts := pack.Options{
		Progress: tui.NewProgress(),
		Logger:   log.New(os.Stderr, "", log.LstdFlags),
	}
	externalFiles, failures, err := pack.ExportCatalog(cat, mgr, opts)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d demo run(s) failed to pack", len(failures))
	}

	if err := pack.WriteDocumentsManifest(mgr, mgr.Artifacts()[serialize.ArtifactLabel]); err != nil {
		return err
	}
	rootMap := make(map[string]string)
	for _, root := range externalFiles.Roots() {
		rootMap[root] = root
		if err := pack.WriteExternalFilesManifest(mgr, root, externalFiles.Files(root)); err != nil {
			return err
		}
	}
	if err := pack.WriteMsgpackCatalogFile(mgr, []string{"./*.msgpack"}, rootMap); err != nil {
		return err
	}
	tui.Successf("packed demo catalog into %s", directory)
	return nil
}

// packSettings are the per-invocation settings after merging config and flags.
type packSettings struct {
	cfg      *config.Config
	format   serialize.Format
	external pack.ExternalMode
	handlers fill.Registry
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func resolveSettings(cfg *config.Config) (packSettings, error) {
	settings := packSettings{cfg: cfg}

	exclusive := 0
	for _, set := range []bool{copyExternal, s3Bucket != "", fillExternal, ignoreExternal} {
		if set {
			exclusive++
		}
	}
	if exclusive > 1 {
		return settings, fmt.Errorf("--copy-external, --copy-external-s3, --fill-external, and --ignore-external are mutually exclusive")
	}
	selection := 0
	for _, set := range []bool{allRuns, len(queries) > 0, len(uidFiles) > 0} {
		if set {
			selection++
		}
	}
	if selection > 1 {
		return settings, fmt.Errorf("--all, --query, and --uids are mutually exclusive")
	}

	name := formatFlag
	if name == "" {
		name = cfg.Pack.Format
	}
	format, err := serialize.ParseFormat(name)
	if err != nil {
		return settings, err
	}
	settings.format = format

	externalName := cfg.Pack.External
	switch {
	case fillExternal:
		externalName = "fill"
	case ignoreExternal:
		externalName = "ignore"
	}
	external, err := pack.ParseExternalMode(externalName)
	if err != nil {
		return settings, err
	}
	settings.external = external

	if !strictFlag {
		strictFlag = cfg.Pack.Strict
	}

	if len(handlerOverride) > 0 {
		if !fillExternal {
			return settings, fmt.Errorf("--handler-registry only works with --fill-external; all other modes use automatic handler discovery")
		}
		handlers, err := parseHandlerRegistry(handlerOverride)
		if err != nil {
			return settings, err
		}
		settings.handlers = handlers
	}
	return settings, nil
}

// parseHandlerRegistry maps SPEC=HANDLER pairs onto the built-in loaders.
func parseHandlerRegistry(pairs []string) (fill.Registry, error) {
	builtin := fill.DiscoverHandlers()
	registry := make(fill.Registry, len(pairs))
	for _, pair := range pairs {
		spec, name, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("could not parse --handler-registry %q: SPEC=HANDLER expected", pair)
		}
		handler, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("unknown handler %q for spec %q", name, spec)
		}
		registry[spec] = handler
	}
	return registry, nil
}

// parseQueries combines repeated -q constraints into one query. --all is the
// empty query.
func parseQueries(raw []string) (catalog.Query, error) {
	query := catalog.Query{Fields: make(map[string]any)}
	for _, constraint := range raw {
		key, value, ok := strings.Cut(constraint, "=")
		if !ok {
			return query, fmt.Errorf("could not parse query %q: key=value expected", constraint)
		}
		switch key {
		case "since":
			t, err := parseTime(value)
			if err != nil {
				return query, err
			}
			query.Since = t
		case "until":
			t, err := parseTime(value)
			if err != nil {
				return query, err
			}
			query.Until = t
		default:
			query.Fields[key] = value
		}
	}
	return query, nil
}

func parseTime(value string) (float64, error) {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return seconds, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return float64(t.Unix()), nil
		}
	}
	return 0, fmt.Errorf("could not parse time %q: epoch seconds, RFC3339, or YYYY-MM-DD expected", value)
}

// readUIDs reads newline-separated uids, skipping blanks and # comments.
// "-" reads stdin. Each file is closed as soon as it has been scanned.
func readUIDs(paths []string) ([]string, error) {
	var uids []string
	for _, path := range paths {
		if path == "-" {
			scanned, err := scanUIDs(os.Stdin)
			if err != nil {
				return nil, err
			}
			uids = append(uids, scanned...)
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		scanned, err := scanUIDs(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		uids = append(uids, scanned...)
	}
	return uids, nil
}

func scanUIDs(reader io.Reader) ([]string, error) {
	var uids []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uids = append(uids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return uids, nil
}

func reportFailures(failures []string, errorLogName string) {
	tui.Errorf("%d run(s) failed to pack", len(failures))
	file, err := os.CreateTemp("", "databroker-pack-failed-uids-*.txt")
	if err == nil {
		fmt.Fprintln(file, strings.Join(failures, "\n"))
		file.Close()
		tui.Infof("see %s for a list of uids of runs that failed", file.Name())
	}
	tui.Infof("see %s for error logs with more information", errorLogName)
}

func s3Config(cfg *config.Config) s3.Config {
	s3cfg := s3.DefaultConfig(s3Bucket, cfg.S3.Region)
	s3cfg.Endpoint = cfg.S3.Endpoint
	s3cfg.UsePathStyle = cfg.S3.UsePathStyle
	if cfg.S3.Concurrency > 0 {
		s3cfg.Concurrency = cfg.S3.Concurrency
	}
	return s3cfg
}
