// databroker-pack - Pack experimental runs into portable files.
// Exports runs from a queryable catalog into msgpack/JSONL document files
// plus manifests and a catalog.yml that reopens the bundle as a catalog.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	// Run selection (mutually exclusive)
	allRuns  bool
	queries  []string
	uidFiles []string

	// External data handling (mutually exclusive)
	copyExternal   bool
	s3Bucket       string
	fillExternal   bool
	ignoreExternal bool

	// Other options
	formatFlag      string
	noDocuments     bool
	strictFlag      bool
	handlerOverride []string
	configPath      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "databroker-pack CATALOG DIRECTORY",
	Short: "Pack up some runs into portable files",
	Long: `databroker-pack exports runs from a catalog into a self-contained
directory: serialized document files, manifests of the external files the
runs reference, and a catalog.yml that reopens the directory as a catalog.

CATALOG is a directory containing a catalog.yml; DIRECTORY is the output.

Examples:
  Export runs from a range of time.

    databroker-pack CATALOG -q "since=2020-01-01" DIRECTORY

  Export runs with a certain plan_name.

    databroker-pack CATALOG -q "plan_name=count" DIRECTORY

  Export specific runs by uid (or uid prefix), read from a file or stdin.

    databroker-pack CATALOG --uids uids_to_pack.txt DIRECTORY
    databroker-pack CATALOG --uids - DIRECTORY

  Export an entire catalog.

    databroker-pack CATALOG --all DIRECTORY

  Copy the external data files into the output directory.

    databroker-pack CATALOG --all --copy-external DIRECTORY`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
	Args:    cobra.ExactArgs(2),
	RunE:    runPack,
}

var demoCmd = &cobra.Command{
	Use:   "demo DIRECTORY",
	Short: "Pack a small synthetic catalog",
	Long: `Generate a few synthetic runs with real external files and pack them
into DIRECTORY. Useful as a smoke test and as sample input for tools that
consume packs.`,
	Args: cobra.ExactArgs(1),
	RunE: runDemo,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&allRuns, "all", false, "Export every run in this catalog.")
	flags.StringArrayVarP(&queries, "query", "q", nil,
		"Narrow results with key=value matches and since=/until= time bounds.\nRepeat to AND multiple constraints.")
	flags.StringArrayVar(&uidFiles, "uids", nil,
		"Newline-separated (partial) uids. Lines starting with # are skipped.\nUse - to read from stdin.")

	flags.BoolVar(&copyExternal, "copy-external", false,
		"Copy relevant external files into the output directory.")
	flags.StringVar(&s3Bucket, "copy-external-s3", "",
		"Upload relevant external files to this S3 bucket.")
	flags.BoolVar(&fillExternal, "fill-external", false,
		"Place external data directly in the documents.")
	flags.BoolVar(&ignoreExternal, "ignore-external", false,
		"Skip the external-file manifests written by default.")

	flags.StringVar(&formatFlag, "format", "",
		"Format for documents in the pack output: msgpack (default) or jsonl.")
	flags.BoolVar(&noDocuments, "no-documents", false, "Do not pack the documents.")
	flags.BoolVar(&strictFlag, "strict", false,
		"Exit when an error occurs. Otherwise failures are logged as they\nhappen and summarized at the end.")
	flags.StringArrayVar(&handlerOverride, "handler-registry", nil,
		"SPEC=HANDLER pairs overriding automatic handler discovery.\nOnly valid with --fill-external.")
	flags.StringVar(&configPath, "config", "", "Path to config file.")

	rootCmd.AddCommand(demoCmd)
}
