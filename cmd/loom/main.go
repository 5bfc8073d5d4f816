// Loom CLI - weaves change-notification calls into compiled Weft module images
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/weftlang/loom/manifest"
	"github.com/weftlang/loom/weaver"
)

const versionStr = "0.3.0"

// pathList collects repeated -I flags.
type pathList []string

func (p *pathList) String() string {
	return strings.Join(*p, string(os.PathListSeparator))
}

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "dump" {
		runDump(os.Args[2:])
		return
	}
	runWeave(os.Args[1:])
}

func runWeave(args []string) {
	fs := flag.NewFlagSet("loom", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Verbose output")
	symbols := fs.Bool("symbols", false, "Rewrite the debug symbol sidecar alongside the image")
	dryRun := fs.Bool("dry-run", false, "Report what would be woven without writing")
	configPath := fs.String("config", "", "Path to loom.toml (default: nearest ancestor of the image)")
	version := fs.Bool("version", false, "Print version and exit")
	var includes pathList
	fs.Var(&includes, "I", "Extra module search directory (repeatable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loom [options] <module.weft>\n\n")
		fmt.Fprintf(os.Stderr, "Weaves change-notification calls into the property setters of a compiled\nWeft module image, in place.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  loom app.weft                   # Weave app.weft in place\n")
		fmt.Fprintf(os.Stderr, "  loom -I deps -symbols app.weft  # Extra search path, update app.sym too\n")
		fmt.Fprintf(os.Stderr, "  loom -dry-run app.weft          # Report without writing\n")
		fmt.Fprintf(os.Stderr, "  loom dump app.weft              # Show module contents\n")
	}
	fs.Parse(args)

	if *version {
		fmt.Printf("loom version %s\n", versionStr)
		os.Exit(0)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	imagePath := fs.Arg(0)

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	opts := weaver.Options{
		Symbols:     *symbols,
		DryRun:      *dryRun,
		SearchPaths: includes,
	}

	// Manifest settings fill in what the flags leave unset.
	m, err := loadManifest(*configPath, imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m != nil {
		opts.SearchPaths = append(opts.SearchPaths, m.SearchPaths()...)
		if m.Symbols.Enabled {
			opts.Symbols = true
		}
	}

	res, err := weaver.New(opts).Run(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case !res.Changed:
		fmt.Printf("%s: unchanged\n", res.Module)
	case *dryRun:
		fmt.Printf("%s: %d properties would be woven\n", res.Module, res.Properties)
	default:
		fmt.Printf("%s: wove %d properties\n", res.Module, res.Properties)
	}
}

// loadManifest loads the explicit config when given, otherwise searches
// upward from the image directory. A missing manifest is not an error.
func loadManifest(configPath, imagePath string) (*manifest.Manifest, error) {
	if configPath != "" {
		info, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return manifest.Load(configPath)
		}
		return manifest.Load(filepath.Dir(configPath))
	}

	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, err
	}
	return manifest.FindAndLoad(filepath.Dir(abs))
}
