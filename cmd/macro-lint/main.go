package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jordanella.com/macropilot/internal/engine"
	"jordanella.com/macropilot/internal/timeline"
)

func main() {
	strict := flag.Bool("strict", false, "Treat warnings (unresolved jump targets) as failures")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: macro-lint [-strict] <project.json|macro.yaml> ...")
		os.Exit(2)
	}

	totalErrors := 0
	totalWarnings := 0
	for _, path := range flag.Args() {
		errs, warns := lintFile(path)
		totalErrors += errs
		totalWarnings += warns
	}

	if totalErrors == 0 && totalWarnings == 0 {
		fmt.Println("✓ No problems found")
		return
	}

	fmt.Printf("%d problem(s), %d warning(s)\n", totalErrors, totalWarnings)
	if totalErrors > 0 || (*strict && totalWarnings > 0) {
		os.Exit(1)
	}
}

func lintFile(path string) (problems, warnings int) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		project, err := timeline.LoadProject(path)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			return 1, 0
		}
		if len(project.Macros) == 0 {
			fmt.Printf("%s: warning: project contains no macros\n", path)
			warnings++
		}
		for _, m := range project.Macros {
			p, w := lintTimeline(fmt.Sprintf("%s: macro %q", path, m.Name), m.Timeline)
			problems += p
			warnings += w
		}

	case ".yaml", ".yml":
		macro, err := timeline.LoadMacroFile(path)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			return 1, 0
		}
		problems, warnings = lintTimeline(fmt.Sprintf("%s: macro %q", path, macro.Name), macro.Timeline)

	default:
		fmt.Printf("%s: unsupported file type (want .json, .yaml or .yml)\n", path)
		return 1, 0
	}

	return problems, warnings
}

// lintTimeline runs the structural checks, the engine's parameter parser and
// the jump-target resolver over one timeline.
func lintTimeline(prefix string, tl timeline.Timeline) (problems, warnings int) {
	for _, err := range tl.Validate() {
		fmt.Printf("%s: %v\n", prefix, err)
		problems++
	}
	for _, err := range engine.ValidateTimeline(tl) {
		fmt.Printf("%s: %v\n", prefix, err)
		problems++
	}
	for _, target := range tl.UnresolvedTargets() {
		fmt.Printf("%s: warning: jump target %q does not resolve, the run would fall through\n", prefix, target)
		warnings++
	}
	return problems, warnings
}
