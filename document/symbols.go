package document

import (
	"fmt"
	"regexp"
	"strings"
)

// Symbols holds the code references found in a document: dotted API calls
// under a product namespace and CLI subcommand invocations.
type Symbols struct {
	// APICalls maps dotted call paths (e.g. "wandb.init") to the body lines
	// they appear on.
	APICalls map[string][]int
	// CLICommands maps "ns subcommand" strings to the body lines they
	// appear on.
	CLICommands map[string][]int
}

// CodeSymbols scans code blocks and inline code for references to the given
// namespace. It is a lexical scan, not a parse: good enough for checking the
// references against a catalog, and language-agnostic.
func CodeSymbols(d *Document, namespace string) *Symbols {
	s := &Symbols{
		APICalls:    make(map[string][]int),
		CLICommands: make(map[string][]int),
	}
	if namespace == "" {
		return s
	}

	apiRe := regexp.MustCompile(regexp.QuoteMeta(namespace) + `\.(\w+(?:\.\w+)*)\s*\(`)
	cliRe := regexp.MustCompile(`(?:^|[;&|]\s*)` + regexp.QuoteMeta(namespace) + `\s+([a-z][\w-]*)`)

	scan := func(content string, startLine int) {
		for offset, line := range strings.Split(content, "\n") {
			lineNum := startLine + offset
			for _, m := range apiRe.FindAllStringSubmatch(line, -1) {
				call := fmt.Sprintf("%s.%s", namespace, m[1])
				s.APICalls[call] = append(s.APICalls[call], lineNum)
			}
			for _, m := range cliRe.FindAllStringSubmatch(line, -1) {
				cmd := fmt.Sprintf("%s %s", namespace, m[1])
				s.CLICommands[cmd] = append(s.CLICommands[cmd], lineNum)
			}
		}
	}

	for _, cb := range d.CodeBlocks {
		scan(cb.Content, cb.LineStart+1)
	}
	for _, ic := range d.InlineCode {
		scan(ic.Content, ic.LineStart)
	}

	return s
}
