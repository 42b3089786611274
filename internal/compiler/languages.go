package compiler

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// extToKind maps Apex file extensions to the unit kind they hold.
var extToKind = map[string]string{
	".cls":     "class",
	".trigger": "trigger",
	".apex":    "anonymous",
}

var (
	grammar     *sitter.Language
	grammarOnce sync.Once
)

// apexGrammar returns the grammar used for normalized Apex source.
func apexGrammar() *sitter.Language {
	grammarOnce.Do(func() {
		grammar = java.GetLanguage()
	})
	return grammar
}

// UnitKind returns the kind of Apex unit stored at path based on its
// extension. Returns ("", false) if the extension is not recognized.
func UnitKind(path string) (string, bool) {
	kind, ok := extToKind[strings.ToLower(filepath.Ext(path))]
	return kind, ok
}

// IsSource reports whether path holds Apex source the compiler accepts.
func IsSource(path string) bool {
	_, ok := UnitKind(path)
	return ok
}

// Extensions returns the recognized extensions, sorted.
func Extensions() []string {
	return []string{".apex", ".cls", ".trigger"}
}
