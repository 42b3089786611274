package compiler

import (
	"regexp"
	"sort"
	"strings"
)

// Apex is close enough to Java for tree-sitter-java to parse once a handful
// of Apex-only constructs are rewritten. Every rewrite preserves byte offsets
// and newlines, so node positions map straight back to the original source.

type markerKind int

const (
	markerGlobal markerKind = iota
	markerVirtual
	markerOverride
	markerTestMethod
	markerWebService
)

type marker struct {
	offset int
	kind   markerKind
}

type triggerHeader struct {
	name    string
	sobject string
	events  []string
	// byte offsets in the original source
	nameStart    int
	nameEnd      int
	sobjectStart int
	sobjectEnd   int
	start        int
	end          int
}

type normalized struct {
	src        []byte
	markers    []marker     // sorted by offset
	properties map[int]bool // offsets of ';' written over property accessor blocks
	trigger    *triggerHeader
}

// markersIn returns the markers with offsets in [from, to).
func (n *normalized) markersIn(from, to int) []marker {
	i := sort.Search(len(n.markers), func(i int) bool { return n.markers[i].offset >= from })
	var out []marker
	for ; i < len(n.markers) && n.markers[i].offset < to; i++ {
		out = append(out, n.markers[i])
	}
	return out
}

// javaKeywords are lower-cased in place; Apex keywords are case-insensitive.
var javaKeywords = map[string]bool{
	"abstract": true, "break": true, "catch": true, "class": true,
	"continue": true, "do": true, "else": true, "enum": true, "extends": true,
	"false": true, "final": true, "finally": true, "for": true, "if": true,
	"implements": true, "instanceof": true, "interface": true, "new": true,
	"null": true, "private": true, "protected": true, "public": true,
	"return": true, "static": true, "super": true, "this": true,
	"throw": true, "transient": true, "true": true, "try": true,
	"void": true, "while": true,
}

var apexModifiers = map[string]markerKind{
	"virtual":    markerVirtual,
	"override":   markerOverride,
	"testmethod": markerTestMethod,
	"webservice": markerWebService,
}

var sharingPrefixes = map[string]bool{"with": true, "without": true, "inherited": true}

var dmlKeywords = map[string]bool{
	"insert": true, "update": true, "upsert": true,
	"delete": true, "undelete": true, "merge": true,
}

var accessorVisibility = map[string]bool{
	"public": true, "private": true, "protected": true, "global": true,
}

var triggerRe = regexp.MustCompile(`(?is)^(\s*)trigger\s+(\w+)\s+on\s+(\w+)\s*\(([^)]*)\)`)

// syntheticTriggerMethod names the method a trigger body is wrapped in.
const syntheticTriggerMethod = "e"

func normalize(original []byte) *normalized {
	n := &normalized{
		src:        append([]byte(nil), original...),
		properties: make(map[int]bool),
	}
	n.rewriteTrigger()

	out := n.src
	prev := byte(0) // last significant code byte
	for i := 0; i < len(out); {
		c := out[i]
		switch {
		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			end := indexFrom(out, i+2, "*/")
			if end < 0 {
				return n
			}
			i = end + 2
			continue
		case c == '\'':
			i = rewriteString(out, i)
			prev = '"'
			continue
		case c == '"':
			j := i + 1
			for j < len(out) && out[j] != '"' && out[j] != '\n' {
				if out[j] == '\\' {
					j++
				}
				j++
			}
			i = j + 1
			prev = '"'
			continue
		case c == '[':
			if end := soqlEnd(out, i); end > i {
				blank(out, i, end+1)
				copy(out[i:], "null")
				i = end + 1
				prev = 'l'
				continue
			}
		case c == '{':
			if isIdentByte(prev) {
				if end := accessorBlockEnd(out, i); end > i {
					blank(out, i, end+1)
					out[i] = ';'
					n.properties[i] = true
					i = end + 1
					prev = ';'
					continue
				}
			}
		case isIdentStart(c):
			j := i
			for j < len(out) && isIdentByte(out[j]) {
				j++
			}
			n.rewriteWord(i, j, prev)
			prev = out[j-1]
			if isSpaceRun(out[i:j]) {
				prev = lastSignificant(out, i)
			}
			i = j
			continue
		}
		if !isSpace(c) {
			prev = c
		}
		i++
	}
	return n
}

func (n *normalized) rewriteWord(i, j int, prev byte) {
	out := n.src
	word := string(out[i:j])
	lw := strings.ToLower(word)

	switch {
	case lw == "global":
		copy(out[i:j], "public")
		n.addMarker(i, markerGlobal)
	case javaKeywords[lw] && prev == '.':
		// Member names such as Trigger.new are identifiers in Apex; an
		// upper-case initial keeps them out of the Java keyword set.
		if word == lw {
			out[i] = lw[0] - 'a' + 'A'
		}
	case javaKeywords[lw]:
		if word != lw {
			copy(out[i:j], lw)
		}
	case sharingPrefixes[lw]:
		k := skipSpace(out, j)
		e := k
		for e < len(out) && isIdentByte(out[e]) {
			e++
		}
		if strings.EqualFold(string(out[k:e]), "sharing") {
			blank(out, i, e)
		}
	case dmlKeywords[lw]:
		if prev == 0 || prev == ';' || prev == '{' || prev == '}' {
			k := skipSpace(out, j)
			if k < len(out) && (isIdentStart(out[k]) || out[k] == '(') {
				blank(out, i, j)
			}
		}
	default:
		if kind, ok := apexModifiers[lw]; ok {
			blank(out, i, j)
			n.addMarker(i, kind)
		}
	}
}

func (n *normalized) addMarker(offset int, kind markerKind) {
	n.markers = append(n.markers, marker{offset: offset, kind: kind})
}

// rewriteTrigger turns "trigger T on Obj (events) { body }" into a class with
// one method wrapping the body, so the body parses as statements.
func (n *normalized) rewriteTrigger() {
	m := triggerRe.FindSubmatchIndex(n.src)
	if m == nil {
		return
	}
	start, end := m[3], m[1] // skip leading whitespace
	name := string(n.src[m[4]:m[5]])
	repl := "class " + name + "{void " + syntheticTriggerMethod + "()"
	lineEnd := indexFrom(n.src, start, "\n")
	if lineEnd < 0 || lineEnd > end {
		lineEnd = end
	}
	if lineEnd-start < len(repl) {
		return
	}

	var events []string
	for _, ev := range strings.Split(string(n.src[m[8]:m[9]]), ",") {
		if ev = strings.Join(strings.Fields(ev), " "); ev != "" {
			events = append(events, strings.ToLower(ev))
		}
	}
	n.trigger = &triggerHeader{
		name:         name,
		sobject:      string(n.src[m[6]:m[7]]),
		events:       events,
		nameStart:    m[4],
		nameEnd:      m[5],
		sobjectStart: m[6],
		sobjectEnd:   m[7],
		start:        start,
		end:          end,
	}
	blank(n.src, start, end)
	copy(n.src[start:], repl)
	n.src = append(n.src, '}')
}

// rewriteString converts an Apex single-quoted string into a Java
// double-quoted one. Returns the offset after the literal.
func rewriteString(out []byte, i int) int {
	out[i] = '"'
	j := i + 1
	for j < len(out) && out[j] != '\'' && out[j] != '\n' {
		switch out[j] {
		case '\\':
			j++
		case '"':
			out[j] = '\''
		}
		j++
	}
	if j < len(out) && out[j] == '\'' {
		out[j] = '"'
	}
	return j + 1
}

// soqlEnd returns the offset of the ']' closing an inline SOQL/SOSL query
// starting at i, or -1.
func soqlEnd(out []byte, i int) int {
	k := skipSpace(out, i+1)
	e := k
	for e < len(out) && isIdentByte(out[e]) {
		e++
	}
	lw := strings.ToLower(string(out[k:e]))
	if lw != "select" && lw != "find" {
		return -1
	}
	depth := 0
	for j := i; j < len(out); j++ {
		switch out[j] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// accessorBlockEnd recognizes a property accessor block "{ get; set; }"
// starting at i and returns the offset of its closing brace, or -1.
func accessorBlockEnd(out []byte, i int) int {
	k := skipSpace(out, i+1)
	word, next := readWord(out, k)
	if accessorVisibility[strings.ToLower(word)] {
		word, next = readWord(out, skipSpace(out, next))
	}
	lw := strings.ToLower(word)
	if lw != "get" && lw != "set" {
		return -1
	}
	k = skipSpace(out, next)
	if k >= len(out) || (out[k] != ';' && out[k] != '{') {
		return -1
	}
	depth := 0
	for j := i; j < len(out); j++ {
		switch out[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		case '\'':
			j = rewriteString(out, j) - 1
		}
	}
	return -1
}

func readWord(out []byte, k int) (string, int) {
	e := k
	for e < len(out) && isIdentByte(out[e]) {
		e++
	}
	return string(out[k:e]), e
}

// blank overwrites [from, to) with spaces, keeping newlines.
func blank(out []byte, from, to int) {
	for i := from; i < to && i < len(out); i++ {
		if out[i] != '\n' && out[i] != '\r' {
			out[i] = ' '
		}
	}
}

func indexFrom(b []byte, from int, sep string) int {
	if from >= len(b) {
		return -1
	}
	idx := strings.Index(string(b[from:]), sep)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func skipSpace(out []byte, i int) int {
	for i < len(out) && isSpace(out[i]) {
		i++
	}
	return i
}

func lastSignificant(out []byte, i int) byte {
	for j := i - 1; j >= 0; j-- {
		if !isSpace(out[j]) {
			return out[j]
		}
	}
	return 0
}

func isSpaceRun(b []byte) bool {
	for _, c := range b {
		if !isSpace(c) {
			return false
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
