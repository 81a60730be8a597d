// Package assemble merges streamed text fragments into accumulated message
// content, repairing the formatting seams some backends produce around
// fenced code blocks. It is deliberately minimal: anything beyond the two
// known seams is concatenated verbatim so arbitrary generated text is never
// corrupted.
package assemble

import (
	"strings"
	"unicode"
)

// fenceLanguages are the language tags we recognize after an opening code
// fence. Backends sometimes omit the mandatory newline after the tag.
var fenceLanguages = map[string]struct{}{
	"python": {}, "py": {}, "javascript": {}, "js": {}, "typescript": {},
	"ts": {}, "go": {}, "golang": {}, "rust": {}, "java": {}, "c": {},
	"cpp": {}, "csharp": {}, "cs": {}, "ruby": {}, "php": {}, "swift": {},
	"kotlin": {}, "scala": {}, "sql": {}, "bash": {}, "sh": {}, "shell": {},
	"zsh": {}, "powershell": {}, "html": {}, "css": {}, "json": {},
	"yaml": {}, "yml": {}, "toml": {}, "xml": {}, "markdown": {}, "md": {},
	"dockerfile": {}, "makefile": {}, "diff": {}, "text": {}, "plaintext": {},
}

// Merge appends fragment to existing. Pure and safe for concurrent use.
//
// Rules, first match wins:
//  1. Either side empty: return the other.
//  2. existing ends in an opening fence plus a bare language tag: insert a
//     newline before fragment.
//  3. fragment opens a code fence right after prose (existing ends in a
//     Latin or Cyrillic letter): insert a blank line before fragment.
//  4. Concatenate verbatim.
func Merge(existing, fragment string) string {
	if existing == "" {
		return fragment
	}
	if fragment == "" {
		return existing
	}
	if endsWithBareFenceTag(existing) {
		return existing + "\n" + fragment
	}
	if strings.HasPrefix(fragment, "```") && endsWithLetter(existing) {
		return existing + "\n\n" + fragment
	}
	return existing + fragment
}

// endsWithBareFenceTag reports whether s ends with ``` followed by a known
// language word and nothing else.
func endsWithBareFenceTag(s string) bool {
	idx := strings.LastIndex(s, "```")
	if idx < 0 {
		return false
	}
	tag := s[idx+3:]
	if tag == "" {
		return false
	}
	_, ok := fenceLanguages[strings.ToLower(tag)]
	return ok
}

func endsWithLetter(s string) bool {
	runes := []rune(s)
	last := runes[len(runes)-1]
	return unicode.Is(unicode.Latin, last) || unicode.Is(unicode.Cyrillic, last)
}
