// Package mention implements the text-scanning side of the mention engine.
//
// Everything here is a pure function over strings: no I/O, no clock, no
// randomness. That is a hard requirement — extraction runs again during index
// backfill and must produce byte-for-byte identical results for identical
// input, or the insert-or-ignore index would silently drift.
//
// Two grammars are recognised:
//
//  1. The handle grammar: "@" followed by one or more ASCII word characters
//     (letters, digits, underscore). "@alice" references alice; the offset is
//     the position of the "@".
//  2. The alias dictionary: a fixed set of names that cannot be written with
//     the bare handle grammar (native-script names such as 山田). An alias
//     matches either as "@山田" or as "山田さん" — the name immediately
//     followed by the honorific suffix.
//
// Offsets are counted in Unicode code points, not bytes, so they stay
// meaningful for clients that index into the body as a character sequence.
package mention

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Match is one extracted reference: the referenced name and the code-point
// offset of its first occurrence in the scanned text.
type Match struct {
	User   string
	Offset int
}

var handlePattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// DefaultAliases is the alias dictionary shipped with the service. Order
// matters: when the same text matches several aliases, first-listed wins the
// dedup, so the slice must stay stable across releases.
var DefaultAliases = []string{"山田", "矢間田", "ヤマダ", "やまだ"}

// Honorific is the suffix that turns a bare alias occurrence into a mention
// ("山田さん" mentions 山田; "山田" alone does not).
const Honorific = "さん"

// Extract scans text and returns one Match per unique referenced name.
//
// Dedup is by referenced name, first-seen wins: if "@alice" appears twice,
// or a name is found through both grammars, only the earliest-scanned record
// survives. Handle matches are scanned before aliases, matching the order in
// which the grammars were introduced. Malformed text never errors — it just
// yields fewer (or zero) matches.
func Extract(text string, aliases []string) []Match {
	seen := make(map[string]bool)
	var matches []Match

	for _, loc := range handlePattern.FindAllStringSubmatchIndex(text, -1) {
		user := text[loc[2]:loc[3]]
		if seen[user] {
			continue
		}
		seen[user] = true
		matches = append(matches, Match{User: user, Offset: runeOffset(text, loc[0])})
	}

	for _, alias := range aliases {
		if seen[alias] {
			continue
		}
		if !strings.Contains(text, "@"+alias) && !strings.Contains(text, alias+Honorific) {
			continue
		}
		seen[alias] = true
		matches = append(matches, Match{User: alias, Offset: runeOffset(text, strings.Index(text, alias))})
	}

	return matches
}

// runeOffset converts a byte offset into a code-point offset.
func runeOffset(text string, byteOff int) int {
	return utf8.RuneCountInString(text[:byteOff])
}

// ReplaceHandle rewrites every word-boundary-terminated occurrence of
// "@oldName" in text to "@newName" and returns the result.
//
// The boundary rule is asymmetric on purpose: only the trailing edge is
// checked. An occurrence counts when the character immediately after the
// matched name is absent (end of text) or is not an ASCII word character.
// So for oldName "alice":
//
//	"hi @alice"     → rewritten ("@alice" at end of text)
//	"hi @alice, yo" → rewritten ("," is not a word character)
//	"hi @alice2"    → NOT rewritten ("alice" is a prefix of a longer handle)
//	"mail@alice x"  → rewritten (the leading edge is never inspected)
//
// Go's regexp has no negative lookahead, so the trailing-context test is an
// explicit next-byte check rather than a pattern feature. Checking the single
// next byte is sufficient: every ASCII word character is a one-byte rune, and
// the first byte of any multi-byte rune is ≥ 0x80.
func ReplaceHandle(text, oldName, newName string) string {
	needle := "@" + oldName
	idx := strings.Index(text, needle)
	if idx < 0 {
		return text
	}

	var b strings.Builder
	pos := 0
	for idx >= 0 {
		end := idx + len(needle)
		if end == len(text) || !isWordByte(text[end]) {
			b.WriteString(text[pos:idx])
			b.WriteString("@" + newName)
			pos = end
		}
		next := strings.Index(text[idx+1:], needle)
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}
	b.WriteString(text[pos:])
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

var hashtagPattern = regexp.MustCompile(`#[^\s#]+`)

// ExtractHashtags returns the unique, case-folded hashtags in text, in
// first-occurrence order. The leading "#" is kept as part of the tag.
func ExtractHashtags(text string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, raw := range hashtagPattern.FindAllString(text, -1) {
		tag := strings.ToLower(raw)
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
