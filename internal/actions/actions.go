// Package actions manages a VM record's named startup actions: the
// delimiter-encoded legacy codec and the CRUD operations over the mapping.
//
// The mapping itself is owned by the loaded record and passed in explicitly;
// this package holds no state of its own.
package actions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jbweber/bellows/internal/config"
)

// Reserved multi-character tokens of the legacy encoding. The '@' they are
// built from is escaped inside keys and values, so commands containing the
// tokens, or any fragment of them, round-trip losslessly.
const (
	entrySep = "@@;;@@"
	kvSep    = "@@==@@"
)

// escapeField escapes backslashes first so that the escapes added afterwards
// can never be confused with a literal backslash sequence already present in
// the input. Every '@' is escaped, not just full reserved tokens: an escaped
// field therefore contains no literal '@' at all, so a separator can only
// occur where Encode joined fields — never inside a field, and never across
// a field/separator boundary (a value ending in a partial token like "@@;;@"
// cannot combine with the joined separator to form a full one).
func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "@", `\a`)
	return s
}

func unescapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case 'a':
			b.WriteByte('@')
		// Older encoders escaped whole reserved tokens instead of '@';
		// keep decoding their output.
		case 's':
			b.WriteString(entrySep)
		case 'k':
			b.WriteString(kvSep)
		default:
			// Not an escape we produce; keep both bytes.
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Encode serializes a startup action mapping to the legacy single-string
// form. An empty or nil mapping encodes to the empty string. Entries are
// emitted in sorted key order so the output is deterministic.
func Encode(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, escapeField(k)+kvSep+escapeField(m[k]))
	}
	return strings.Join(entries, entrySep)
}

// Decode parses the legacy single-string form back into a mapping. The empty
// string decodes to an empty mapping. Decode(Encode(m)) == m for any mapping
// whose keys match the identifier class and whose values are arbitrary
// strings, including ones containing the reserved tokens, backslashes, and
// double quotes.
func Decode(s string) (map[string]string, error) {
	m := make(map[string]string)
	if s == "" {
		return m, nil
	}
	for _, entry := range strings.Split(s, entrySep) {
		parts := strings.SplitN(entry, kvSep, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed action entry %q", entry)
		}
		m[unescapeField(parts[0])] = unescapeField(parts[1])
	}
	return m, nil
}

// Names returns the mapping's action names sorted lexicographically. The
// sorted order is what gives index-based lookups a stable numbering across
// calls.
func Names(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Add inserts a new action. The name must be non-empty, match the identifier
// class, and not already exist.
func Add(m map[string]string, name, command string) error {
	if err := config.ValidateName(name); err != nil {
		return fmt.Errorf("action name: %w", err)
	}
	if _, ok := m[name]; ok {
		return fmt.Errorf("action %q already exists", name)
	}
	m[name] = command
	return nil
}

// ByIndex resolves a 1-based index into the sorted name listing.
func ByIndex(m map[string]string, index int) (string, error) {
	names := Names(m)
	if index < 1 || index > len(names) {
		return "", fmt.Errorf("action index %d out of range [1, %d]", index, len(names))
	}
	return names[index-1], nil
}

// Edit replaces the command of the action at the given 1-based sorted index.
func Edit(m map[string]string, index int, command string) (string, error) {
	name, err := ByIndex(m, index)
	if err != nil {
		return "", err
	}
	m[name] = command
	return name, nil
}

// Delete removes the action at the given 1-based sorted index.
func Delete(m map[string]string, index int) (string, error) {
	name, err := ByIndex(m, index)
	if err != nil {
		return "", err
	}
	delete(m, name)
	return name, nil
}
