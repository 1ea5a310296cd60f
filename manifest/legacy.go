package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// CommaFields are string values holding comma separated lists.  They are
// split for merging and joined again when written.
var CommaFields = [][]string{
	{"tool", "tox", "tox", "envlist"},
	{"tool", "pylint", "messages_control", "enable"},
	{"tool", "pylint", "messages_control", "disable"},
}

const legacyKey = "legacy_tox_ini"

// ExpandLegacy turns the INI text at tool.tox.legacy_tox_ini into a mapping
// of sections at tool.tox, with multi-line values as lists, and splits the
// comma fields.  It reports whether there was a legacy section.
func ExpandLegacy(tree map[string]any) (bool, error) {
	found := false
	if v, ok := Lookup(tree, "tool", "tox", legacyKey); ok {
		text, ok := v.(string)
		if !ok {
			return false, errors.Errorf("tool.tox.%s is a %T, not a string", legacyKey, v)
		}
		sections, err := parseLegacy(text)
		if err != nil {
			return false, err
		}
		tree["tool"].(map[string]any)["tox"] = sections
		found = true
	}

	for _, path := range CommaFields {
		mangle(tree, path, func(v any) any {
			s, ok := v.(string)
			if !ok {
				return v
			}
			parts := strings.Split(s, ",")
			res := make([]any, len(parts))
			for i, p := range parts {
				res[i] = p
			}
			return res
		})
	}
	return found, nil
}

// CollapseLegacy reverses ExpandLegacy: comma fields are joined, and a
// tool.tox mapping made of sections is serialized to
// tool.tox.legacy_tox_ini.
func CollapseLegacy(tree map[string]any) {
	for _, path := range CommaFields {
		mangle(tree, path, func(v any) any {
			l, ok := v.([]any)
			if !ok {
				return v
			}
			parts := make([]string, len(l))
			for i, p := range l {
				parts[i] = fmt.Sprint(p)
			}
			return strings.Join(parts, ",")
		})
	}

	tox, ok := Lookup(tree, "tool", "tox")
	if !ok {
		return
	}
	sections, ok := tox.(map[string]any)
	if !ok || len(sections) == 0 {
		return
	}
	for _, v := range sections {
		if _, ok := v.(map[string]any); !ok {
			// native TOML configuration, leave it alone
			return
		}
	}
	tree["tool"].(map[string]any)["tox"] = map[string]any{legacyKey: formatLegacy(sections)}
}

func mangle(tree map[string]any, path []string, fn func(any) any) {
	parent, ok := Lookup(tree, path[:len(path)-1]...)
	if !ok {
		return
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return
	}
	k := path[len(path)-1]
	v, ok := m[k]
	if !ok {
		return
	}
	m[k] = fn(v)
}

func parseLegacy(text string) (map[string]any, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		InsensitiveKeys:            true,
		IgnoreInlineComment:        true,
		KeyValueDelimiters:         "=:",
	}, []byte(text))
	if err != nil {
		return nil, errors.Wrap(err, "parsing tool.tox."+legacyKey)
	}

	res := map[string]any{}
	for _, sec := range f.Sections() {
		keys := sec.Keys()
		if sec.Name() == ini.DefaultSection && len(keys) == 0 {
			continue
		}
		m := map[string]any{}
		for _, key := range keys {
			v := key.Value()
			if !strings.Contains(v, "\n") {
				m[key.Name()] = v
				continue
			}
			var l []any
			for _, line := range strings.Split(v, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					l = append(l, line)
				}
			}
			if l == nil {
				l = []any{}
			}
			m[key.Name()] = l
		}
		res[sec.Name()] = m
	}
	return res, nil
}

// formatLegacy writes sections in the layout tox expects: continuation
// lines indented, DEFAULT first, everything else sorted.  gopkg.in/ini.v1
// would quote multi-line values with """, which tox can't read.
func formatLegacy(sections map[string]any) string {
	names := make([]string, 0, len(sections))
	for name := range sections {
		if name != ini.DefaultSection {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := sections[ini.DefaultSection]; ok {
		names = append([]string{ini.DefaultSection}, names...)
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, name := range names {
		sec := sections[name].(map[string]any)
		fmt.Fprintf(&b, "[%s]\n", name)
		keys := make([]string, 0, len(sec))
		for k := range sec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := sec[k].(type) {
			case []any:
				b.WriteString(k + " =")
				for _, x := range v {
					fmt.Fprintf(&b, "\n    %v", x)
				}
				b.WriteString("\n")
			default:
				fmt.Fprintf(&b, "%s = %v\n", k, v)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
