package manifest

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	requirementName = regexp.MustCompile(`^\s*([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)
	nameSeparators  = regexp.MustCompile(`[-_.]+`)
)

// RequirementName extracts the distribution name of a dependency
// string such as "moat-util[trio] >= 0.4; python_version > '3.8'".
func RequirementName(spec string) (string, error) {
	m := requirementName.FindStringSubmatch(spec)
	if m == nil {
		return "", errors.Errorf("invalid requirement %q", spec)
	}
	return m[1], nil
}

// CanonicalName normalizes a distribution name for comparison.
func CanonicalName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// FixDeps pins every dependency named in versions to "<name> ~= <version>".
// Entries that already read exactly so are left alone.  It reports whether
// deps was modified.
func FixDeps(deps []any, versions map[string]string) bool {
	return fixDeps(deps, versions, nil)
}

func fixDeps(deps []any, versions map[string]string, edit func(from, to string)) bool {
	canon := make(map[string]string, len(versions))
	for name, v := range versions {
		canon[CanonicalName(name)] = v
	}

	work := false
	for i, d := range deps {
		spec, ok := d.(string)
		if !ok {
			continue
		}
		name, err := RequirementName(spec)
		if err != nil {
			continue
		}
		v, ok := canon[CanonicalName(name)]
		if !ok {
			continue
		}
		pinned := name + " ~= " + v
		if spec != pinned {
			if edit != nil {
				edit(spec, pinned)
			}
			deps[i] = pinned
			work = true
		}
	}
	return work
}

// PinDependencies applies FixDeps to project.dependencies and to every list
// of project.optional-dependencies.
func PinDependencies(tree map[string]any, versions map[string]string) bool {
	return pinDependencies(tree, versions, nil)
}

func pinDependencies(tree map[string]any, versions map[string]string, edit func(from, to string)) bool {
	work := false
	if deps, ok := Lookup(tree, "project", "dependencies"); ok {
		if l, ok := deps.([]any); ok && fixDeps(l, versions, edit) {
			work = true
		}
	}
	for _, key := range []string{"optional-dependencies", "optional_dependencies"} {
		opt, ok := Lookup(tree, "project", key)
		if !ok {
			continue
		}
		groups, ok := opt.(map[string]any)
		if !ok {
			continue
		}
		names := make([]string, 0, len(groups))
		for g := range groups {
			names = append(names, g)
		}
		sort.Strings(names)
		for _, g := range names {
			if l, ok := groups[g].([]any); ok && fixDeps(l, versions, edit) {
				work = true
			}
		}
	}
	return work
}
