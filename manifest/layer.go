package manifest

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DeleteTag marks a value of a YAML template layer as Delete:
//
//	tool:
//	  setuptools_scm: !delete
const DeleteTag = "!delete"

// DecodeLayer parses a YAML template layer into a manifest tree.  Integers
// are decoded as int64 the way the TOML decoder does.  In a forced layer,
// mapping values tagged !delete become the Delete marker; anywhere else the
// tag is an error.
func DecodeLayer(data []byte, forced bool) (map[string]any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing template layer")
	}
	if doc.Kind == 0 {
		return map[string]any{}, nil
	}
	v, err := decodeNode(&doc, forced, false)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Errorf("template layer must be a mapping, not %T", v)
	}
	return m, nil
}

// decodeNode converts n.  mapValue is set for the values of a mapping.
func decodeNode(n *yaml.Node, forced, mapValue bool) (any, error) {
	if n.Tag == DeleteTag {
		if !forced || !mapValue {
			return nil, errors.Errorf("line %d: %s only marks mapping values of the forced layer", n.Line, DeleteTag)
		}
		return Delete, nil
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return decodeNode(n.Content[0], forced, false)

	case yaml.AliasNode:
		return decodeNode(n.Alias, forced, mapValue)

	case yaml.MappingNode:
		res := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, errors.Wrapf(err, "line %d: mapping key", n.Content[i].Line)
			}
			v, err := decodeNode(n.Content[i+1], forced, true)
			if err != nil {
				return nil, err
			}
			res[key] = v
		}
		return res, nil

	case yaml.SequenceNode:
		res := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeNode(c, forced, false)
			if err != nil {
				return nil, err
			}
			res = append(res, v)
		}
		return res, nil
	}

	var v any
	if err := n.Decode(&v); err != nil {
		return nil, errors.Wrapf(err, "line %d", n.Line)
	}
	return normalize(v), nil
}

// Replacer returns a Transform that substitutes each old string with its
// new counterpart in string values.  Other values pass unchanged.
func Replacer(oldnew ...string) Transform {
	r := strings.NewReplacer(oldnew...)
	return func(v any) any {
		if s, ok := v.(string); ok {
			return r.Replace(s)
		}
		return v
	}
}
