package spec

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// keyOrder maps the JSON Pointer of every mapping in a document to its keys in
// source order. Decoding into Go maps loses that order; generated code follows
// it so output mirrors the contract as written.
type keyOrder map[string][]string

func indexKeyOrder(data []byte) (keyOrder, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("index key order: %w", err)
	}
	order := keyOrder{}
	if len(root.Content) > 0 {
		order.walk(root.Content[0], "", 0)
	}
	return order, nil
}

const maxIndexDepth = 256

func (o keyOrder) walk(n *yaml.Node, ptr string, depth int) {
	if n == nil || depth > maxIndexDepth {
		return
	}
	switch n.Kind {
	case yaml.AliasNode:
		o.walk(n.Alias, ptr, depth+1)
	case yaml.MappingNode:
		keys := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			keys = append(keys, key)
			o.walk(n.Content[i+1], ptr+"/"+escapePointer(key), depth+1)
		}
		o[ptr] = keys
	case yaml.SequenceNode:
		for i, c := range n.Content {
			o.walk(c, fmt.Sprintf("%s/%d", ptr, i), depth+1)
		}
	}
}

// orderedKeys returns the keys of m ordered as they appear at ptr in the source.
// Keys the index does not know about follow in alphabetical order.
func orderedKeys[V any](o keyOrder, ptr string, m map[string]V) []string {
	out := make([]string, 0, len(m))
	seen := make(map[string]struct{}, len(m))
	for _, k := range o[ptr] {
		if _, ok := m[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	var rest []string
	for k := range m {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}
