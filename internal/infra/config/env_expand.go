package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandEnv substitutes ${VAR} references in every string scalar of a YAML
// document. Unquoted scalars are retyped after substitution so that
// `maxSessions: ${MAX}` still decodes as an integer. Unset variables expand
// to the empty string and are reported back.
func expandEnv(raw []byte) ([]byte, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}

	e := envExpander{missing: make(map[string]struct{})}
	e.walk(&doc)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode expanded config: %w", err)
	}
	return out, e.missingNames(), nil
}

type envExpander struct {
	missing map[string]struct{}
}

func (e envExpander) walk(node *yaml.Node) {
	switch node.Kind {
	case yaml.MappingNode:
		// Keys are never expanded.
		for i := 1; i < len(node.Content); i += 2 {
			e.walk(node.Content[i])
		}
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			e.walk(child)
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			e.walk(node.Alias)
		}
	case yaml.ScalarNode:
		e.scalar(node)
	}
}

func (e envExpander) scalar(node *yaml.Node) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}
	value := os.Expand(node.Value, e.lookup)
	if value == node.Value {
		return
	}
	if node.Style != 0 {
		node.Tag, node.Value = "!!str", value
		return
	}
	node.Tag, node.Value = retag(value)
}

func (e envExpander) lookup(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	e.missing[key] = struct{}{}
	return ""
}

func (e envExpander) missingNames() []string {
	if len(e.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.missing))
	for name := range e.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func retag(value string) (string, string) {
	if strings.TrimSpace(value) == "" {
		return "!!str", value
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return "!!str", value
	}
	switch v := parsed.(type) {
	case nil:
		return "!!null", "null"
	case bool:
		return "!!bool", strconv.FormatBool(v)
	case int:
		return "!!int", strconv.Itoa(v)
	case float64:
		return "!!float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "!!str", value
	}
}
