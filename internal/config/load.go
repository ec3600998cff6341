package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileExtension is appended to job file names.
const FileExtension = "yaml"

// ErrNoConfig is returned when no job file names are given.
var ErrNoConfig = errors.New("config: no job files given")

// Path returns <dir>/<name>.yaml.
func Path(dir, name string) string {
	return filepath.Join(dir, name+"."+FileExtension)
}

// LoadJob reads the named job files from dir, merges them in order,
// expands ${NAME} references through getenv and decodes the result
// strictly into a Job. It does not validate.
func LoadJob(dir string, names []string, getenv func(string) string) (*Job, error) {
	if len(names) == 0 {
		return nil, ErrNoConfig
	}
	var merged *yaml.Node
	for _, name := range names {
		p := Path(dir, name)
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		root, err := parseMapping(b)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", p, err)
		}
		merged = mergeNodes(merged, root)
	}
	if merged == nil {
		merged = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	expandEnv(merged, getenv)

	job, err := decodeJob(merged)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", strings.Join(names, ","), err)
	}
	return job, nil
}

// parseMapping returns the top-level mapping of a YAML document, or nil
// for an empty document.
func parseMapping(b []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must be a mapping, got %s", root.ShortTag())
	}
	return root, nil
}

// mergeNodes merges src into dst. Mappings merge key by key, recursively;
// anything else in src replaces dst.
func mergeNodes(dst, src *yaml.Node) *yaml.Node {
	if src == nil {
		return dst
	}
	if dst == nil || dst.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		return src
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		k, v := src.Content[i], src.Content[i+1]
		if j := mappingIndex(dst, k.Value); j >= 0 {
			dst.Content[j+1] = mergeNodes(dst.Content[j+1], v)
			continue
		}
		dst.Content = append(dst.Content, k, v)
	}
	return dst
}

func mappingIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// expandEnv replaces $NAME and ${NAME} in every scalar containing "${".
// Unset variables expand to "" and $$ is a literal dollar. Plain scalars are re-resolved after
// expansion so "${PORT}" can still decode as a number.
func expandEnv(n *yaml.Node, getenv func(string) string) {
	switch n.Kind {
	case yaml.ScalarNode:
		if !strings.Contains(n.Value, "${") {
			return
		}
		n.Value = os.Expand(n.Value, func(k string) string {
			if k == "$" {
				return "$" // $$ escapes a literal dollar
			}
			return getenv(k)
		})
		if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) == 0 {
			n.Tag = ""
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			expandEnv(n.Content[i], getenv)
		}
	default:
		for _, c := range n.Content {
			expandEnv(c, getenv)
		}
	}
}

// decodeJob decodes n into a Job, rejecting unknown keys. yaml.v3 only
// enforces KnownFields through a Decoder, so n is re-encoded first.
func decodeJob(n *yaml.Node) (*Job, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(n); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(&buf)
	dec.KnownFields(true)
	var job Job
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &job, nil
}
