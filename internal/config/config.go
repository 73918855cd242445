// Package config loads the engine's sources configuration with
// deterministic layering: a base document, an optional per-environment
// overlay, and environment-variable overrides, merged in that order.
//
// Conventions:
//
//	sources.config.json|yaml          base document
//	sources.<env>.config.json|yaml    optional overlay (later layer wins)
//	DELTAFEED__SOURCES__<id>__...     env overrides, "__" as path delimiter
//
// YAML files decode through gopkg.in/yaml.v3, are converted to
// JSON-compatible values, and then follow the same encoding/json decode
// path as JSON files, so both encodings load to the same configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deltafeed/engine/internal/model"
	pkgerrors "github.com/deltafeed/engine/pkg/errors"
)

const (
	// EnvPrefix is the prefix every override variable must carry.
	EnvPrefix = "DELTAFEED__"
	// PathDelimiter separates path segments inside an override name.
	PathDelimiter = "__"

	maxFileBytes  = 2 << 20 // 2 MiB
	maxMergeDepth = 16
	maxEnvVars    = 256
)

var (
	ErrNotFound  = errors.New("config: sources config not found")
	ErrTooLarge  = errors.New("config: file too large")
	ErrNotObject = errors.New("config: top-level must be an object")

	reSourceID = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// File is the decoded sources.config document.
type File struct {
	Sources map[string]model.SourceConfig `json:"sources"`

	// Order preserves the declaration order of source ids in the base
	// document, which drives processing order in the cycle.
	Order []string `json:"-"`
}

// Load reads, layers, and validates the sources config rooted at dir.
// env selects the optional overlay layer; "" skips it.
func Load(dir, env string) (File, error) {
	base, order, err := readLayer(dir, "sources.config")
	if err != nil {
		return File{}, err
	}
	if env != "" {
		overlay, _, err := readLayer(dir, "sources."+env+".config")
		if err != nil && !errors.Is(err, ErrNotFound) {
			return File{}, err
		}
		if err == nil {
			base = mergeObjects(base, overlay, 0)
		}
	}
	base = applyEnvOverrides(base, os.Environ())

	f, err := decodeFile(base)
	if err != nil {
		return File{}, err
	}
	f.Order = orderFor(f.Sources, order)
	if err := validate(f); err != nil {
		return File{}, err
	}
	return f, nil
}

// readLayer reads <dir>/<stem>.json, falling back to .yaml then .yml.
func readLayer(dir, stem string) (map[string]any, []string, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(dir, stem+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() > maxFileBytes {
			return nil, nil, fmt.Errorf("%w: %s", ErrTooLarge, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		doc, err := decodeDocument(raw, ext)
		if err != nil {
			return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		return doc, declarationOrder(raw, ext), nil
	}
	return nil, nil, fmt.Errorf("%w: %s/%s.{json,yaml,yml}", ErrNotFound, dir, stem)
}

func decodeDocument(raw []byte, ext string) (map[string]any, error) {
	var doc any
	if ext == ".json" {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		doc = yamlToJSON(doc)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// yamlToJSON rewrites yaml.v3's map[string]any/[]any decode output into
// pure JSON-compatible values (yaml.v3 with an `any` target already keys
// maps by string; this pass guards nested non-string keys defensively).
func yamlToJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = yamlToJSON(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = yamlToJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = yamlToJSON(val)
		}
		return out
	default:
		return t
	}
}

// declarationOrder extracts the order source ids appear in the raw base
// document. JSON object order is not visible after unmarshal, so it is
// recovered with a token scan; YAML keeps order in the node tree.
func declarationOrder(raw []byte, ext string) []string {
	if ext != ".json" {
		var root yaml.Node
		if err := yaml.Unmarshal(raw, &root); err != nil || len(root.Content) == 0 {
			return nil
		}
		return yamlSourceOrder(root.Content[0])
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	return objectKeysInOrder(top["sources"])
}

// objectKeysInOrder returns the keys of a raw JSON object in the order
// they appear in the document.
func objectKeysInOrder(raw []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := kt.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return keys
		}
	}
	return keys
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	for dec.More() {
		if d == '{' {
			if _, err := dec.Token(); err != nil {
				return err
			}
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func yamlSourceOrder(doc *yaml.Node) []string {
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "sources" {
			continue
		}
		sources := doc.Content[i+1]
		if sources.Kind != yaml.MappingNode {
			return nil
		}
		order := make([]string, 0, len(sources.Content)/2)
		for j := 0; j+1 < len(sources.Content); j += 2 {
			order = append(order, sources.Content[j].Value)
		}
		return order
	}
	return nil
}

// mergeObjects deep-merges overlay onto base: object values merge
// recursively up to maxMergeDepth, everything else is replaced.
func mergeObjects(base, overlay map[string]any, depth int) map[string]any {
	if depth >= maxMergeDepth {
		return overlay
	}
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		bm, bok := out[k].(map[string]any)
		om, ook := ov.(map[string]any)
		if bok && ook {
			out[k] = mergeObjects(bm, om, depth+1)
			continue
		}
		out[k] = ov
	}
	return out
}

// applyEnvOverrides folds DELTAFEED__A__B__C=value variables into doc at
// path a.b.c (segments are lowercased). Values parse as JSON when
// possible, else as strings. Variables are applied in sorted name order
// so the result never depends on environment iteration order.
func applyEnvOverrides(doc map[string]any, environ []string) map[string]any {
	names := make([]string, 0)
	values := make(map[string]string)
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			continue
		}
		name, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		names = append(names, name)
		values[name] = val
		if len(names) >= maxEnvVars {
			break
		}
	}
	sort.Strings(names)

	for _, name := range names {
		segs := strings.Split(strings.TrimPrefix(name, EnvPrefix), PathDelimiter)
		ok := true
		for i, s := range segs {
			segs[i] = strings.ToLower(strings.TrimSpace(s))
			if segs[i] == "" || len(segs) > maxMergeDepth {
				ok = false
				break
			}
		}
		if !ok || len(segs) == 0 {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(values[name]), &parsed); err != nil {
			parsed = values[name]
		}
		doc = insertPath(doc, segs, parsed)
	}
	return doc
}

func insertPath(doc map[string]any, segs []string, val any) map[string]any {
	if len(segs) == 1 {
		doc[segs[0]] = val
		return doc
	}
	child, ok := doc[segs[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
	}
	doc[segs[0]] = insertPath(child, segs[1:], val)
	return doc
}

func decodeFile(doc map[string]any) (File, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return File{}, fmt.Errorf("config: re-encode merged document: %w", err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, pkgerrors.New(pkgerrors.ConfigInvalid, err.Error(), nil).AsError()
	}
	if f.Sources == nil {
		f.Sources = map[string]model.SourceConfig{}
	}
	return f, nil
}

// orderFor reconciles the recovered declaration order with the merged
// source set: declared sources first in declaration order, then any
// overlay/env-only additions sorted by name.
func orderFor(sources map[string]model.SourceConfig, declared []string) []string {
	seen := make(map[string]bool, len(declared))
	order := make([]string, 0, len(sources))
	for _, name := range declared {
		if _, ok := sources[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0)
	for name := range sources {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// validate rejects structurally unusable documents. Per-source problems
// (unknown adapter tag, missing paths.latest) are deliberately NOT
// rejected here: they are fatal to that source only, and the cycle
// surfaces them as status=error while the rest of the fleet proceeds.
func validate(f File) error {
	for name := range f.Sources {
		if !reSourceID.MatchString(name) {
			return pkgerrors.New(pkgerrors.ConfigInvalid, "invalid source id: "+name, nil).AsError()
		}
	}
	return nil
}

// SourceError reports the per-source configuration error for an enabled
// source, or nil when the source is usable.
func SourceError(name string, sc model.SourceConfig) error {
	if !sc.Enabled {
		return nil
	}
	if strings.TrimSpace(sc.Adapter) == "" {
		return pkgerrors.New(pkgerrors.ConfigMissingAdapter, "source "+name+" has no adapter", nil).AsError()
	}
	if strings.TrimSpace(sc.Paths.Latest) == "" {
		return pkgerrors.New(pkgerrors.ConfigMissingPath, "enabled source "+name+" has no paths.latest", nil).AsError()
	}
	return nil
}
