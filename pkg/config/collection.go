package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/getstubd/stubd/pkg/interaction"
)

// Common errors for collection loading and saving.
var (
	ErrFileNotFound     = errors.New("collection file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("collection file is empty")
)

// CollectionKind is the accepted value of the kind field.
const CollectionKind = "InteractionCollection"

// Collection is a set of interactions loaded from a single file. A
// file may also hold a bare array of interactions, which decodes into
// the Interactions field directly.
type Collection struct {
	// Version is the file format version, defaulted to "1.0".
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Kind identifies the file type; when set it must be
	// "InteractionCollection".
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Metadata describes the collection.
	Metadata *Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Interactions are the stubs and contracts to register.
	Interactions []*interaction.Interaction `json:"interactions" yaml:"interactions"`

	// Settings optionally embeds server settings.
	Settings *Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Metadata labels a collection.
type Metadata struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// UnmarshalYAML accepts both the full collection document and a bare
// interaction array.
func (c *Collection) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var ins []*interaction.Interaction
		if err := node.Decode(&ins); err != nil {
			return err
		}
		c.Interactions = ins
		return nil
	}
	type collectionAlias Collection
	return node.Decode((*collectionAlias)(c))
}

// Validate normalizes and validates every interaction, rejecting
// duplicate IDs within the collection.
func (c *Collection) Validate() error {
	if c.Kind != "" && c.Kind != CollectionKind {
		return fmt.Errorf("unsupported kind %q, want %q", c.Kind, CollectionKind)
	}
	seen := make(map[string]int)
	for i, in := range c.Interactions {
		if in == nil {
			return fmt.Errorf("interactions[%d]: empty entry", i)
		}
		if err := in.Normalize(); err != nil {
			return fmt.Errorf("interactions[%d]: %w", i, err)
		}
		if err := in.Validate(); err != nil {
			return fmt.Errorf("interactions[%d]: %w", i, err)
		}
		if in.ID != "" {
			if prev, dup := seen[in.ID]; dup {
				return fmt.Errorf("interactions[%d]: duplicate id %q, first used by interactions[%d]", i, in.ID, prev)
			}
			seen[in.ID] = i
		}
	}
	if c.Settings != nil {
		if err := c.Settings.Validate(); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	return nil
}

// LoadFromFile reads a collection from a JSON or YAML file, detected by
// extension (.yaml and .yml are YAML, everything else JSON).
// Environment references of the form ${VAR} or ${VAR:-default} are
// expanded before parsing.
func LoadFromFile(path string) (*Collection, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	data = []byte(ExpandEnvVars(string(data)))

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

// LoadFromGlob loads and merges every collection matching the pattern.
// Patterns containing ** match recursively. Files merge in sorted path
// order; the first embedded settings block wins.
func LoadFromGlob(pattern string) (*Collection, error) {
	matches, err := expandGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expanding glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	merged := &Collection{Version: "1.0"}
	for _, match := range matches {
		col, err := LoadFromFile(match)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", match, err)
		}
		merged.Interactions = append(merged.Interactions, col.Interactions...)
		if merged.Settings == nil && col.Settings != nil {
			merged.Settings = col.Settings
		}
	}
	return merged, nil
}

func expandGlob(pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return doublestar.FilepathGlob(pattern)
	}
	return filepath.Glob(pattern)
}

// ParseJSON parses and validates a collection from JSON. A top-level
// array is treated as a bare interaction list.
func ParseJSON(data []byte) (*Collection, error) {
	var col Collection
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &col.Interactions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	} else if err := json.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if col.Version == "" {
		col.Version = "1.0"
	}
	if err := col.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &col, nil
}

// ParseYAML parses and validates a collection from YAML.
func ParseYAML(data []byte) (*Collection, error) {
	var col Collection
	if err := yaml.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if col.Version == "" {
		col.Version = "1.0"
	}
	if err := col.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &col, nil
}

// SaveToFile writes the collection using an atomic rename. The format
// follows the file extension.
func SaveToFile(path string, col *Collection) error {
	if col == nil {
		return errors.New("collection cannot be nil")
	}

	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		data, err = yaml.Marshal(col)
	} else {
		data, err = json.MarshalIndent(col, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	}
	if err != nil {
		return fmt.Errorf("encoding collection: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temporary file: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvVars substitutes ${VAR} and ${VAR:-default} references with
// environment values. Unset variables without a default expand to the
// empty string.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val := os.Getenv(submatch[1]); val != "" {
			return val
		}
		if len(submatch) >= 3 {
			return submatch[2]
		}
		return ""
	})
}
