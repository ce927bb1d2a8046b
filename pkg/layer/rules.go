package layer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultMetadata replaces the contents of every top-level dist-info METADATA file.
const DefaultMetadata = "Name: optimized\nVersion: 1.0.0\n"

// Rules describes what the optimizer removes.
//
// The library pass runs first and works inside named package directories.
// The general pass runs over the whole tree.
type Rules struct {
	// Label names the library pass in progress output
	// ("Optimizing <label> library...").
	Label string `yaml:"label"`

	// Libraries lists per-package cleanups, applied in order.
	Libraries []LibraryRule `yaml:"libraries"`

	// General holds the tree-wide cleanups.
	General GeneralRules `yaml:"general"`
}

// LibraryRule cleans one top-level package directory.
type LibraryRule struct {
	// Name is the package directory name under the packages root (e.g. "urllib3").
	Name string `yaml:"name"`

	// RemoveDirs are subdirectories of the package removed recursively
	// (e.g. "contrib").
	RemoveDirs []string `yaml:"remove_dirs"`

	// RemoveFiles are doublestar patterns, relative to the package directory,
	// selecting regular files to delete (e.g. "**/*.pyi").
	RemoveFiles []string `yaml:"remove_files"`
}

// GeneralRules are applied across the whole packages tree.
type GeneralRules struct {
	// DistInfo is the pattern selecting top-level metadata directories.
	DistInfo string `yaml:"dist_info"`

	// Metadata is written over <dist-info>/METADATA when that file exists.
	// Empty leaves METADATA untouched.
	Metadata string `yaml:"metadata"`

	// RemoveFiles are base-name patterns; matching regular files are deleted
	// wherever they appear.
	RemoveFiles []string `yaml:"remove_files"`

	// RemoveDirs are base-name patterns; matching directories are removed
	// recursively wherever they appear.
	RemoveDirs []string `yaml:"remove_dirs"`
}

// DefaultRules returns the built-in rules for a Python requests layer.
func DefaultRules() Rules {
	return Rules{
		Label: "requests",
		Libraries: []LibraryRule{
			{Name: "urllib3", RemoveDirs: []string{"contrib"}},
			{Name: "requests", RemoveFiles: []string{"**/*.pyi", "**/py.typed"}},
		},
		General: GeneralRules{
			DistInfo:    "*.dist-info",
			Metadata:    DefaultMetadata,
			RemoveFiles: []string{"LICENSE*", "NOTICE*"},
			RemoveDirs:  []string{"examples"},
		},
	}
}

// ErrInvalidRules is returned when a rules file fails validation.
var ErrInvalidRules = errors.New("invalid layer rules")

// Validate checks names and patterns.
func (r Rules) Validate() error {
	for i, lib := range r.Libraries {
		if err := validateName(lib.Name); err != nil {
			return fmt.Errorf("%w: libraries[%d].name: %v", ErrInvalidRules, i, err)
		}
		for _, d := range lib.RemoveDirs {
			if err := validateRelative(d); err != nil {
				return fmt.Errorf("%w: libraries[%d].remove_dirs %q: %v", ErrInvalidRules, i, d, err)
			}
		}
		for _, p := range lib.RemoveFiles {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("%w: libraries[%d].remove_files: bad pattern %q", ErrInvalidRules, i, p)
			}
		}
	}

	if r.General.DistInfo != "" && !doublestar.ValidatePattern(r.General.DistInfo) {
		return fmt.Errorf("%w: general.dist_info: bad pattern %q", ErrInvalidRules, r.General.DistInfo)
	}
	for _, p := range append(append([]string{}, r.General.RemoveFiles...), r.General.RemoveDirs...) {
		if strings.Contains(p, "/") {
			return fmt.Errorf("%w: general pattern %q must match a base name", ErrInvalidRules, p)
		}
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: general: bad pattern %q", ErrInvalidRules, p)
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.New("must be a single directory name")
	}
	return nil
}

func validateRelative(p string) error {
	if p == "" {
		return errors.New("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return errors.New("must be relative")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return errors.New("must not leave the package directory")
		}
	}
	return nil
}

// LoadRules reads and validates a YAML rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Rules{}, fmt.Errorf("rules file not found: %s", path)
		}
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules. Unknown fields are rejected.
func ParseRules(data []byte) (Rules, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Rules{}, fmt.Errorf("%w: rules file is empty", ErrInvalidRules)
	}

	var rules Rules
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if rules.Label == "" {
		rules.Label = "custom"
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}
