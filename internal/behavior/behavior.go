// Package behavior loads versioned packs of injected prompt text. Blocks are
// opaque to the engine: they are prepended to planning and execution prompts
// for the turns they are active in and never persisted into history.
package behavior

import (
	"errors"
	"regexp"
)

// Pack is one behavior pack loaded from a YAML manifest.
type Pack struct {
	// Name identifies the pack: lowercase letters, digits and hyphens.
	Name string `yaml:"name"`

	// Version is the pack's semantic version.
	Version string `yaml:"version"`

	// Requires optionally constrains the runtime versions the pack applies
	// to, e.g. ">= 1.2.0". Packs whose constraint excludes the running
	// version are skipped at load time.
	Requires string `yaml:"requires,omitempty"`

	// Priority orders blocks across packs; lower numbers inject first.
	Priority int `yaml:"priority,omitempty"`

	// Blocks are the opaque text blocks this pack contributes.
	Blocks []string `yaml:"blocks"`
}

var (
	// ErrPackInvalid is returned when a pack manifest fails to parse or
	// misses required fields.
	ErrPackInvalid = errors.New("invalid behavior pack")

	// ErrNameInvalid is returned when a pack name doesn't match the
	// required pattern.
	ErrNameInvalid = errors.New("invalid behavior pack name")

	// ErrVersionInvalid is returned when a version or constraint string is
	// not valid semver.
	ErrVersionInvalid = errors.New("invalid behavior pack version")
)

// packNamePattern validates pack names: lowercase letters, numbers, hyphens.
var packNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)
