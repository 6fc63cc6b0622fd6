package behavior

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader parses pack manifests and gates them against the runtime version.
type Loader struct {
	runtime *semver.Version
	log     zerolog.Logger
}

// NewLoader creates a Loader gating packs against runtimeVersion.
func NewLoader(runtimeVersion string, log zerolog.Logger) (*Loader, error) {
	v, err := semver.NewVersion(runtimeVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: runtime version %q: %v", ErrVersionInvalid, runtimeVersion, err)
	}
	return &Loader{
		runtime: v,
		log:     log.With().Str("component", "behavior").Logger(),
	}, nil
}

// ParsePack parses and validates one manifest.
func ParsePack(data []byte) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackInvalid, err)
	}
	if pack.Name == "" {
		return nil, fmt.Errorf("%w: missing required field 'name'", ErrPackInvalid)
	}
	if !packNamePattern.MatchString(pack.Name) {
		return nil, fmt.Errorf("%w: %q", ErrNameInvalid, pack.Name)
	}
	if pack.Version == "" {
		return nil, fmt.Errorf("%w: missing required field 'version'", ErrPackInvalid)
	}
	if _, err := semver.NewVersion(pack.Version); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrVersionInvalid, pack.Version)
	}
	if pack.Requires != "" {
		if _, err := semver.NewConstraint(pack.Requires); err != nil {
			return nil, fmt.Errorf("%w: constraint %q", ErrVersionInvalid, pack.Requires)
		}
	}
	if len(pack.Blocks) == 0 {
		return nil, fmt.Errorf("%w: no blocks", ErrPackInvalid)
	}
	return &pack, nil
}

// LoadDir loads every *.yaml / *.yml manifest under dir. Manifests that fail
// to parse are logged and skipped so one broken pack cannot take the rest
// down; packs gated out by their runtime constraint are skipped silently.
// The result is ordered by priority, then name.
func (l *Loader) LoadDir(dir string) ([]Pack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read behavior dir: %w", err)
	}

	var packs []Pack
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("failed to read behavior pack")
			continue
		}
		pack, err := ParsePack(data)
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("skipping invalid behavior pack")
			continue
		}
		if !l.applies(pack) {
			l.log.Debug().
				Str("pack", pack.Name).
				Str("requires", pack.Requires).
				Str("runtime", l.runtime.String()).
				Msg("behavior pack gated out by runtime constraint")
			continue
		}
		packs = append(packs, *pack)
	}

	sort.SliceStable(packs, func(i, j int) bool {
		if packs[i].Priority != packs[j].Priority {
			return packs[i].Priority < packs[j].Priority
		}
		return packs[i].Name < packs[j].Name
	})
	return packs, nil
}

// applies reports whether the pack's runtime constraint admits the running
// version. Packs without a constraint always apply.
func (l *Loader) applies(pack *Pack) bool {
	if pack.Requires == "" {
		return true
	}
	c, err := semver.NewConstraint(pack.Requires)
	if err != nil {
		return false
	}
	return c.Check(l.runtime)
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
