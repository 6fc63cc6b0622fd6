package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// scriptManifest is the YAML layout of one script tool on disk.
type scriptManifest struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Parameters   map[string]any `yaml:"parameters"`
	OutputFields []string       `yaml:"output_fields,omitempty"`
	Script       string         `yaml:"script"`
	Timeout      string         `yaml:"timeout,omitempty"`
}

// LoadScriptDir reads every *.yaml / *.yml manifest under dir and returns
// the script tools they define. A missing directory yields no tools; a
// broken manifest fails the load, because silently dropping a tool would
// change which goals are executable.
func LoadScriptDir(dir string) ([]*ScriptTool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read script tool dir: %w", err)
	}

	var out []*ScriptTool
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
		default:
			continue
		}
		path := filepath.Join(dir, entry.Name())
		tool, err := loadScriptManifest(path)
		if err != nil {
			return nil, err
		}
		out = append(out, tool)
	}
	return out, nil
}

func loadScriptManifest(path string) (*ScriptTool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script tool %s: %w", path, err)
	}
	var m scriptManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse script tool %s: %w", path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("script tool %s: missing required field 'name'", path)
	}
	if strings.TrimSpace(m.Script) == "" {
		return nil, fmt.Errorf("script tool %s: missing required field 'script'", path)
	}

	var timeout time.Duration
	if m.Timeout != "" {
		timeout, err = time.ParseDuration(m.Timeout)
		if err != nil {
			return nil, fmt.Errorf("script tool %s: bad timeout %q", path, m.Timeout)
		}
	}
	return NewScriptTool(ScriptToolConfig{
		Name:         m.Name,
		Description:  m.Description,
		Parameters:   m.Parameters,
		OutputFields: m.OutputFields,
		Script:       m.Script,
		Timeout:      timeout,
	}), nil
}
