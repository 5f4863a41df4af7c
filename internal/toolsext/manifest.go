// Package toolsext discovers scripted external tools from manifest
// files on disk and registers each as a toolregistry.Spec whose handler
// shells out to a configured command — the manifest-driven loading and
// audited-dispatch shape is adapted from the teacher's WASM skill
// loader, with the execution engine swapped from a WASM runtime to
// os/exec, matching the pattern the teacher already uses for its
// LLM/TTS/STT "exec" backends.
package toolsext

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// Manifest describes one external tool package: a name, the command to
// invoke, and the parameter schema the registry validates args against
// before ever shelling out.
type Manifest struct {
	Metadata  Metadata         `yaml:"metadata"`
	Command   string           `yaml:"command"`
	TimeoutMS int              `yaml:"timeout_ms"`
	Params    map[string]Param `yaml:"params,omitempty"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Param mirrors one entry of toolregistry.Schema in a YAML-friendly
// shape; toolsext translates it at load time.
type Param struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate ensures a manifest is complete enough to register.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if m.Command == "" {
		return fmt.Errorf("command is required")
	}
	for name, p := range m.Params {
		switch p.Type {
		case "string", "int", "float", "bool":
		default:
			return fmt.Errorf("param %q: unsupported type %q", name, p.Type)
		}
	}
	return nil
}
