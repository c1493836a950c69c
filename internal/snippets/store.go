// Package snippets stores reusable shell commands that can be sent to any
// open terminal session from the snippets tab.
package snippets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calebmh/termdock/internal/appconfig"
)

// Snippet is one named command. Command is sent to the session verbatim;
// AutoRun appends a newline so the shell executes it immediately.
type Snippet struct {
	Name    string `yaml:"name" json:"name"`
	Command string `yaml:"command" json:"command"`
	AutoRun bool   `yaml:"auto_run,omitempty" json:"auto_run,omitempty"`
}

type fileModel struct {
	Snippets map[string]Snippet `yaml:"snippets"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "snippets.yaml"), nil
}

// LoadAll returns all snippets sorted by name.
func LoadAll() ([]Snippet, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Snippet, 0, len(fm.Snippets))
	for _, s := range fm.Snippets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one snippet by name.
func Get(name string) (Snippet, error) {
	fm, err := loadFile()
	if err != nil {
		return Snippet{}, err
	}
	s, ok := fm.Snippets[name]
	if !ok {
		return Snippet{}, fmt.Errorf("snippet not found: %s", name)
	}
	return s, nil
}

// Save adds or replaces a snippet.
func Save(s Snippet) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return fmt.Errorf("snippet name cannot be empty")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("snippet command cannot be empty")
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Snippets[s.Name] = s
	return saveFile(fm)
}

// Delete removes a snippet by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Snippets[name]; !ok {
		return fmt.Errorf("snippet not found: %s", name)
	}
	delete(fm.Snippets, name)
	return saveFile(fm)
}

// Payload returns the bytes to write into a terminal for the snippet.
func (s Snippet) Payload() []byte {
	if s.AutoRun {
		return []byte(s.Command + "\n")
	}
	return []byte(s.Command)
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Snippets: map[string]Snippet{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse snippets: %w", err)
	}
	if fm.Snippets == nil {
		fm.Snippets = map[string]Snippet{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
