// Package catalog provides the meditation script catalog and the ambiance library.
//
// Both are backed by the filesystem and re-read on every call: the script catalog
// is a JSON array of {title, ssml} objects, and the ambiance library is the set of
// MP3 files present in a directory. There is no separate registry for either.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrScriptNotFound indicates that no script matches the requested title.
	ErrScriptNotFound = errors.New("meditation script not found")
	// ErrEmptyCatalog indicates that the catalog file holds no scripts.
	ErrEmptyCatalog = errors.New("no meditations found in catalog")
	// ErrAmbianceNotFound indicates that no ambiance file matches the requested name.
	ErrAmbianceNotFound = errors.New("ambiance not found")
)

// Script is a meditation script: a title and its SSML body.
type Script struct {
	Title string `json:"title"`
	SSML  string `json:"ssml"`
}

// Scripts reads meditation scripts from a JSON file.
type Scripts struct {
	path string
}

// NewScripts creates a script catalog backed by the JSON file at path.
func NewScripts(path string) *Scripts {
	return &Scripts{path: path}
}

// All returns every script in file order.
func (s *Scripts) All() ([]Script, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", s.path, err)
	}

	var scripts []Script
	if err := json.Unmarshal(data, &scripts); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", s.path, err)
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCatalog, s.path)
	}
	return scripts, nil
}

// Titles returns the title of every script in file order.
func (s *Scripts) Titles() ([]string, error) {
	scripts, err := s.All()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(scripts))
	for _, sc := range scripts {
		titles = append(titles, sc.Title)
	}
	return titles, nil
}

// Lookup returns the first script whose title matches case-insensitively.
func (s *Scripts) Lookup(title string) (Script, error) {
	scripts, err := s.All()
	if err != nil {
		return Script{}, err
	}
	for _, sc := range scripts {
		if strings.EqualFold(sc.Title, title) {
			return sc, nil
		}
	}
	return Script{}, fmt.Errorf("%w: %q", ErrScriptNotFound, title)
}

const ambianceExt = ".mp3"

// Ambiances lists ambiance tracks stored as MP3 files in a directory.
type Ambiances struct {
	dir string
}

// NewAmbiances creates an ambiance library rooted at dir.
func NewAmbiances(dir string) *Ambiances {
	return &Ambiances{dir: dir}
}

// List returns the sorted ambiance names (file names without extension).
func (a *Ambiances) List() ([]string, error) {
	files, err := a.files()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Path returns the file backing the named ambiance.
// Only names returned by List resolve; anything else is ErrAmbianceNotFound.
func (a *Ambiances) Path(name string) (string, error) {
	files, err := a.files()
	if err != nil {
		return "", err
	}
	file, ok := files[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrAmbianceNotFound, name)
	}
	return filepath.Join(a.dir, file), nil
}

// files maps ambiance name -> file name for every regular .mp3 file in dir.
func (a *Ambiances) files() (map[string]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("reading ambiances %s: %w", a.dir, err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !strings.EqualFold(ext, ambianceExt) {
			continue
		}
		files[strings.TrimSuffix(e.Name(), ext)] = e.Name()
	}
	return files, nil
}
