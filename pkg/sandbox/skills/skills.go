// Package skills reads the metadata of skill directories seeded into sandboxes.
//
// A skill is a directory holding a SKILL.md file that starts with a YAML
// frontmatter block:
//
//	---
//	name: web-research
//	description: Search the web and summarise findings.
//	---
package skills

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// FileName is the file that marks a directory as a skill.
const FileName = "SKILL.md"

var delimiter = []byte("---")

// Metadata describes one skill.
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	// Path is the location of the SKILL.md file.
	Path string `yaml:"-" json:"path"`
}

// List returns the skills found in the direct subdirectories of dir, sorted by
// directory name. Directories without a SKILL.md, files larger than maxSize
// and files without a valid frontmatter are skipped. A missing dir yields no
// skills.
func List(dir string, maxSize int64) ([]Metadata, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name(), FileName)
		md, ok := Load(p, maxSize)
		if !ok {
			continue
		}
		out = append(out, md)
	}
	return out, nil
}

// Load parses the SKILL.md file at p. ok is false when the file cannot be
// read, is larger than maxSize, or lacks a name or description.
func Load(p string, maxSize int64) (md Metadata, ok bool) {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return Metadata{}, false
	}
	if maxSize > 0 && info.Size() > maxSize {
		return Metadata{}, false
	}
	content, err := os.ReadFile(p)
	if err != nil {
		return Metadata{}, false
	}

	md, err = Parse(content)
	if err != nil {
		return Metadata{}, false
	}
	md.Path = p
	return md, true
}

// Parse extracts the metadata from the frontmatter of a SKILL.md document.
func Parse(content []byte) (Metadata, error) {
	front, err := frontmatter(content)
	if err != nil {
		return Metadata{}, err
	}

	var md Metadata
	if err := yaml.Unmarshal(front, &md); err != nil {
		return Metadata{}, err
	}
	if md.Name == "" || md.Description == "" {
		return Metadata{}, errors.New("frontmatter requires name and description")
	}
	return md, nil
}

func frontmatter(content []byte) ([]byte, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	first, rest, found := bytes.Cut(content, []byte("\n"))
	if !found || !bytes.Equal(bytes.TrimSpace(first), delimiter) {
		return nil, errors.New("missing frontmatter")
	}

	var block [][]byte
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte("\n"))
		if bytes.Equal(bytes.TrimSpace(line), delimiter) {
			return bytes.Join(block, []byte("\n")), nil
		}
		block = append(block, line)
	}
	return nil, errors.New("unterminated frontmatter")
}
