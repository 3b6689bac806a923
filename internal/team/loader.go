package team

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// LoadDefinitions reads every *.md file in dir as a team definition with
// YAML frontmatter. Files that fail to parse or validate are skipped; the
// joined per-file errors are returned alongside the valid definitions so
// one broken file never hides the rest.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	var defs []Definition
	var fileErrs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadDefinition(path)
		if err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, errors.Join(fileErrs...)
}

// LoadDefinition parses a single markdown definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}

	front, body, err := splitFrontmatter(data)
	if err != nil {
		return Definition{}, err
	}

	var def Definition
	if err := yaml.Unmarshal(front, &def); err != nil {
		return Definition{}, fmt.Errorf("parse frontmatter: %w", err)
	}

	// The markdown body is the long-form description unless the
	// frontmatter already set one.
	if def.Description == "" {
		def.Description = strings.TrimSpace(string(body))
	}
	if def.ID == "" {
		def.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	if def.Name == "" {
		def.Name = def.ID
	}

	if info, err := os.Stat(path); err == nil {
		def.CreatedAt = info.ModTime().UTC()
		def.UpdatedAt = info.ModTime().UTC()
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// splitFrontmatter separates the YAML block between the leading "---"
// delimiters from the markdown body.
func splitFrontmatter(data []byte) (front, body []byte, err error) {
	trimmed := bytes.TrimLeft(data, "\n\r\t ")
	if !bytes.HasPrefix(trimmed, []byte(frontmatterDelim)) {
		return nil, nil, errors.New("missing frontmatter delimiter")
	}
	rest := trimmed[len(frontmatterDelim):]
	idx := bytes.Index(rest, []byte("\n"+frontmatterDelim))
	if idx < 0 {
		return nil, nil, errors.New("unterminated frontmatter block")
	}
	front = rest[:idx]
	body = rest[idx+len(frontmatterDelim)+1:]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}
	return front, body, nil
}
