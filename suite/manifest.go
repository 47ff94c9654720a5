package suite

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/launchdarkly/frame-test-harness/frametest"
)

// Case is one test case in a manifest.
type Case struct {
	Name              string `yaml:"name"`
	QuickFixException bool   `yaml:"quickFixException"`
	// URL is the page loaded into the case's frame. If empty, the suite's URL is used.
	URL string `yaml:"url"`
}

// Suite is a manifest describing a serialized test suite and the cases to run from it. The code
// is either given inline or read from CodeFile, which is relative to the manifest.
type Suite struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Code     string `yaml:"code"`
	CodeFile string `yaml:"codeFile"`
	Cases    []Case `yaml:"cases"`
	// BaseDir is the directory the manifest was loaded from.
	BaseDir string `yaml:"-"`
}

// LoadFile reads and validates a YAML manifest.
func LoadFile(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, err
	}
	s, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a YAML manifest. baseDir is used to find CodeFile.
func Parse(data []byte, baseDir string) (Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Suite{}, fmt.Errorf("invalid suite manifest: %w", err)
	}
	s.BaseDir = baseDir
	if s.CodeFile != "" {
		if s.Code != "" {
			return Suite{}, errors.New("suite has both code and codeFile")
		}
		path := s.CodeFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return Suite{}, fmt.Errorf("could not read suite code: %w", err)
		}
		s.Code = string(code)
	}
	if err := s.validate(); err != nil {
		return Suite{}, err
	}
	return s, nil
}

func (s Suite) validate() error {
	if s.Name == "" {
		return errors.New("suite has no name")
	}
	if s.Code == "" {
		return fmt.Errorf("suite %q has no code", s.Name)
	}
	if len(s.Cases) == 0 {
		return fmt.Errorf("suite %q has no cases", s.Name)
	}
	seen := make(map[string]bool)
	for i, c := range s.Cases {
		if c.Name == "" {
			return fmt.Errorf("case %d of suite %q has no name", i+1, s.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("suite %q has more than one case named %q", s.Name, c.Name)
		}
		seen[c.Name] = true
		if c.URL == "" && s.URL == "" {
			return fmt.Errorf("case %q of suite %q has no url", c.Name, s.Name)
		}
	}
	return nil
}

// LocalPath resolves a frame URL that is a relative file path against the manifest's directory.
// Anything else, including URLs with a scheme, is returned unchanged.
func (s Suite) LocalPath(frameURL string) string {
	if s.BaseDir == "" || frameURL == "" || filepath.IsAbs(frameURL) {
		return frameURL
	}
	if u, err := url.Parse(frameURL); err == nil && u.Scheme != "" {
		return frameURL
	}
	return filepath.Join(s.BaseDir, frameURL)
}

// Request returns the request for running c.
func (s Suite) Request(c Case) frametest.TestCaseRequest {
	frameURL := c.URL
	if frameURL == "" {
		frameURL = s.URL
	}
	return frametest.TestCaseRequest{
		Name:                c.Name,
		Code:                s.Code,
		QuickFixOnException: c.QuickFixException,
		URL:                 frameURL,
	}
}
