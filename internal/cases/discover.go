// Package cases enumerates test case files for a run.
package cases

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Case is one discovered test case. Immutable after discovery.
type Case struct {
	Index   int
	RelPath string
	Name    string // file stem, used as the remote run name
	Content string
}

// Empty reports whether the case has no executable content. Empty cases stay
// in the sequence and are skipped by the engine without any remote call.
func (c Case) Empty() bool {
	return strings.TrimSpace(c.Content) == ""
}

// DiscoveryError indicates the case root could not be enumerated. It is fatal:
// the run aborts before any dispatch.
type DiscoveryError struct {
	Dir string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover cases in %s: %v", e.Dir, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

var caseExtensions = map[string]bool{
	".md":   true,
	".case": true,
}

// Discover walks root for *.md and *.case files and returns them in a
// deterministic order (lexicographic by relative path). Hidden entries and
// files whose stem is "template" are excluded. filter is a comma-separated
// keyword list; when non-empty, a case is kept only if its relative path
// contains at least one keyword (substring match, case-sensitive).
func Discover(root, filter string) ([]Case, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &DiscoveryError{Dir: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Dir: root, Err: fmt.Errorf("not a directory")}
	}

	keywords := splitFilter(filter)

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		ext := filepath.Ext(name)
		if !caseExtensions[ext] {
			return nil
		}
		if strings.EqualFold(strings.TrimSuffix(name, ext), "template") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if len(keywords) > 0 && !matchesAny(rel, keywords) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, &DiscoveryError{Dir: root, Err: err}
	}

	sort.Strings(paths)

	out := make([]Case, 0, len(paths))
	for i, rel := range paths {
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return nil, &DiscoveryError{Dir: root, Err: err}
		}
		base := filepath.Base(rel)
		out = append(out, Case{
			Index:   i,
			RelPath: rel,
			Name:    strings.TrimSuffix(base, filepath.Ext(base)),
			Content: string(content),
		})
	}
	return out, nil
}

func splitFilter(filter string) []string {
	var out []string
	for _, tok := range strings.Split(filter, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func matchesAny(rel string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(rel, kw) {
			return true
		}
	}
	return false
}

// OrderIndex maps case ids to their discovery order, for snapshot sorting.
func OrderIndex(list []Case) map[string]int {
	m := make(map[string]int, len(list))
	for _, c := range list {
		m[c.RelPath] = c.Index
	}
	return m
}
