package internal

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const IgnoreFilename = ".memignore"

// ContentIgnore decides which files under a content root are left out of the
// index. It reads .gitignore and then .memignore from the root, so .memignore
// can re-include files with "!pattern".
type ContentIgnore struct {
	root    string
	matcher gitignore.Matcher
}

func NewContentIgnore(root string) (*ContentIgnore, error) {
	var patterns []gitignore.Pattern
	for _, name := range []string{".gitignore", IgnoreFilename} {
		ps, err := readIgnoreFile(filepath.Join(root, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		patterns = append(patterns, ps...)
	}

	return &ContentIgnore{
		root:    root,
		matcher: gitignore.NewMatcher(patterns),
	}, nil
}

// Ignored reports whether path is excluded. Paths outside the root never are.
func (c *ContentIgnore) Ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(c.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return c.matcher.Match(strings.Split(rel, string(filepath.Separator)), isDir)
}

func readIgnoreFile(path string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	return patterns, scanner.Err()
}
