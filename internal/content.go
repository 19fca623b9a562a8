package internal

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// MaxContentSize is the largest content handed to a backend. Larger content is
// rejected rather than embedded in part.
const MaxContentSize = 32 << 20

var ErrContentTooLarge = fmt.Errorf("%w: content too large", ErrEmbedding)

var _ ContentReader = (*FSContentReader)(nil)

// FSContentReader resolves content refs as paths inside a billy filesystem.
type FSContentReader struct {
	fs    billy.Filesystem
	limit int64
}

func NewFSContentReader(fs billy.Filesystem) *FSContentReader {
	return &FSContentReader{fs: fs, limit: MaxContentSize}
}

// NewOSContentReader reads refs as paths relative to root on the local disk.
func NewOSContentReader(root string) *FSContentReader {
	return NewFSContentReader(osfs.New(root))
}

func (r *FSContentReader) Read(ctx context.Context, ref ContentRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, fmt.Errorf("empty content ref")
	}

	f, err := r.fs.Open(string(ref))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, r.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(data)) > r.limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrContentTooLarge, ref, r.limit)
	}

	return data, nil
}

var codeExtensions = map[string]string{
	".go": "go", ".py": "python", ".rs": "rust", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".c": "c", ".h": "c", ".cpp": "cpp", ".rb": "ruby", ".sh": "shell",
	".kt": "kotlin", ".swift": "swift", ".cs": "csharp", ".php": "php", ".lua": "lua",
}

var documentExtensions = map[string]string{
	".md": "text/markdown", ".txt": "text/plain", ".rst": "text/x-rst", ".org": "text/org",
	".html": "text/html", ".tex": "text/x-tex",
}

var imageExtensions = map[string]string{
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".gif": "image/gif",
}

// ClassifyPath guesses the kind of a file from its extension. Anything unrecognized is generic.
func ClassifyPath(path string) (kind Kind, language, mimeType string) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := codeExtensions[ext]; ok {
		return KindCode, lang, "text/x-" + lang
	}
	if mt, ok := documentExtensions[ext]; ok {
		return KindDocument, "", mt
	}
	if mt, ok := imageExtensions[ext]; ok {
		return KindImage, "", mt
	}
	return KindGeneric, "", "application/octet-stream"
}
