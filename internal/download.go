package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
)

// ModelFile describes a GGUF embedding model that `mem models pull` can fetch.
type ModelFile struct {
	URL      string
	Filename string
	Size     int64
}

var (
	NomicModel = ModelFile{
		URL:      "https://huggingface.co/nomic-ai/nomic-embed-text-v1.5-GGUF/resolve/main/nomic-embed-text-v1.5.Q4_K_M.gguf",
		Filename: "nomic-embed-text-v1.5.Q4_K_M.gguf",
		Size:     85 * 1024 * 1024,
	}
	MxbaiModel = ModelFile{
		URL:      "https://huggingface.co/mixedbread-ai/mxbai-embed-large-v1/resolve/main/gguf/mxbai-embed-large-v1-f16.gguf",
		Filename: "mxbai-embed-large-v1-f16.gguf",
		Size:     670 * 1024 * 1024,
	}
)

// KnownModels maps model filenames referenced by configs to their download location.
var KnownModels = map[string]ModelFile{
	NomicModel.Filename: NomicModel,
	MxbaiModel.Filename: MxbaiModel,
}

// RequiredModels lists the model files the llama-backed kinds need, without duplicates.
func RequiredModels(models map[Kind]ModelConfig) ([]ModelFile, error) {
	seen := make(map[string]bool)
	var out []ModelFile
	for _, kind := range Kinds() {
		mc, ok := models[kind]
		if !ok || mc.Backend != BackendLlama || seen[mc.Model] {
			continue
		}
		mf, ok := KnownModels[mc.Model]
		if !ok {
			return nil, fmt.Errorf("%w: no download location known for %s model %q", ErrConfig, kind, mc.Model)
		}
		seen[mc.Model] = true
		out = append(out, mf)
	}
	return out, nil
}

// StatusError is a non-200 answer from the model host.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, http.StatusText(e.Code))
}

// retryable reports whether asking again may help.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type progressCounter struct {
	total      int64
	written    int64
	onProgress func(written, total int64)
}

func (pc *progressCounter) Write(p []byte) (int, error) {
	pc.written += int64(len(p))
	if pc.onProgress != nil {
		pc.onProgress(pc.written, pc.total)
	}
	return len(p), nil
}

// Downloader fetches model files into a directory. Transient failures (network
// errors, 429, 5xx, truncated bodies) are retried with backoff.
type Downloader struct {
	modelDir string
	token    string
	client   *http.Client
	retry    RetryPolicy
}

type DownloaderOption func(*Downloader)

func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = c }
}

func WithDownloadRetry(p RetryPolicy) DownloaderOption {
	return func(d *Downloader) { d.retry = p }
}

func NewDownloader(modelDir, token string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		modelDir: modelDir,
		token:    token,
		client:   http.DefaultClient,
		retry:    DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// EnsureModel downloads mf into the model directory unless it is already present.
func (d *Downloader) EnsureModel(ctx context.Context, mf ModelFile, onProgress func(written, total int64)) (string, error) {
	dest := filepath.Join(d.modelDir, mf.Filename)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	if err := os.MkdirAll(d.modelDir, 0755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	op := func() error {
		err := d.fetch(ctx, mf.URL, dest, onProgress)
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, d.retry.backoff(ctx)); err != nil {
		return "", err
	}

	return dest, nil
}

// fetch streams url into dest via a sibling temp file, so a failed or cancelled
// pull never leaves a torn model at dest.
func (d *Downloader) fetch(ctx context.Context, url, dest string, onProgress func(written, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	pc := &progressCounter{total: resp.ContentLength, onProgress: onProgress}
	_, copyErr := io.Copy(tmp, io.TeeReader(resp.Body, pc))
	if err := tmp.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", dest, copyErr)
	}
	if resp.ContentLength > 0 && pc.written != resp.ContentLength {
		return fmt.Errorf("fetch %s: truncated after %d of %d bytes", url, pc.written, resp.ContentLength)
	}

	return os.Rename(tmp.Name(), dest)
}

func DefaultCacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "mem", "models"), nil
}
