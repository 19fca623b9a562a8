package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// RetryPolicy bounds the exponential backoff applied to backend initialization.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetries:      4,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// ModelRegistry maps kinds to lazily loaded, process-shared backends.
type ModelRegistry struct {
	inference InferenceConfig
	models    map[Kind]ModelConfig
	factories map[string]BackendFactory
	remote    RemoteSupplier
	retry     RetryPolicy
	logger    *log.Logger

	mu     sync.RWMutex
	loaded map[Kind]Backend
	closed bool
	group  singleflight.Group
}

type RegistryOption func(*ModelRegistry)

func WithRemoteSupplier(s RemoteSupplier) RegistryOption {
	return func(r *ModelRegistry) { r.remote = s }
}

func WithBackendFactory(name string, f BackendFactory) RegistryOption {
	return func(r *ModelRegistry) { r.factories[name] = f }
}

func WithRetryPolicy(p RetryPolicy) RegistryOption {
	return func(r *ModelRegistry) { r.retry = p }
}

func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(r *ModelRegistry) { r.logger = l }
}

func NewModelRegistry(inference InferenceConfig, models map[Kind]ModelConfig, opts ...RegistryOption) *ModelRegistry {
	r := &ModelRegistry{
		inference: inference,
		models:    models,
		factories: map[string]BackendFactory{
			BackendLlama: newLlamaBackend,
			BackendPixel: newPixelBackend,
			BackendHash:  newHashBackend,
		},
		retry:  DefaultRetryPolicy(),
		logger: discardLogger(),
		loaded: make(map[Kind]Backend),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the shared backend for kind, loading it on first use.
func (r *ModelRegistry) Resolve(ctx context.Context, kind Kind) (Backend, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	r.mu.RLock()
	b, ok := r.loaded[kind]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return b, nil
	}
	if closed {
		return nil, fmt.Errorf("%w: registry closed", ErrConfig)
	}

	// The load outlives any single caller; each waiter gives up on its own ctx.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(kind.String(), func() (any, error) {
		r.mu.RLock()
		b, ok := r.loaded[kind]
		r.mu.RUnlock()
		if ok {
			return b, nil
		}

		b, err := r.load(loadCtx, kind)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = b.Close()
			return nil, fmt.Errorf("%w: registry closed", ErrConfig)
		}
		r.loaded[kind] = b
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Backend), nil
	}
}

// Namespace resolves kind and reports the namespace its vectors live in.
func (r *ModelRegistry) Namespace(ctx context.Context, kind Kind) (Namespace, error) {
	b, err := r.Resolve(ctx, kind)
	if err != nil {
		return Namespace{}, err
	}
	return NewNamespace(kind, b.Version()), nil
}

// Version reports the model version kind embeds with without loading anything.
// Loaded backends answer for themselves; otherwise it is derived from the config,
// asking the remote supplier when the kind is routed there.
func (r *ModelRegistry) Version(kind Kind) (string, error) {
	r.mu.RLock()
	b, ok := r.loaded[kind]
	r.mu.RUnlock()
	if ok {
		return b.Version(), nil
	}

	mc, ok := r.models[kind]
	if !kind.Valid() || !ok {
		return "", fmt.Errorf("%w: no model configured for %s", ErrUnsupportedKind, kind)
	}
	if r.routesRemote(mc) {
		if r.remote == nil {
			return "", fmt.Errorf("%w (kind %s)", ErrNoRemote, kind)
		}
		return r.remote.Version(kind, mc), nil
	}
	return mc.Version, nil
}

func (r *ModelRegistry) routesRemote(mc ModelConfig) bool {
	return mc.Backend == BackendRemote || !r.inference.UseLocalInference
}

func (r *ModelRegistry) load(ctx context.Context, kind Kind) (Backend, error) {
	mc, ok := r.models[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no model configured for %s", ErrUnsupportedKind, kind)
	}

	build, err := r.builder(kind, mc)
	if err != nil {
		return nil, err
	}

	logger := r.logger.With("kind", kind, "backend", mc.Backend)
	start := time.Now()

	var b Backend
	attempt := 0
	op := func() error {
		attempt++
		var err error
		b, err = build(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConfig) {
			return backoff.Permanent(err)
		}
		logger.Warn("backend load failed", "attempt", attempt, "err", err)
		return err
	}

	if err := backoff.Retry(op, r.retry.backoff(ctx)); err != nil {
		if errors.Is(err, ErrConfig) || errors.Is(err, ErrModelLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, kind, err)
	}

	if b.Dimension() != kind.Dimension() {
		_ = b.Close()
		return nil, fmt.Errorf("%w: %s backend produces %d floats, need %d", ErrModelLoad, kind, b.Dimension(), kind.Dimension())
	}

	logger.Info("backend ready", "version", b.Version(), "took", time.Since(start).Round(time.Millisecond))
	return b, nil
}

func (r *ModelRegistry) builder(kind Kind, mc ModelConfig) (func(context.Context) (Backend, error), error) {
	if r.routesRemote(mc) {
		if r.remote == nil {
			return nil, fmt.Errorf("%w (kind %s)", ErrNoRemote, kind)
		}
		return func(ctx context.Context) (Backend, error) {
			return r.remote.Remote(ctx, kind, mc)
		}, nil
	}

	factory, ok := r.factories[mc.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q for %s", ErrConfig, mc.Backend, kind)
	}
	return func(ctx context.Context) (Backend, error) {
		return factory(ctx, kind, mc, r.inference)
	}, nil
}

// Close releases every loaded backend. Resolve fails afterwards.
func (r *ModelRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, kind := range Kinds() {
		b, ok := r.loaded[kind]
		if !ok {
			continue
		}
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s backend: %w", kind, err))
		}
		delete(r.loaded, kind)
	}
	r.closed = true

	return errors.Join(errs...)
}
