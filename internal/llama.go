package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/dianlight/gollama.cpp"
)

const llamaContextTokens = 512

var _ TextBackend = (*LlamaBackend)(nil)

var (
	llamaInitMu   sync.Mutex
	llamaInitRefs int
)

// LlamaBackend runs a GGUF embedding model in-process through llama.cpp.
// The native context is not reentrant, so inference is serialized by mu.
type LlamaBackend struct {
	mu        sync.Mutex
	model     gollama.LlamaModel
	lctx      gollama.LlamaContext
	dimension int
	native    int
	device    Device
	modelPath string
	version   string
}

type llamaConfig struct {
	matryoshka bool
	debug      bool
}

type LlamaOption func(*llamaConfig)

// WithMatryoshka truncates wider model outputs to the requested dimension before
// normalizing. Only valid for models trained with Matryoshka representation learning.
func WithMatryoshka(enabled bool) LlamaOption {
	return func(c *llamaConfig) { c.matryoshka = enabled }
}

func WithLlamaDebug(enabled bool) LlamaOption {
	return func(c *llamaConfig) { c.debug = enabled }
}

func newLlamaBackend(_ context.Context, kind Kind, mc ModelConfig, inf InferenceConfig) (Backend, error) {
	modelPath := filepath.Join(inf.ModelDirectory, mc.Model)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model for %s not found at %s (run `mem models pull`)", ErrConfig, kind, modelPath)
	}
	return NewLlamaBackend(modelPath, kind.Dimension(), mc.Version, WithMatryoshka(mc.Matryoshka))
}

func NewLlamaBackend(modelPath string, dimension int, version string, opts ...LlamaOption) (*LlamaBackend, error) {
	var cfg llamaConfig
	for _, o := range opts {
		o(&cfg)
	}

	if err := llamaBackendInit(cfg.debug); err != nil {
		return nil, fmt.Errorf("%w: init backend: %v", ErrModelLoad, err)
	}

	var model gollama.LlamaModel
	var lctx gollama.LlamaContext
	success := false

	defer func() {
		if success {
			return
		}
		if lctx != 0 {
			gollama.Free(lctx)
		}
		if model != 0 {
			gollama.Model_free(model)
		}
		llamaBackendRelease()
	}()

	device := DetectHardware()

	modelParams := gollama.Model_default_params()
	modelParams.NGpuLayers = 0
	if device.Offloads() {
		modelParams.NGpuLayers = allGPULayers
	}

	var err error
	model, err = gollama.Model_load_from_file(modelPath, modelParams)
	if err != nil {
		return nil, fmt.Errorf("%w: load model: %v", ErrModelLoad, err)
	}

	native := int(gollama.Model_n_embd(model))
	switch {
	case native == dimension:
	case native > dimension && cfg.matryoshka:
	default:
		return nil, fmt.Errorf("%w: %s produces %d floats, need %d", ErrModelLoad, filepath.Base(modelPath), native, dimension)
	}

	ctxParams := gollama.Context_default_params()
	ctxParams.Embeddings = 1
	ctxParams.NCtx = llamaContextTokens

	lctx, err = gollama.Init_from_model(model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrModelLoad, err)
	}

	gollama.Set_embeddings(lctx, true)
	success = true

	return &LlamaBackend{
		model:     model,
		lctx:      lctx,
		dimension: dimension,
		native:    native,
		device:    device,
		modelPath: modelPath,
		version:   version,
	}, nil
}

func (e *LlamaBackend) Embed(ctx context.Context, c Content) ([]float32, error) {
	return e.EmbedText(ctx, contentText(c))
}

func (e *LlamaBackend) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens, err := gollama.Tokenize(e.model, text, true, false)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	if len(tokens) == 0 {
		return make([]float32, e.dimension), nil
	}
	if len(tokens) > llamaContextTokens {
		tokens = tokens[:llamaContextTokens]
	}

	gollama.Memory_clear(e.lctx, false)

	nTokens := int32(len(tokens))
	batch := gollama.Batch_init(nTokens, 0, 1)
	defer gollama.Batch_free(batch)

	tokenSlice := unsafe.Slice(batch.Token, nTokens)
	posSlice := unsafe.Slice(batch.Pos, nTokens)
	nSeqSlice := unsafe.Slice(batch.NSeqId, nTokens)
	seqIdSlice := unsafe.Slice(batch.SeqId, nTokens)
	logitsSlice := unsafe.Slice(batch.Logits, nTokens)

	for i := int32(0); i < nTokens; i++ {
		tokenSlice[i] = tokens[i]
		posSlice[i] = gollama.LlamaPos(i)
		nSeqSlice[i] = 1
		*seqIdSlice[i] = 0
		logitsSlice[i] = 1
	}
	batch.NTokens = nTokens

	if err := gollama.Decode(e.lctx, batch); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	// Pooled models (BERT/nomic-bert with mean pooling) expose sequence 0 directly.
	embPtr := gollama.Get_embeddings_seq(e.lctx, 0)
	if embPtr == nil {
		return nil, errors.New("no embeddings returned (model may not support pooling)")
	}

	embeddings := ptrToSlice(embPtr, e.native)
	return l2Normalize(embeddings[:e.dimension]), nil
}

func (e *LlamaBackend) Dimension() int {
	return e.dimension
}

func (e *LlamaBackend) Version() string {
	return e.version
}

func (e *LlamaBackend) Device() string {
	return string(e.device)
}

func (e *LlamaBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lctx == 0 {
		return nil
	}

	gollama.Free(e.lctx)
	gollama.Model_free(e.model)
	e.lctx, e.model = 0, 0
	llamaBackendRelease()

	return nil
}

// llama.cpp's backend is process-global; several models share one init.
func llamaBackendInit(debug bool) error {
	llamaInitMu.Lock()
	defer llamaInitMu.Unlock()

	if llamaInitRefs == 0 {
		if err := gollama.Backend_init(); err != nil {
			return err
		}
		if !debug {
			_ = gollama.Log_disable()
		}
	}
	llamaInitRefs++
	return nil
}

func llamaBackendRelease() {
	llamaInitMu.Lock()
	defer llamaInitMu.Unlock()

	llamaInitRefs--
	if llamaInitRefs == 0 {
		gollama.Backend_free()
	}
}

func ptrToSlice(ptr *float32, size int) []float32 {
	if ptr == nil {
		return nil
	}

	src := unsafe.Slice(ptr, size)
	dst := make([]float32, size)
	copy(dst, src)

	return dst
}
