package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOpenAIModel = "text-embedding-3-small"
)

var _ TextBackend = (*remoteBackend)(nil)

type remoteEmbedFunc func(ctx context.Context, text string, dimension int) ([]float32, error)

// remoteBackend is a text-only backend whose inference happens in another process.
type remoteBackend struct {
	version    string
	dimension  int
	matryoshka bool
	embed      remoteEmbedFunc
}

// dimensionCheckText is embedded once at load to learn the model's output width.
const dimensionCheckText = "dimension check"

// newRemoteBackend embeds a short text once so that a model whose output width
// cannot serve kind disables the kind at load instead of failing every item.
func newRemoteBackend(ctx context.Context, kind Kind, mc ModelConfig, version string, embed remoteEmbedFunc) (Backend, error) {
	b := &remoteBackend{
		version:    version,
		dimension:  kind.Dimension(),
		matryoshka: mc.Matryoshka,
		embed:      embed,
	}

	vec, err := embed(ctx, dimensionCheckText, b.dimension)
	if err != nil {
		return nil, err
	}
	if !b.fits(len(vec)) {
		return nil, fmt.Errorf("%w: %s produces %d floats, %s needs %d (set matryoshka for wider models)",
			ErrConfig, version, len(vec), kind, b.dimension)
	}
	return b, nil
}

func (r *remoteBackend) fits(n int) bool {
	return n == r.dimension || (n > r.dimension && r.matryoshka)
}

func (r *remoteBackend) Embed(ctx context.Context, c Content) ([]float32, error) {
	return r.EmbedText(ctx, contentText(c))
}

func (r *remoteBackend) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.embed(ctx, text, r.dimension)
	if err != nil {
		return nil, err
	}
	if !r.fits(len(vec)) {
		return nil, fmt.Errorf("%s returned %d floats, want %d", r.version, len(vec), r.dimension)
	}
	return l2Normalize(vec[:r.dimension]), nil
}

func (r *remoteBackend) Dimension() int  { return r.dimension }
func (r *remoteBackend) Version() string { return r.version }
func (r *remoteBackend) Close() error    { return nil }

// NewRemoteSupplier picks the supplier for the configured provider. It returns nil
// when no provider is configured.
func NewRemoteSupplier(cfg RemoteConfig) (RemoteSupplier, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case ProviderOllama:
		return NewOllamaSupplier(cfg)
	case ProviderOpenAI:
		return NewOpenAISupplier(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown remote provider %q", ErrConfig, cfg.Provider)
	}
}

// remoteModel decides which remote model serves kind and under which version it is namespaced.
func remoteModel(provider, fallback string, mc ModelConfig) (model, version string) {
	if mc.Backend == BackendRemote && mc.Model != "" {
		model = mc.Model
	} else {
		model = fallback
	}
	if mc.Backend == BackendRemote && mc.Version != "" {
		return model, mc.Version
	}
	return model, provider + ":" + model
}

var _ RemoteSupplier = (*OllamaSupplier)(nil)

type OllamaSupplier struct {
	client *api.Client
	model  string
}

func NewOllamaSupplier(cfg RemoteConfig) (*OllamaSupplier, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: ollama base url: %v", ErrConfig, err)
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("%w: ollama client: %v", ErrConfig, err)
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}

	return &OllamaSupplier{client: client, model: model}, nil
}

func (s *OllamaSupplier) Remote(ctx context.Context, kind Kind, mc ModelConfig) (Backend, error) {
	if kind == KindImage {
		return nil, fmt.Errorf("%w: ollama supplier does not embed images", ErrConfig)
	}

	model, version := remoteModel(ProviderOllama, s.model, mc)
	return newRemoteBackend(ctx, kind, mc, version, func(ctx context.Context, text string, _ int) ([]float32, error) {
		resp, err := s.client.Embed(ctx, &api.EmbedRequest{
			Model: model,
			Input: text,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		if len(resp.Embeddings) == 0 {
			return nil, fmt.Errorf("ollama embed: no embeddings returned")
		}
		return resp.Embeddings[0], nil
	})
}

// Version is the namespace version kind gets from this supplier, without a request.
func (s *OllamaSupplier) Version(_ Kind, mc ModelConfig) string {
	_, version := remoteModel(ProviderOllama, s.model, mc)
	return version
}

var _ RemoteSupplier = (*OpenAISupplier)(nil)

type OpenAISupplier struct {
	client openai.Client
	model  string
}

func NewOpenAISupplier(cfg RemoteConfig) (*OpenAISupplier, error) {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAISupplier{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (s *OpenAISupplier) Remote(ctx context.Context, kind Kind, mc ModelConfig) (Backend, error) {
	if kind == KindImage {
		return nil, fmt.Errorf("%w: openai supplier does not embed images", ErrConfig)
	}

	model, version := remoteModel(ProviderOpenAI, s.model, mc)
	return newRemoteBackend(ctx, kind, mc, version, func(ctx context.Context, text string, dimension int) ([]float32, error) {
		resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
			Model:      openai.EmbeddingModel(model),
			Dimensions: openai.Int(int64(dimension)),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("openai embed: no embeddings returned")
		}

		vec := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vec[i] = float32(v)
		}
		return vec, nil
	})
}

func (s *OpenAISupplier) Version(_ Kind, mc ModelConfig) string {
	_, version := remoteModel(ProviderOpenAI, s.model, mc)
	return version
}
