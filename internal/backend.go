package internal

import "context"

// Content is what a backend receives for one memory.
type Content struct {
	Data     []byte
	Kind     Kind
	Language string
	MimeType string
}

// Backend turns content of one kind into a vector of Dimension() floats.
// Handles are immutable after load and safe for concurrent use.
type Backend interface {
	Embed(ctx context.Context, c Content) ([]float32, error)
	Dimension() int
	Version() string
	Close() error
}

// TextBackend is implemented by backends that can embed free-text queries
// into the same space as their content.
type TextBackend interface {
	Backend
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// BackendFactory builds a backend for kind from its model configuration.
type BackendFactory func(ctx context.Context, kind Kind, mc ModelConfig, inf InferenceConfig) (Backend, error)

// RemoteSupplier provides backends when local inference is disabled or a kind
// is explicitly configured with the remote backend.
type RemoteSupplier interface {
	Remote(ctx context.Context, kind Kind, mc ModelConfig) (Backend, error)
	// Version names the namespace version Remote would produce for kind.
	Version(kind Kind, mc ModelConfig) string
}

// contentText renders content as input for text embedding models.
func contentText(c Content) string {
	if c.Kind == KindCode && c.Language != "" {
		return "language: " + c.Language + "\n" + string(c.Data)
	}
	return string(c.Data)
}
