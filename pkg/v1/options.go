package v1

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	configPath string
	modelDir   string
	indexPath  string
	logLevel   string
	inMemory   bool
	localOnly  *bool
}

// WithConfigFile loads engine settings from path instead of ~/.mem/config.yaml.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) {
		c.configPath = path
	}
}

// WithModelDir sets the directory GGUF models are loaded from.
func WithModelDir(dir string) Option {
	return func(c *clientConfig) {
		c.modelDir = dir
	}
}

// WithIndexPath sets where the SQLite index lives.
func WithIndexPath(path string) Option {
	return func(c *clientConfig) {
		c.indexPath = path
	}
}

// WithInMemoryIndex keeps the index in process memory only.
func WithInMemoryIndex() Option {
	return func(c *clientConfig) {
		c.inMemory = true
	}
}

// WithLocalInference turns local model inference on or off. When off, a remote
// provider must be configured.
func WithLocalInference(enabled bool) Option {
	return func(c *clientConfig) {
		c.localOnly = &enabled
	}
}

// WithLogLevel sets the engine log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *clientConfig) {
		c.logLevel = level
	}
}
