package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	BackendLlama  = "llama"
	BackendPixel  = "pixel"
	BackendHash   = "hash"
	BackendRemote = "remote"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type RemoteConfig struct {
	Provider string `yaml:"provider,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

type InferenceConfig struct {
	UseLocalInference bool         `yaml:"use_local_inference"`
	ModelDirectory    string       `yaml:"model_directory"`
	Remote            RemoteConfig `yaml:"remote,omitempty"`
}

type ModelConfig struct {
	Backend    string `yaml:"backend"`
	Model      string `yaml:"model,omitempty"`
	Version    string `yaml:"version"`
	Matryoshka bool   `yaml:"matryoshka,omitempty"`
}

// IndexConfig locates the index. ANNTrees > 0 trades exactness for speed on
// namespaces of at least ANNMinSize entries; it is off by default.
type IndexConfig struct {
	Path       string `yaml:"path"`
	Metric     string `yaml:"metric"`
	ANNTrees   int    `yaml:"ann_trees"`
	ANNMinSize int    `yaml:"ann_min_size"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Inference InferenceConfig        `yaml:"inference"`
	Models    map[string]ModelConfig `yaml:"models"`
	Index     IndexConfig            `yaml:"index"`
	Batch     BatchConfig            `yaml:"batch"`
	Log       LogConfig              `yaml:"log"`
}

const ConfigFilename = "config.yaml"

// DefaultConfigPath is ~/.mem/config.yaml, or .mem/config.yaml when there is no home directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mem", ConfigFilename)
	}
	return filepath.Join(home, ".mem", ConfigFilename)
}

func DefaultConfig() *Config {
	modelDir, err := DefaultCacheDir()
	if err != nil {
		modelDir = filepath.Join(".mem", "models")
	}

	indexPath := filepath.Join(".mem", IndexFilename)
	if home, err := os.UserHomeDir(); err == nil {
		indexPath = filepath.Join(home, ".mem", IndexFilename)
	}

	return &Config{
		Inference: InferenceConfig{
			UseLocalInference: true,
			ModelDirectory:    modelDir,
		},
		Models: map[string]ModelConfig{
			KindImage.String(): {
				Backend: BackendPixel,
				Version: PixelVersion,
			},
			KindCode.String(): {
				Backend: BackendLlama,
				Model:   NomicModel.Filename,
				Version: "nomic-embed-text-v1.5-q4km",
			},
			KindDocument.String(): {
				Backend: BackendLlama,
				Model:   MxbaiModel.Filename,
				Version: "mxbai-embed-large-v1-f16",
			},
			KindGeneric.String(): {
				Backend:    BackendLlama,
				Model:      NomicModel.Filename,
				Version:    "nomic-embed-text-v1.5-q4km-512",
				Matryoshka: true,
			},
		},
		Index: IndexConfig{
			Path:       indexPath,
			Metric:     string(MetricCosine),
			ANNTrees:   0,
			ANNMinSize: 5000,
		},
		Batch: BatchConfig{Concurrency: 4},
		Log:   LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML config on top of the defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Models == nil {
		cfg.Models = make(map[string]ModelConfig)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	if dir := os.Getenv("MEM_MODEL_DIR"); dir != "" {
		c.Inference.ModelDirectory = dir
	}
	if v := os.Getenv("MEM_LOCAL_INFERENCE"); v != "" {
		local, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MEM_LOCAL_INFERENCE: %v", ErrConfig, err)
		}
		c.Inference.UseLocalInference = local
	}
	if level := os.Getenv("MEM_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	return nil
}

// ModelsByKind returns the per-kind model configuration keyed by Kind.
func (c *Config) ModelsByKind() (map[Kind]ModelConfig, error) {
	out := make(map[Kind]ModelConfig, len(c.Models))
	for name, mc := range c.Models {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("models.%s: %w", name, err)
		}
		out[kind] = mc
	}
	return out, nil
}

func (c *Config) Validate() error {
	if _, err := ParseMetric(c.Index.Metric); err != nil {
		return err
	}

	if metric, _ := ParseMetric(c.Index.Metric); c.Index.ANNTrees > 0 && metric != MetricCosine {
		return fmt.Errorf("%w: index.ann_trees needs the cosine metric, got %s", ErrConfig, metric)
	}

	models, err := c.ModelsByKind()
	if err != nil {
		return err
	}
	if _, ok := models[KindGeneric]; !ok {
		return fmt.Errorf("%w: models.generic is required", ErrConfig)
	}

	for kind, mc := range models {
		if mc.Version == "" {
			return fmt.Errorf("%w: models.%s.version is empty", ErrConfig, kind)
		}
		switch mc.Backend {
		case BackendLlama:
			if mc.Model == "" {
				return fmt.Errorf("%w: models.%s.model is required for the llama backend", ErrConfig, kind)
			}
		case BackendPixel:
			if kind != KindImage {
				return fmt.Errorf("%w: models.%s: pixel backend only embeds images", ErrConfig, kind)
			}
		case BackendHash, BackendRemote:
		default:
			return fmt.Errorf("%w: models.%s: unknown backend %q", ErrConfig, kind, mc.Backend)
		}
	}

	switch c.Inference.Remote.Provider {
	case "", ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown remote provider %q", ErrConfig, c.Inference.Remote.Provider)
	}

	return nil
}
