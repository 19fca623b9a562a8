package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/4thel00z/memories/internal"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	ctx := context.Background()

	a := newApp()
	rootCmd := NewRootCmd(version, a)
	err := fang.Execute(ctx, rootCmd)
	if closeErr := a.close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "mem: %v\n", closeErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// app opens the engine on first use so commands like --help never touch models or the index.
type app struct {
	opts []internal.EngineOption

	mu     sync.Mutex
	engine *internal.Engine
}

func newApp(opts ...internal.EngineOption) *app {
	return &app{opts: opts}
}

func (a *app) open(cmd *cobra.Command) (*internal.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	eng, err := internal.OpenEngine(cmd.Context(), cfg, a.opts...)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	a.engine = eng
	return eng, nil
}

func (a *app) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	return err
}

func loadConfig(cmd *cobra.Command) (*internal.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = internal.DefaultConfigPath()
	}

	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}
