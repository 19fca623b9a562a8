package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/4thel00z/memories/internal"
	"github.com/spf13/cobra"
)

func NewModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage local embedding models",
	}

	cmd.AddCommand(
		newModelsPullCmd(),
		newModelsListCmd(),
	)

	return cmd
}

func requiredModels(cmd *cobra.Command) (*internal.Config, []internal.ModelFile, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	models, err := cfg.ModelsByKind()
	if err != nil {
		return nil, nil, err
	}
	files, err := internal.RequiredModels(models)
	if err != nil {
		return nil, nil, err
	}
	return cfg, files, nil
}

func newModelsPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download the GGUF models the config refers to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				token = os.Getenv("HF_TOKEN")
			}

			cfg, files, err := requiredModels(cmd)
			if err != nil {
				return err
			}

			d := internal.NewDownloader(cfg.Inference.ModelDirectory, token)
			for _, mf := range files {
				lastPct := int64(-1)
				path, err := d.EnsureModel(cmd.Context(), mf, func(written, total int64) {
					if total <= 0 {
						total = mf.Size
					}
					if pct := written * 100 / max(total, 1); pct != lastPct {
						lastPct = pct
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%s %3d%%", mf.Filename, pct)
					}
				})
				if lastPct >= 0 {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
				if err != nil {
					return fmt.Errorf("pull %s: %w", mf.Filename, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().String("token", "", "Hugging Face token (default $HF_TOKEN)")
	return cmd
}

func newModelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show configured models and whether they are present",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			models, err := cfg.ModelsByKind()
			if err != nil {
				return err
			}

			for _, kind := range internal.Kinds() {
				mc, ok := models[kind]
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s (not configured, uses generic)\n", kind)
					continue
				}

				state := ""
				if mc.Backend == internal.BackendLlama {
					state = "missing"
					if _, err := os.Stat(filepath.Join(cfg.Inference.ModelDirectory, mc.Model)); err == nil {
						state = "present"
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s %-7s %-40s %s\n", kind, mc.Backend, mc.Version, state)
			}
			return nil
		},
	}
}
