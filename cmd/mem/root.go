package main

import (
	"github.com/4thel00z/memories/internal"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string, a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mem",
		Short:         "Embed and semantically search local content",
		Long:          `Embeds images, code, documents and free text into per-kind vector spaces and answers natural-language queries against them.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)

	if a != nil {
		addSubcommands(rootCmd, a)
	}

	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Config file (default ~/.mem/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func addSubcommands(root *cobra.Command, a *app) {
	eng := func(cmd *cobra.Command) (*internal.Engine, error) { return a.open(cmd) }

	root.AddCommand(
		NewIndexCmd(eng),
		NewEmbedCmd(eng),
		NewSearchCmd(eng),
		NewDelCmd(eng),
		NewStatusCmd(eng),
		NewModelsCmd(),
		NewWatchCmd(eng),
	)
}
