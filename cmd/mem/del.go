package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/4thel00z/memories/internal"
	"github.com/spf13/cobra"
)

func NewDelCmd(eng engineFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "del <id|path>...",
		Aliases: []string{"delete", "rm"},
		Short:   "Remove memories from the index",
		Long:    `Remove memories from the index by id, or by the path they were indexed from. Unknown ids are ignored.`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    makeDelRunner(eng),
	}

	return cmd
}

func makeDelRunner(eng engineFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := eng(cmd)
		if err != nil {
			return err
		}

		for _, arg := range args {
			id, err := resolveID(arg)
			if err != nil {
				return err
			}
			if err := e.Indexer.Remove(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", arg, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	}
}

// resolveID maps an existing file path to the id index assigned it; anything else is taken as an id.
func resolveID(arg string) (internal.ID, error) {
	if _, err := os.Stat(arg); err == nil {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return "", err
		}
		return pathID(abs), nil
	}
	return internal.NewID(arg)
}
