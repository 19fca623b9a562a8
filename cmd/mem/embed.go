package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// embedPreview is how many leading floats the plain output shows.
const embedPreview = 8

func NewEmbedCmd(eng engineFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed <path>",
		Short: "Print the embedding of a file without indexing it",
		Args:  cobra.ExactArgs(1),
		RunE:  makeEmbedRunner(eng),
	}

	cmd.Flags().String("kind", "", "Force the kind (image|code|document|generic)")
	return cmd
}

func makeEmbedRunner(eng engineFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		asJSON, _ := cmd.Flags().GetBool("json")

		kind, err := parseKindFlag(kindFlag)
		if err != nil {
			return err
		}
		mem, err := memoryForPath(args[0], kind)
		if err != nil {
			return err
		}

		e, err := eng(cmd)
		if err != nil {
			return err
		}

		emb, err := e.Embedder.EmbedMemory(cmd.Context(), mem)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]any{
				"id":        mem.ID,
				"namespace": emb.Namespace.String(),
				"dimension": emb.Dimension(),
				"vector":    emb.Vector,
			})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d floats\n", mem.ID, emb.Namespace, emb.Dimension())
		fmt.Fprintln(cmd.OutOrStdout(), formatPreview(emb.Vector))
		return nil
	}
}

func formatPreview(vec []float32) string {
	n := min(len(vec), embedPreview)
	s := "["
	for i, v := range vec[:n] {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%.4f", v)
	}
	if len(vec) > n {
		s += " ..."
	}
	return s + "]"
}
