package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/4thel00z/memories/internal"
	"github.com/spf13/cobra"
)

func NewSearchCmd(eng engineFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed content",
		Long:  `Embed a natural-language query and return the closest indexed memories. Without --kind every kind that can embed text queries is searched and the results are merged.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  makeSearchRunner(eng),
	}

	cmd.Flags().String("kind", "", "Only search this kind (image|code|document|generic)")
	cmd.Flags().IntP("number", "n", 10, "Maximum results")
	return cmd
}

func makeSearchRunner(eng engineFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		kindFlag, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("number")
		asJSON, _ := cmd.Flags().GetBool("json")

		kind, err := parseKindFlag(kindFlag)
		if err != nil {
			return err
		}

		e, err := eng(cmd)
		if err != nil {
			return err
		}

		results, err := e.Search.Search(cmd.Context(), query, kind, limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if asJSON {
			return outputSearchResultsJSON(cmd, results)
		}

		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%2d  %.4f  %-9s %s\n", r.Rank, r.Score, r.Namespace.Kind, r.ID)
		}
		return nil
	}
}

func outputSearchResultsJSON(cmd *cobra.Command, results []internal.SearchResult) error {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":        r.ID.String(),
			"score":     r.Score,
			"rank":      r.Rank,
			"namespace": r.Namespace.String(),
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
