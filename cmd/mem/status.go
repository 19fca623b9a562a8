package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewStatusCmd(eng engineFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the index holds",
		Long:  `List every namespace in the index with its entry count. Namespaces from model versions no longer configured are marked stale, and namespaces that failed to load are marked corrupt.`,
		RunE:  makeStatusRunner(eng),
	}

	return cmd
}

func makeStatusRunner(eng engineFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := eng(cmd)
		if err != nil {
			return err
		}

		st := e.Status(cmd.Context())

		if asJSON {
			out := make([]map[string]any, 0, len(st.Namespaces))
			for _, ns := range st.Namespaces {
				entry := map[string]any{
					"namespace": ns.Namespace.String(),
					"dimension": ns.Namespace.Dimension(),
					"entries":   ns.Entries,
					"current":   ns.Current,
				}
				if ns.Corrupt != nil {
					entry["corrupt"] = ns.Corrupt.Error()
				}
				out = append(out, entry)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		if len(st.Namespaces) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Index is empty.")
			return nil
		}
		for _, ns := range st.Namespaces {
			mark := ""
			switch {
			case ns.Corrupt != nil:
				mark = "  (corrupt: " + ns.Corrupt.Error() + ")"
			case !ns.Current:
				mark = "  (stale)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %6d entries  %4d dims%s\n", ns.Namespace, ns.Entries, ns.Namespace.Dimension(), mark)
		}
		return nil
	}
}
