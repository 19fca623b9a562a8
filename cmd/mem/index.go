package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/4thel00z/memories/internal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type engineFunc func(*cobra.Command) (*internal.Engine, error)

func NewIndexCmd(eng engineFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <path...>",
		Short: "Embed files and add them to the index",
		Long: `Embed files and add them to the index. Directories are walked recursively,
skipping hidden entries and anything matched by .gitignore or .memignore. Each file's kind is guessed from its extension
unless --kind is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: makeIndexRunner(eng),
	}

	cmd.Flags().String("kind", "", "Force the kind (image|code|document|generic)")
	cmd.Flags().String("id", "", "Memory id to use (single file only)")
	cmd.Flags().Bool("stale", false, "Only re-embed files whose vectors are missing or from an old model")
	return cmd
}

func makeIndexRunner(eng engineFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		idFlag, _ := cmd.Flags().GetString("id")
		staleOnly, _ := cmd.Flags().GetBool("stale")
		asJSON, _ := cmd.Flags().GetBool("json")

		kind, err := parseKindFlag(kindFlag)
		if err != nil {
			return err
		}

		files, err := collectFiles(args)
		if err != nil {
			return err
		}
		if idFlag != "" && len(files) != 1 {
			return fmt.Errorf("--id needs exactly one file, got %d", len(files))
		}

		mems := make([]*internal.Memory, 0, len(files))
		for _, f := range files {
			mem, err := memoryForPath(f, kind)
			if err != nil {
				return err
			}
			if idFlag != "" {
				if mem.ID, err = internal.NewID(idFlag); err != nil {
					return err
				}
			}
			mems = append(mems, mem)
		}

		e, err := eng(cmd)
		if err != nil {
			return err
		}

		if staleOnly {
			if mems, err = e.Indexer.Stale(cmd.Context(), mems); err != nil {
				return fmt.Errorf("check staleness: %w", err)
			}
		}

		report, err := e.Indexer.IndexBatch(cmd.Context(), mems)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}

		if asJSON {
			return outputReportJSON(cmd, report)
		}

		for _, f := range report.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", f.ID, f.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d, failed %d\n", len(report.Indexed), len(report.Failures))

		if len(report.Indexed) == 0 && len(report.Failures) > 0 {
			return fmt.Errorf("nothing indexed")
		}
		return nil
	}
}

func outputReportJSON(cmd *cobra.Command, report internal.Report) error {
	failures := make([]map[string]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, map[string]string{
			"id":    f.ID.String(),
			"error": f.Err.Error(),
		})
	}
	indexed := report.Indexed
	if indexed == nil {
		indexed = []internal.ID{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"indexed":  indexed,
		"failures": failures,
	})
}

func parseKindFlag(s string) (internal.Kind, error) {
	if s == "" {
		return internal.KindUnknown, nil
	}
	return internal.ParseKind(s)
}

// pathID derives a stable memory id from an absolute path.
func pathID(abs string) internal.ID {
	return internal.ID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String())
}

// memoryForPath describes a file as a memory. kind overrides the extension guess
// unless it is KindUnknown.
func memoryForPath(path string, kind internal.Kind) (*internal.Memory, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	guessed, lang, mime := internal.ClassifyPath(abs)
	if kind == internal.KindUnknown {
		kind = guessed
	}

	mem := internal.NewMemory(pathID(abs), kind, internal.ContentRef(abs))
	mem.Language = lang
	mem.MimeType = mime
	return mem, nil
}

func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		ignore, err := internal.NewContentIgnore(p)
		if err != nil {
			return nil, fmt.Errorf("read ignore files in %s: %w", p, err)
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != p && (strings.HasPrefix(d.Name(), ".") || ignore.Ignored(path, true)) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") && !ignore.Ignored(path, false) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
