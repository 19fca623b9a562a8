package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/4thel00z/memories/internal"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func NewWatchCmd(eng engineFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Keep the index in sync with a directory",
		Long:  `Watch a directory tree and re-index files as they change. Removed files are deleted from the index.`,
		Args:  cobra.ExactArgs(1),
		RunE:  makeWatchRunner(eng),
	}

	cmd.Flags().Duration("debounce", 500*time.Millisecond, "Debounce window for batching changes")
	return cmd
}

func makeWatchRunner(eng engineFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")

		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", root)
		}

		e, err := eng(cmd)
		if err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()

		ignore, err := internal.NewContentIgnore(root)
		if err != nil {
			return fmt.Errorf("read ignore files: %w", err)
		}

		if err := addWatchDirs(watcher, root); err != nil {
			return fmt.Errorf("add watch dirs: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes...\n", root)

		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		pending := make(map[string]struct{})

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if shouldIgnoreEvent(event) {
					continue
				}
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if event.Op&fsnotify.Create != 0 && !ignore.Ignored(event.Name, true) {
						_ = addWatchDirs(watcher, event.Name)
					}
					continue
				}
				if ignore.Ignored(event.Name, false) {
					continue
				}
				if len(pending) == 0 {
					timer.Reset(debounce)
				}
				pending[event.Name] = struct{}{}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
			case <-timer.C:
				batch := pending
				pending = make(map[string]struct{})
				syncPaths(cmd, e, batch)
			}
		}
	}
}

// syncPaths re-indexes paths that still exist and drops the rest from the index.
func syncPaths(cmd *cobra.Command, e *internal.Engine, paths map[string]struct{}) {
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var mems []*internal.Memory
	for _, p := range sorted {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			if err := e.Indexer.Remove(cmd.Context(), pathID(p)); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", p)
			}
			continue
		}
		mem, err := memoryForPath(p, internal.KindUnknown)
		if err != nil {
			continue
		}
		mems = append(mems, mem)
	}
	if len(mems) == 0 {
		return
	}

	report, err := e.Indexer.IndexBatch(cmd.Context(), mems)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "index error: %v\n", err)
		return
	}
	refs := make(map[internal.ID]internal.ContentRef, len(mems))
	for _, mem := range mems {
		refs[mem.ID] = mem.Ref
	}
	for _, id := range report.Indexed {
		fmt.Fprintf(cmd.OutOrStdout(), "+ %s\n", refs[id])
	}
	for _, f := range report.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", f.ID, f.Err)
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return true
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}

	return false
}
