package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/config"
	"github.com/standardbeagle/fsindex/internal/core"
	"github.com/standardbeagle/fsindex/internal/display"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/indexing"
	"github.com/standardbeagle/fsindex/internal/searchtypes"
	"github.com/standardbeagle/fsindex/internal/types"
	"github.com/standardbeagle/fsindex/pkg/pathutil"
)

// openIndex loads the saved index, building and saving one when the
// database is missing or unusable.
func openIndex(ctx context.Context, cfg *config.Config) (*indexing.Index, error) {
	idx, err := indexing.OpenOrBuild(ctx, cfg, cancel.Noop())
	if err != nil {
		return nil, err
	}
	if idx.Dirty() {
		if err := idx.Checkpoint(cfg.Index.Database); err != nil {
			// The in-memory index is still usable.
			fmt.Fprintf(os.Stderr, "Warning: could not save index: %v\n", err)
		}
	}
	return idx, nil
}

func buildCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	start := time.Now()
	idx, err := indexing.BuildIndex(c.Context, cfg, cancel.Noop())
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	if err := idx.Checkpoint(cfg.Index.Database); err != nil {
		return err
	}

	st := idx.Stats()
	fmt.Fprintf(c.App.Writer, "Indexed %s in %v (%d files, %d directories)\n",
		cfg.Project.Root, time.Since(start).Round(time.Millisecond), st.Files, st.Dirs)
	fmt.Fprintf(c.App.Writer, "Saved %s\n", cfg.Index.Database)
	return nil
}

// searchQuery builds a query from the search flags.
func searchQuery(c *cli.Context, cfg *config.Config) (searchtypes.Query, error) {
	matchType, err := searchtypes.ParseMatchType(strings.ToLower(c.String("type")))
	if err != nil {
		return searchtypes.Query{}, err
	}
	q := searchtypes.Query{
		Pattern:         c.Args().First(),
		Type:            matchType,
		CaseInsensitive: c.Bool("case-insensitive") || cfg.Search.CaseInsensitive,
		MaxResults:      c.Int("max"),
		Extensions:      c.StringSlice("ext"),
		FuzzyThreshold:  float32(c.Float64("threshold")),
	}
	if q.MaxResults <= 0 {
		q.MaxResults = cfg.Search.MaxResults
	}
	if q.FuzzyThreshold <= 0 {
		q.FuzzyThreshold = float32(cfg.Search.FuzzyThreshold)
	}
	for _, k := range c.StringSlice("kind") {
		ft, ok := types.ParseFileType(strings.ToLower(k))
		if !ok {
			return searchtypes.Query{}, fmt.Errorf("unknown kind %q", k)
		}
		q.Kinds = append(q.Kinds, ft)
	}
	return q, nil
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: fsindex search <pattern>")
	}
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	q, err := searchQuery(c, cfg)
	if err != nil {
		return err
	}

	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	matches, err := idx.Search(q, cancel.Noop())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if !c.Bool("absolute") {
		matches = pathutil.ToRelativeMatches(matches, cfg.Project.Root)
	}

	if c.Bool("json") {
		return json.NewEncoder(c.App.Writer).Encode(map[string]interface{}{
			"pattern": q.Pattern,
			"type":    q.Type,
			"time_ms": float64(elapsed.Microseconds()) / 1000.0,
			"results": matches,
		})
	}

	for _, m := range matches {
		suffix := ""
		switch m.Type {
		case types.FileTypeDir:
			suffix = "/"
		case types.FileTypeSymlink:
			suffix = "@"
		}
		if size, ok := m.Size(); ok && m.Type == types.FileTypeFile {
			fmt.Fprintf(c.App.Writer, "%s%s  %s\n", m.Path, suffix, display.FormatSize(size))
		} else {
			fmt.Fprintf(c.App.Writer, "%s%s\n", m.Path, suffix)
		}
	}
	fmt.Fprintf(c.App.ErrWriter, "%d results in %.1fms\n", len(matches), float64(elapsed.Microseconds())/1000.0)
	return nil
}

func treeCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		return err
	}

	target := cfg.Project.Root
	if arg := c.Args().First(); arg != "" {
		if filepath.IsAbs(arg) {
			target = filepath.Clean(arg)
		} else {
			target = filepath.Join(cfg.Project.Root, arg)
		}
	}

	formatter := display.NewTreeFormatter(display.FormatterOptions{
		Format:       c.String("format"),
		ShowMetadata: c.Bool("metadata"),
		MaxDepth:     c.Int("max-depth"),
		Indent:       "  ",
	})

	var (
		out   string
		found bool
	)
	idx.View(func(store *core.NodeStore) {
		var i alloc.Index
		i, found = store.Lookup(target)
		if found {
			out = formatter.Format(store, i)
		}
	})
	if !found {
		return fmt.Errorf("path not indexed: %s", target)
	}
	fmt.Fprint(c.App.Writer, out)
	return nil
}

func statusCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	idx, err := indexing.OpenIndex(cfg.Index.Database, cfg)
	if fserrors.IsNotFound(err) {
		return fmt.Errorf("no index at %s; run 'fsindex build' first", cfg.Index.Database)
	}
	if err != nil {
		return err
	}

	var size int64
	if info, err := os.Stat(cfg.Index.Database); err == nil {
		size = info.Size()
	}
	st := idx.Stats()

	if c.Bool("json") {
		return json.NewEncoder(c.App.Writer).Encode(map[string]interface{}{
			"database":       cfg.Index.Database,
			"database_bytes": size,
			"last_event_id":  uint64(idx.LastEventID()),
			"stats":          st.FormatAsJSON(),
		})
	}

	fmt.Fprint(c.App.Writer, st.FormatAsText())
	fmt.Fprintf(c.App.Writer, "\nDatabase:      %s (%s)\n", cfg.Index.Database, display.FormatSize(uint64(size)))
	fmt.Fprintf(c.App.Writer, "Last event id: %d\n", idx.LastEventID())
	return nil
}
