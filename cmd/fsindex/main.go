package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/fsindex/internal/config"
	"github.com/standardbeagle/fsindex/internal/debug"
	"github.com/standardbeagle/fsindex/internal/version"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else {
		cfg, err = config.LoadWithRoot(c.String("root"))
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if rootFlag := c.String("root"); rootFlag != "" {
		absRoot, err := filepath.Abs(rootFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", rootFlag, err)
		}
		cfg.Project.Root = absRoot
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludeFlags...)
	}
	if db := c.String("db"); db != "" {
		absDB, err := filepath.Abs(db)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path %q: %w", db, err)
		}
		// The ignore path follows the database unless configured elsewhere.
		if cfg.Index.IgnorePath == "" || cfg.Index.IgnorePath == filepath.Dir(cfg.Index.Database) {
			cfg.Index.IgnorePath = filepath.Dir(absDB)
		}
		cfg.Index.Database = absDB
	}
	if c.Bool("no-metadata") {
		cfg.Index.CollectMetadata = false
	}
	if compression := c.String("compression"); compression != "" {
		cfg.Index.Compression = compression
	}
	if c.Bool("exclude-build-outputs") {
		cfg.Index.ExcludeBuildOutputs = true
	}
	if cfg.Index.ExcludeBuildOutputs {
		cfg.AddBuildOutputExclusions()
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "fsindex",
		Usage:                  "Live filesystem index with fast name search",
		Version:                version.Info(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: .fsindex.kdl in the root)",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Directory to index (overrides config)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Index database path (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Exclude paths matching glob patterns (e.g., --exclude '**/node_modules')",
			},
			&cli.BoolFlag{
				Name:  "exclude-build-outputs",
				Usage: "Exclude output directories declared in package.json, tsconfig.json, Cargo.toml or pyproject.toml",
			},
			&cli.BoolFlag{
				Name:  "no-metadata",
				Usage: "Skip per-file metadata during full scans",
			},
			&cli.StringFlag{
				Name:  "compression",
				Usage: "Database compression: none, zstd or lz4",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Write debug output to stderr",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				debug.EnableDebug = "true"
				debug.SetDebugOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Scan the root and save a fresh index",
				Action: buildCommand,
			},
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Search indexed names",
				ArgsUsage: "<pattern>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Match type: substring, exact, glob, regex, fuzzy",
						Value:   "substring",
					},
					&cli.BoolFlag{
						Name:    "case-insensitive",
						Aliases: []string{"i"},
						Usage:   "Case-insensitive search",
					},
					&cli.IntFlag{
						Name:    "max",
						Aliases: []string{"m"},
						Usage:   "Maximum results (0 = config default)",
					},
					&cli.StringSliceFlag{
						Name:    "kind",
						Aliases: []string{"k"},
						Usage:   "Restrict to kinds: file, dir, symlink",
					},
					&cli.StringSliceFlag{
						Name:    "ext",
						Aliases: []string{"e"},
						Usage:   "Restrict files to extensions (e.g., --ext go --ext md)",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum similarity for fuzzy matches",
					},
					&cli.BoolFlag{
						Name:  "absolute",
						Usage: "Print absolute paths",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: searchCommand,
			},
			{
				Name:      "tree",
				Usage:     "Print the indexed tree",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, compact, json",
						Value:   "text",
					},
					&cli.IntFlag{
						Name:    "max-depth",
						Aliases: []string{"d"},
						Usage:   "Maximum depth (0 = unlimited)",
					},
					&cli.BoolFlag{
						Name:  "metadata",
						Usage: "Show sizes",
					},
				},
				Action: treeCommand,
			},
			{
				Name:  "status",
				Usage: "Show statistics of the saved index",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: statusCommand,
			},
			{
				Name:  "watch",
				Usage: "Keep the index current until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address (e.g., :9464)",
					},
				},
				Action: watchCommand,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the index over MCP on stdio",
				Action: mcpCommand,
			},
			{
				Name:  "version",
				Usage: "Print build details",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.FullInfo())
					return nil
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
