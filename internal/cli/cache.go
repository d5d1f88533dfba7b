package cli

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/buildcache"
	"github.com/roach88/kiln/internal/proofcache"
	"github.com/roach88/kiln/internal/store"
)

// CacheOptions holds flags for the cache invalidate command.
type CacheOptions struct {
	*RootOptions
	Database   string
	BuildCache string
	Obligation string
	Node       string
	Engine     string
	All        bool
}

// CacheInvalidation counts what one invalidate call removed.
type CacheInvalidation struct {
	Witnesses    int `json:"witnesses"`
	BuildEntries int `json:"build_entries"`
}

func (c CacheInvalidation) String() string {
	return fmt.Sprintf("invalidated %d witness(es), %d build cache entr(ies)", c.Witnesses, c.BuildEntries)
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the proof and build caches",
	}
	cmd.AddCommand(newCacheInvalidateCommand(rootOpts))
	return cmd
}

func newCacheInvalidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached witnesses and build entries",
		Long: `Drop committed proof witnesses from the store, and with --node also the
build cache entries derived from matching nodes. Later runs recompute
whatever was dropped.

Examples:
  kiln cache invalidate --obligation 3fa9 --db kiln.db
  kiln cache invalidate --node 81c2 --db kiln.db --build-cache .kiln/cache
  kiln cache invalidate --engine solver@4.13 --db kiln.db
  kiln cache invalidate --all --db kiln.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheInvalidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (default from config)")
	cmd.Flags().StringVar(&opts.BuildCache, "build-cache", "", "build cache directory (default from config)")
	cmd.Flags().StringVar(&opts.Obligation, "obligation", "", "drop witnesses whose obligation hash starts with this prefix")
	cmd.Flags().StringVar(&opts.Node, "node", "", "drop witnesses and build entries of nodes whose hash starts with this prefix")
	cmd.Flags().StringVar(&opts.Engine, "engine", "", "drop witnesses of an engine at any version but this one (name@version)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "drop every witness and build entry")

	return cmd
}

func runCacheInvalidate(opts *CacheOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	selectors := 0
	for _, set := range []bool{opts.Obligation != "", opts.Node != "", opts.Engine != "", opts.All} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return NewExitError(ExitCommandError, "give exactly one of --obligation, --node, --engine or --all")
	}
	var engine, version string
	if opts.Engine != "" {
		var ok bool
		engine, version, ok = strings.Cut(opts.Engine, "@")
		if !ok || engine == "" || version == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --engine %q: want name@version", opts.Engine))
		}
	}
	path := cmp.Or(opts.Database, opts.Config.Store)
	if path == "" {
		return NewExitError(ExitCommandError, "no store: pass --db or set store in the config")
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()
	proofs := proofcache.New(st, proofcache.WithLogger(opts.Logger))
	ctx := contextOf(cmd)

	var res CacheInvalidation
	switch {
	case opts.All:
		res.Witnesses, err = proofs.InvalidatePrefix(ctx, "")
	case opts.Obligation != "":
		res.Witnesses, err = proofs.InvalidatePrefix(ctx, opts.Obligation)
	case opts.Node != "":
		res.Witnesses, err = proofs.InvalidateNode(ctx, opts.Node)
	default:
		res.Witnesses, err = proofs.InvalidateEngine(ctx, engine, version)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to invalidate witnesses", err)
	}

	dir := cmp.Or(opts.BuildCache, opts.Config.BuildCache)
	if dir != "" && (opts.All || opts.Node != "") {
		b, err := buildcache.OpenBadger(dir)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open build cache", err)
		}
		defer b.Close()
		prefixes := []string{""}
		if !opts.All {
			prefixes = []string{buildcache.PrefixFragment + opts.Node, buildcache.PrefixArtifact + opts.Node}
		}
		res.BuildEntries, err = b.DropPrefix(ctx, prefixes...)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to drop build cache entries", err)
		}
	}
	return formatter.Success(res)
}
