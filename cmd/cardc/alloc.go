package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"cardc/internal/cache"
	"cardc/internal/callgraph"
	"cardc/internal/ir"
	"cardc/internal/limits"
	"cardc/internal/pipeline"
	"cardc/internal/report"
)

var allocCmd = &cobra.Command{
	Use:   "alloc [flags] module.mp",
	Short: "Allocate local slots for every function of a module dump",
	Long: `alloc reads a msgpack-encoded SSA module, runs the allocation pipeline
on every function and checks the estimated stack depth of every call chain.
With --frames the check is repeated against exact code-generated frames.`,
	Args: cobra.ExactArgs(1),
	RunE: runAlloc,
}

func init() {
	allocCmd.Flags().String("limits", "", "TOML file with a [limits] table")
	allocCmd.Flags().StringSlice("entry", nil, "entry point functions (default: functions nobody calls)")
	allocCmd.Flags().Int("jobs", 0, "max parallel workers (0=auto)")
	allocCmd.Flags().Bool("cache", false, "reuse results from the user cache directory")
	allocCmd.Flags().String("cache-dir", "", "cache directory (implies --cache)")
	allocCmd.Flags().Bool("no-coalesce", false, "disable phi coalescing")
	allocCmd.Flags().Bool("moves", false, "print scheduled phi moves")
	allocCmd.Flags().String("frames", "", "msgpack map of exact frames for the post-codegen check")
}

var errInvalidColor = func(mode string) error {
	return fmt.Errorf("invalid --color %q (expected auto|on|off)", mode)
}

func runAlloc(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	opts, err := allocOptions(cmd)
	if err != nil {
		return err
	}
	m, err := readModule(args[0])
	if err != nil {
		return err
	}

	color, err := useColor(cmd)
	if err != nil {
		return err
	}
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	timings, _ := cmd.Root().PersistentFlags().GetBool("timings")
	moves, _ := cmd.Flags().GetBool("moves")

	res, runErr := pipeline.RunModule(cmd.Context(), m, opts)
	if res == nil {
		return runErr
	}
	if framesPath, _ := cmd.Flags().GetString("frames"); framesPath != "" && runErr == nil {
		frames, err := readFrames(framesPath)
		if err != nil {
			return err
		}
		_, runErr = res.CheckFinal(cmd.Context(), frames)
	}

	out := cmd.OutOrStdout()
	if quiet {
		report.WriteDiagnostics(out, res.Bag, color)
	} else if err := report.Write(out, res, report.Options{Color: color, Timings: timings, Moves: moves}); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("allocation failed: %w", runErr)
	}
	return nil
}

func allocOptions(cmd *cobra.Command) (pipeline.Options, error) {
	var opts pipeline.Options
	lim := limits.Default()
	if path, _ := cmd.Flags().GetString("limits"); path != "" {
		loaded, err := limits.Load(path)
		if err != nil {
			return opts, err
		}
		lim = loaded
	}
	if entries, _ := cmd.Flags().GetStringSlice("entry"); len(entries) > 0 {
		lim.EntryPoints = entries
	}
	opts.Limits = lim
	opts.Jobs, _ = cmd.Flags().GetInt("jobs")
	opts.NoCoalesce, _ = cmd.Flags().GetBool("no-coalesce")
	opts.MaxDiagnostics, _ = cmd.Root().PersistentFlags().GetInt("max-diagnostics")

	useCache, _ := cmd.Flags().GetBool("cache")
	dir, _ := cmd.Flags().GetString("cache-dir")
	if useCache || dir != "" {
		disk, err := openCache(dir)
		if err != nil {
			return opts, fmt.Errorf("cache: %w", err)
		}
		opts.Cache = cache.Tiered{Mem: cache.NewMemCache(64), Disk: disk}
	}
	return opts, nil
}

func openCache(dir string) (*cache.DiskCache, error) {
	if dir != "" {
		return cache.Open(dir)
	}
	return cache.OpenDefault("cardc")
}

func readModule(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m ir.Module
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: not a module dump: %w", path, err)
	}
	if len(m.Funcs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyModule)
	}
	return &m, nil
}

var errEmptyModule = errors.New("module has no functions")

func readFrames(path string) (map[string]callgraph.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var frames map[string]callgraph.Frame
	if err := msgpack.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("%s: not a frame map: %w", path, err)
	}
	return frames, nil
}
