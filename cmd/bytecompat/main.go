package main

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pboyd/bytecompat"
)

var rootCmd = &cobra.Command{
	Use:           "bytecompat",
	Short:         "Rewrite Java class files against changed member types",
	Long:          `bytecompat rewrites field and method accesses in compiled classes so they work with both the old and the new shape of a dependency.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(dumpCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log every rewritten class")
	rootCmd.PersistentFlags().StringSlice("rules", nil, "TOML rule file (repeatable)")
	rootCmd.PersistentFlags().StringSlice("index", nil, "rule index written by \"bytecompat index\" (repeatable)")
	rootCmd.PersistentFlags().StringSlice("classpath", nil, "directory or jar with the classes being referenced (repeatable)")
	rootCmd.PersistentFlags().Int("jobs", 4, "number of files processed at once")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		mode, err := cmd.Flags().GetString("color")
		if err != nil {
			return err
		}
		switch mode {
		case "on":
			color.NoColor = false
		case "off":
			color.NoColor = true
		case "auto":
			color.NoColor = !isTerminal(os.Stdout)
		default:
			return fmt.Errorf("--color must be auto, on or off, not %q", mode)
		}
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func logger(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// newTransformer builds a Transformer from the persistent flags. The
// returned closer releases any jars opened for the class path.
func newTransformer(cmd *cobra.Command) (*bytecompat.Transformer, io.Closer, error) {
	flags := cmd.Flags()
	log, err := logger(cmd)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := flags.GetInt("jobs")
	if err != nil {
		return nil, nil, err
	}
	classpath, err := flags.GetStringSlice("classpath")
	if err != nil {
		return nil, nil, err
	}
	cp, closer, err := openClassPath(classpath)
	if err != nil {
		return nil, nil, err
	}

	t := bytecompat.New(
		bytecompat.WithLogger(log),
		bytecompat.WithLocator(bytecompat.NewCachingLocator(cp)),
		bytecompat.WithConcurrency(jobs),
	)

	sources, err := ruleSources(cmd)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	if err := t.LoadRules(context.Background(), sources...); err != nil {
		closer.Close()
		return nil, nil, err
	}
	if t.Rules() == 0 {
		closer.Close()
		return nil, nil, fmt.Errorf("no rules loaded, use --rules or --index")
	}
	return t, closer, nil
}

func ruleSources(cmd *cobra.Command) ([]bytecompat.RuleSource, error) {
	rules, err := cmd.Flags().GetStringSlice("rules")
	if err != nil {
		return nil, err
	}
	indexes, err := cmd.Flags().GetStringSlice("index")
	if err != nil {
		return nil, err
	}
	var sources []bytecompat.RuleSource
	for _, path := range rules {
		sources = append(sources, bytecompat.TOMLFile(path))
	}
	for _, path := range indexes {
		sources = append(sources, bytecompat.IndexFile(path))
	}
	return sources, nil
}

type closers []io.Closer

func (c closers) Close() error {
	for _, cl := range c {
		cl.Close()
	}
	return nil
}

func openClassPath(entries []string) (bytecompat.ClassPath, io.Closer, error) {
	var (
		cp   bytecompat.ClassPath
		open closers
	)
	for _, entry := range entries {
		if strings.HasSuffix(entry, ".jar") || strings.HasSuffix(entry, ".zip") {
			z, err := zip.OpenReader(entry)
			if err != nil {
				open.Close()
				return nil, nil, err
			}
			open = append(open, z)
			cp = append(cp, fs.FS(z))
			continue
		}
		info, err := os.Stat(entry)
		if err != nil {
			open.Close()
			return nil, nil, err
		}
		if !info.IsDir() {
			open.Close()
			return nil, nil, fmt.Errorf("%s: class path entries must be directories or jars", entry)
		}
		cp = append(cp, os.DirFS(entry))
	}
	return cp, open, nil
}
