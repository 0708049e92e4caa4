package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [flags] <input-dir> <output-dir>",
	Short: "Rewrite every class file under a directory",
	Long:  "Rewrite every .class file under input-dir and write the results to the same relative paths under output-dir. Unchanged classes are copied.",
	Args:  cobra.ExactArgs(2),
	RunE:  runRewrite,
}

func init() {
	rewriteCmd.Flags().Bool("changed-only", false, "only write classes that were rewritten")
}

// className returns the internal class name for a path relative to a class
// path root.
func className(rel string) string {
	return strings.TrimSuffix(filepath.ToSlash(rel), ".class")
}

func classFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".class") {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

func runRewrite(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]

	changedOnly, err := cmd.Flags().GetBool("changed-only")
	if err != nil {
		return err
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	t, closer, err := newTransformer(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	files, err := classFiles(in)
	if err != nil {
		return err
	}

	var rewritten atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(max(jobs, 1))
	for _, rel := range files {
		g.Go(func() error {
			image, err := os.ReadFile(filepath.Join(in, rel))
			if err != nil {
				return err
			}
			result, err := t.Transform(className(rel), image)
			if err != nil {
				return err
			}
			changed := !bytes.Equal(image, result)
			if changed {
				rewritten.Add(1)
			} else if changedOnly {
				return nil
			}
			dst := filepath.Join(out, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			return os.WriteFile(dst, result, 0o644)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %d of %d classes\n",
		color.New(color.FgGreen, color.Bold).Sprint("rewrote"), rewritten.Load(), len(files))
	return nil
}
