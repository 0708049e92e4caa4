package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <dir>",
	Short: "List class files that reference members covered by the rules",
	Long:  "Scan only the constant pool of every class file under dir and list the ones a rewrite would have to look at.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	root := args[0]
	t, closer, err := newTransformer(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	files, err := classFiles(root)
	if err != nil {
		return err
	}

	candidate := color.New(color.FgYellow)
	n := 0
	for _, rel := range files {
		image, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return err
		}
		if t.MayNeedRewrite(image) {
			candidate.Fprintln(cmd.OutOrStdout(), className(rel))
			n++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d classes may need rewriting\n", n, len(files))
	return nil
}
