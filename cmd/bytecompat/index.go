package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pboyd/bytecompat"
)

var indexCmd = &cobra.Command{
	Use:   "index [flags] -o <file> <rules.toml>...",
	Short: "Compile TOML rule files into a rule index",
	Long:  "Read TOML rule files and write their declarations as one msgpack rule index, which loads faster and can be shipped next to a library.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().StringP("output", "o", "", "index file to write")
	indexCmd.MarkFlagRequired("output")
}

func runIndex(cmd *cobra.Command, args []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	var decls []bytecompat.Declaration
	for _, path := range args {
		d, err := bytecompat.TOMLFile(path).Declarations(context.Background())
		if err != nil {
			return err
		}
		decls = append(decls, d...)
	}

	// Load them once so a broken rule is reported now rather than when the
	// index is used.
	log, err := logger(cmd)
	if err != nil {
		return err
	}
	t := bytecompat.New(bytecompat.WithLogger(log))
	if err := t.LoadRules(context.Background(), bytecompat.Declarations(decls)); err != nil {
		return err
	}

	if err := bytecompat.WriteIndex(output, decls); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d declarations (%d rules) to %s\n",
		color.New(color.FgGreen, color.Bold).Sprint("wrote"), len(decls), t.Rules(), output)
	return nil
}
