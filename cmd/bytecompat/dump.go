package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pboyd/bytecompat/internal/classfile"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file.class>",
	Short: "Disassemble the method bodies of a class file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		listing, err := classfile.Disassemble(image)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), listing)
		return nil
	},
}
