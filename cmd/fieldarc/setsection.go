package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

const targetFlag = "target"

func newSetSectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-section ARCHIVE ENTRY SECTION FILE",
		Short: "Replace one section of an entry and save the archive",
		Long: `set-section replaces section SECTION of ENTRY with the contents of FILE
and saves the archive in place, or to --target. The archive is left
untouched if anything fails.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("section id %q: %w", args[2], err)
			}
			data, err := os.ReadFile(args[3])
			if err != nil {
				return err
			}

			c, stop, err := openCatalog(cmd, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			defer stop()

			e, err := c.Lookup(args[1])
			if err != nil {
				return err
			}
			if _, err := c.OpenEntry(e); err != nil {
				return err
			}
			if err := e.SetSection(id, data); err != nil {
				return err
			}
			target, _ := cmd.Flags().GetString(targetFlag)
			return c.Save(cmd.Context(), target)
		},
	}
	cmd.Flags().StringP(targetFlag, "t", "", "save to this path instead of overwriting the archive")
	return cmd
}
