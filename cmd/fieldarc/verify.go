package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/meigma/fieldarchive"
)

const workersFlag = "workers"

var errVerifyFailed = errors.New("verification failed")

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify ARCHIVE",
		Short: "Decode every entry and report the ones that fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt(workersFlag)
			c, stop, err := openCatalog(cmd, args[0], fieldarchive.WithVerifyWorkers(workers))
			if err != nil {
				return err
			}
			defer c.Close()

			results, err := c.Verify(cmd.Context())
			stop()
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			t := table.NewWriter()
			t.SetOutputMirror(&buf)
			t.AppendHeader(table.Row{"Entry", "Size", "Error"})
			failed := 0
			for _, r := range results {
				if r.Err == nil {
					continue
				}
				failed++
				t.AppendRow(table.Row{r.Name, r.Size, r.Err.Error()})
			}
			if failed > 0 {
				style := table.StyleLight
				style.Options.DrawBorder = false
				t.SetStyle(style)
				t.Render()
			}
			fmt.Fprintf(&buf, "%d entries, %d failed\n", len(results), failed)
			if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
				return err
			}
			if failed > 0 {
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().Int(workersFlag, 0, "entries decoded at once (0 uses GOMAXPROCS)")
	return cmd
}
