package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/meigma/fieldarchive"
	"github.com/meigma/fieldarchive/backend"
)

const outputFlag = "output"

// entryInfo is one row of the list output.
type entryInfo struct {
	Name     string `json:"name"`
	Stored   int    `json:"stored"`
	Location uint32 `json:"location,omitempty"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list ARCHIVE",
		Short: "List the field entries of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := cmd.Flag(outputFlag).Value.String()
			c, stop, err := openCatalog(cmd, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			infos, err := listEntries(c)
			stop()
			if err != nil {
				return err
			}
			return encodeEntries(cmd.OutOrStdout(), format, infos)
		},
	}
	cmd.Flags().VarP(newEnum("table", "json", "yaml"), outputFlag, "o", "output format (table, json, yaml)")
	return cmd
}

func listEntries(c *fieldarchive.Catalog) ([]entryInfo, error) {
	entries := c.Entries()
	infos := make([]entryInfo, 0, len(entries))
	for _, e := range entries {
		raw, err := c.RawPayload(e, fieldarchive.PayloadPrimary)
		if err != nil {
			return nil, err
		}
		info := entryInfo{Name: e.Name(), Stored: len(raw)}
		switch l := e.Locator().(type) {
		case *backend.TOCLocator:
			info.Location = l.Offset
		case *backend.DiskLocator:
			info.Location, _ = l.Location()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func encodeEntries(w io.Writer, format string, infos []entryInfo) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, info := range infos {
			if err = enc.Encode(info); err != nil {
				break
			}
		}
		data = buf.Bytes()
	case "yaml":
		data, err = yaml.Marshal(infos)
	case "table":
		data = entriesTable(infos)
	default:
		err = fmt.Errorf("unknown output format: %q", format)
	}
	if err != nil {
		return fmt.Errorf("encoding entries as %q failed: %w", format, err)
	}
	_, err = w.Write(data)
	return err
}

func entriesTable(infos []entryInfo) []byte {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Entry", "Stored", "Location"})
	for _, info := range infos {
		loc := ""
		if info.Location != 0 {
			loc = fmt.Sprintf("%#x", info.Location)
		}
		t.AppendRow(table.Row{info.Name, info.Stored, loc})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return buf.Bytes()
}
