package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/fieldarchive"
)

const (
	sectionFlag = "section"
	kindFlag    = "kind"
	rawFlag     = "raw"
	outFlag     = "out"
)

var payloadKinds = map[string]fieldarchive.PayloadKind{
	"primary": fieldarchive.PayloadPrimary,
	"mim":     fieldarchive.PayloadAux1,
	"bsx":     fieldarchive.PayloadAux2,
}

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract ARCHIVE ENTRY",
		Short: "Write a payload or one section of an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, stop, err := openCatalog(cmd, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			stop()

			data, err := extract(cmd, c, args[1])
			if err != nil {
				return err
			}
			if out, _ := cmd.Flags().GetString(outFlag); out != "" {
				return os.WriteFile(out, data, 0o600)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().IntP(sectionFlag, "s", -1, "section id to extract instead of the whole payload")
	cmd.Flags().VarP(newEnum("primary", "mim", "bsx"), kindFlag, "k", "payload kind (primary, mim, bsx)")
	cmd.Flags().Bool(rawFlag, false, "write the stored bytes without decompressing")
	cmd.Flags().StringP(outFlag, "f", "", "write to a file instead of standard output")
	return cmd
}

func extract(cmd *cobra.Command, c *fieldarchive.Catalog, name string) ([]byte, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	kind := payloadKinds[cmd.Flag(kindFlag).Value.String()]
	id, _ := cmd.Flags().GetInt(sectionFlag)
	raw, _ := cmd.Flags().GetBool(rawFlag)

	switch {
	case raw && id >= 0:
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", rawFlag, sectionFlag)
	case raw:
		return c.RawPayload(e, kind)
	case id >= 0:
		if kind != fieldarchive.PayloadPrimary {
			return nil, fmt.Errorf("sections exist only in the primary payload")
		}
		if _, err := c.OpenEntry(e); err != nil {
			return nil, err
		}
		return e.Section(id)
	default:
		return c.Payload(e, kind)
	}
}
