package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meigma/fieldarchive"
	"github.com/meigma/fieldarchive/backend"
)

const (
	maxRecordsFlag = "max-records"
	fieldDirFlag   = "field-dir"
	progressFlag   = "progress"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fieldarc [sub-command]",
		Short: "Inspect and edit field archives",
		Long: `fieldarc works with field archives stored as a directory of .DAT files,
a single .DAT file, a table-of-contents archive, or a disk image.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	registerLoggingFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().Int(maxRecordsFlag, 0, "maximum record count accepted in a table of contents (0 uses the default)")
	cmd.PersistentFlags().String(fieldDirFlag, "", "directory holding the field files inside a disk image")
	cmd.PersistentFlags().Bool(progressFlag, false, "render progress bars on standard error")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newExtractCommand())
	cmd.AddCommand(newSetSectionCommand())
	cmd.AddCommand(newVerifyCommand())
	return cmd
}

// openCatalog opens and enumerates the archive at path using the global
// flags. The returned stop function ends progress rendering.
func openCatalog(cmd *cobra.Command, path string, opts ...fieldarchive.Option) (*fieldarchive.Catalog, func(), error) {
	logger, err := baseLogger(cmd)
	if err != nil {
		return nil, nil, err
	}

	var bopts []backend.Option
	if n, _ := cmd.Flags().GetInt(maxRecordsFlag); n > 0 {
		bopts = append(bopts, backend.WithMaxRecords(n))
	}
	if dir, _ := cmd.Flags().GetString(fieldDirFlag); dir != "" {
		bopts = append(bopts, backend.WithFieldDir(dir))
	}

	stop := func() {}
	if show, _ := cmd.Flags().GetBool(progressFlag); show {
		var fn fieldarchive.ProgressFunc
		fn, stop = startProgress(cmd)
		opts = append(opts, fieldarchive.WithProgress(fn))
	}

	opts = append([]fieldarchive.Option{
		fieldarchive.WithLogger(logger),
		fieldarchive.WithBackendOptions(bopts...),
	}, opts...)
	c, err := fieldarchive.OpenPath(path, opts...)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := c.Open(cmd.Context()); err != nil {
		stop()
		_ = c.Close()
		return nil, nil, err
	}
	logger.Debug("archive opened", slog.String("path", path), slog.Int("entries", len(c.Entries())))
	return c, stop, nil
}
