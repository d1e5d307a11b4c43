package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msi"
	"github.com/bisegni/msiq/pkg/msierr"
)

var infoHeaders = []string{
	"File", "Type", "Codepage", "Tables", "Title", "Subject", "Author",
	"Template", "PackageCode", "Created", "AppName",
}

func newInfoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>...",
		Short: "Show package type and summary information",
		Long: `Show the package type, string pool codepage, table count and the
summary information stream of one or more packages. Files are read
concurrently; output keeps argument order.

Examples:
  msiq info setup.msi
  msiq info *.msi --format table`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]database.OrderedMap, len(args))

			var g errgroup.Group
			for i, file := range args {
				i, file := i, file
				g.Go(func() error {
					row, err := packageInfo(file)
					if err != nil {
						return err
					}
					rows[i] = row
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printRows(cmd.OutOrStdout(), o, infoHeaders, rows)
		},
	}
}

// packageInfo opens file in its own container and summarizes it.
func packageInfo(file string) (database.OrderedMap, error) {
	pkg, err := msi.Open(file)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	db := pkg.Database()
	row := database.OrderedMap{
		{Key: "File", Val: file},
		{Key: "Type", Val: db.PackageType().String()},
		{Key: "Codepage", Val: db.Codepage()},
		{Key: "Tables", Val: len(db.TableNames())},
	}

	si, err := db.SummaryInfo()
	switch {
	case errors.Is(err, msierr.ErrStreamNotFound):
		return row, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	var created any
	if !si.Created.IsZero() {
		created = si.Created.Format(time.RFC3339)
	}
	return append(row,
		database.KeyVal{Key: "Title", Val: si.Title},
		database.KeyVal{Key: "Subject", Val: si.Subject},
		database.KeyVal{Key: "Author", Val: si.Author},
		database.KeyVal{Key: "Template", Val: si.Template},
		database.KeyVal{Key: "PackageCode", Val: si.Revision},
		database.KeyVal{Key: "Created", Val: created},
		database.KeyVal{Key: "AppName", Val: si.AppName},
	), nil
}
