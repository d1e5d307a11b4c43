package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msi"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/stream"
)

func newExtractCmd(o *options) *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract <file> <table> <column>",
		Short: "Write every stream of a binary column to a directory",
		Long: `Write the stream of every row of a binary column to its own file.
Files are named after the row's primary key values joined by ".".
NULL cells are skipped.

Examples:
  msiq extract setup.msi Icon Data -d icons
  msiq extract setup.msi Binary Data --where "Name = 'CustomActionDll'"
  msiq extract setup.msi _Streams Data -d streams`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, done, err := openPackage(args[0])
			if err != nil {
				return err
			}
			defer done()

			n, err := extractColumn(cmd.OutOrStdout(), pkg, args[1], args[2], o)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: %s.%s has no streams to extract", msierr.ErrNoData, args[1], args[2])
			}
			return nil
		},
	}
	extractCmd.Flags().StringVarP(&o.outputDir, "dir", "d", "", "Output directory (default from config, else .)")
	extractCmd.Flags().StringVar(&o.where, "where", "", "Row condition, as in a WHERE clause")
	return extractCmd
}

// extractColumn writes each non-NULL stream of table.column into
// o.cfg.OutputDir and prints the written paths. It returns the number of
// files written.
func extractColumn(w io.Writer, pkg *msi.Package, table, column string, o *options) (int, error) {
	schema, err := pkg.Database().TableSchema(table)
	if err != nil {
		return 0, err
	}

	var keys []string
	found := false
	for _, c := range schema {
		if c.PrimaryKey {
			keys = append(keys, quoteIdent(c.Name))
		}
		if c.Name == column {
			found = true
			if c.Kind != database.KindBinary {
				return 0, fmt.Errorf("%w: %s.%s is %s, not a stream", msierr.ErrTypeMismatch, table, column, c.Kind)
			}
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %s in table %s", msierr.ErrUnknownColumn, column, table)
	}

	text := fmt.Sprintf("SELECT %s FROM %s", strings.Join(append(keys, quoteIdent(column)), ", "), quoteIdent(table))
	if o.where != "" {
		text += " WHERE " + o.where
	}
	cur, err := pkg.Query(text)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	dir := o.cfg.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", msierr.ErrIO, dir, err)
	}

	written := 0
	for {
		ok, err := cur.Fetch()
		if err != nil {
			return written, err
		}
		if !ok {
			return written, nil
		}

		ref, err := cur.GetStreamRef(len(keys) + 1)
		if err != nil {
			return written, err
		}
		if !ref.Valid() {
			continue
		}
		parts := make([]string, len(keys))
		for i := range keys {
			if parts[i], err = cur.GetString(i + 1); err != nil {
				return written, err
			}
		}

		path := filepath.Join(dir, fileName(parts))
		n, err := writeAtomic(path, stream.NewReader(pkg.Container(), ref, o.cfg.ChunkSize))
		if err != nil {
			return written, err
		}
		logging.WithEntry(pkg.Path(), ref.Name).Debug("stream extracted", "table", table, "path", path, "bytes", n)
		fmt.Fprintln(w, path)
		written++
	}
}

// fileName joins key values into a name safe to use inside one directory.
func fileName(keys []string) string {
	name := strings.Join(keys, ".")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "stream"
	}
	return name
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}
