package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msi"
	"github.com/bisegni/msiq/pkg/streamname"
)

func newTablesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <file>",
		Short: "List the tables of a package",
		Long: `List every table of the package, including the system tables
_Tables, _Columns and _Streams, with its column count.

Examples:
  msiq tables setup.msi
  msiq tables setup.msi --format table`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(cmd.OutOrStdout(), o, args[0])
		},
	}
}

func runTables(w io.Writer, o *options, file string) error {
	pkg, done, err := openPackage(file)
	if err != nil {
		return err
	}
	defer done()
	return printTables(w, pkg, o)
}

func printTables(w io.Writer, pkg *msi.Package, o *options) error {
	db := pkg.Database()
	var rows []database.OrderedMap
	for _, name := range db.TableNames() {
		cols, err := db.TableSchema(name)
		if err != nil {
			return err
		}
		rows = append(rows, database.OrderedMap{
			{Key: "Table", Val: name},
			{Key: "Columns", Val: len(cols)},
		})
	}
	return printRows(w, o, []string{"Table", "Columns"}, rows)
}

func newSchemaCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <file> <table>",
		Short: "Show the columns of a table",
		Long: `Show the ordered column definitions of a table. Type uses the
MSI column definition notation: s72 string, L0 localizable string,
i2/i4 integers, v0 binary; upper case marks a nullable column.

Examples:
  msiq schema setup.msi File
  msiq schema setup.msi _Columns --format table`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, done, err := openPackage(args[0])
			if err != nil {
				return err
			}
			defer done()

			return printSchema(cmd.OutOrStdout(), pkg, o, args[1])
		},
	}
}

func printSchema(w io.Writer, pkg *msi.Package, o *options, table string) error {
	cols, err := pkg.Database().TableSchema(table)
	if err != nil {
		return err
	}
	rows := make([]database.OrderedMap, len(cols))
	for i, c := range cols {
		rows[i] = database.OrderedMap{
			{Key: "Number", Val: c.Number},
			{Key: "Name", Val: c.Name},
			{Key: "Type", Val: c.Definition()},
			{Key: "Kind", Val: c.Kind.String()},
			{Key: "Key", Val: c.PrimaryKey},
			{Key: "Nullable", Val: c.Nullable},
		}
	}
	return printRows(w, o, []string{"Number", "Name", "Type", "Kind", "Key", "Nullable"}, rows)
}

func newStreamsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "streams <file>",
		Short: "List the storages and streams of the container",
		Long: `List every entry of the compound file with its decoded name, kind,
size and CLSID. Table streams are marked; property sets keep their
\x05 prefix as "\005".

Examples:
  msiq streams setup.msi --format table`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, done, err := openPackage(args[0])
			if err != nil {
				return err
			}
			defer done()

			root := pkg.Container().Root()
			rows := []database.OrderedMap{entryRow(root, "/", false)}
			for _, e := range pkg.Container().ListEntries() {
				parts := strings.Split(e.Name, "/")
				table := false
				for i, p := range parts {
					parts[i], table = streamname.Decode(p)
				}
				rows = append(rows, entryRow(e, strings.Join(parts, "/"), table))
			}
			return printRows(cmd.OutOrStdout(), o, []string{"Name", "Kind", "Size", "Table", "CLSID"}, rows)
		},
	}
}

func entryRow(e cfb.Entry, name string, table bool) database.OrderedMap {
	var clsid any
	if e.Kind != cfb.KindStream {
		clsid = e.CLSID.String()
	}
	return database.OrderedMap{
		{Key: "Name", Val: strings.ReplaceAll(name, "\x05", `\005`)},
		{Key: "Kind", Val: e.Kind.String()},
		{Key: "Size", Val: e.Size},
		{Key: "Table", Val: table},
		{Key: "CLSID", Val: clsid},
	}
}
