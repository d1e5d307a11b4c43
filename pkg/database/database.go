// Package database exposes the relational view of an MSI package: the
// string pool, the table schema from _Tables and _Columns, lazily decoded
// table rows, stream references of binary cells and the summary
// information property set.
package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/streamname"
)

// Container is the read access a Database needs. *cfb.Container
// implements it.
type Container interface {
	Path() string
	Root() cfb.Entry
	ListEntries() []cfb.Entry
	Entry(name string) (cfb.Entry, bool)
	ReadEntry(name string, offset int64, maxLen int) ([]byte, error)
}

// PackageType is the kind of MSI document, identified by the root CLSID.
type PackageType int

const (
	PackageInstaller PackageType = iota + 1
	PackagePatch
	PackageTransform
)

func (t PackageType) String() string {
	switch t {
	case PackageInstaller:
		return "installer"
	case PackagePatch:
		return "patch"
	case PackageTransform:
		return "transform"
	default:
		return "unknown"
	}
}

var packageCLSIDs = map[uuid.UUID]PackageType{
	uuid.MustParse("000c1084-0000-0000-c000-000000000046"): PackageInstaller,
	uuid.MustParse("000c1086-0000-0000-c000-000000000046"): PackagePatch,
	uuid.MustParse("000c1082-0000-0000-c000-000000000046"): PackageTransform,
}

// System table names.
const (
	TablesTable  = "_Tables"
	ColumnsTable = "_Columns"
	StreamsTable = "_Streams"

	stringPoolStream = "_StringPool"
	stringDataStream = "_StringData"
)

// Database is the parsed schema of a package. It borrows the Container,
// which must stay open while the Database is used.
type Database struct {
	c       Container
	pool    *StringPool
	kind    PackageType
	catalog *Catalog

	// tableEntries maps decoded table names to raw entry names.
	tableEntries map[string]string
	// streams maps decoded names of non-table root streams to raw entry
	// names.
	streams map[string]string
}

// Load parses the system tables of the package in c.
func Load(c Container) (*Database, error) {
	log := logging.WithFile(c.Path())

	root := c.Root()
	kind, ok := packageCLSIDs[root.CLSID]
	if !ok {
		return nil, fmt.Errorf("%w: %s: root storage class %s", msierr.ErrNotAnMsiContainer, c.Path(), root.CLSID)
	}

	db := &Database{
		c:            c,
		kind:         kind,
		catalog:      NewCatalog(),
		tableEntries: make(map[string]string),
		streams:      make(map[string]string),
	}
	db.indexStreams()

	poolEntry, ok := db.tableEntries[stringPoolStream]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no string pool", msierr.ErrNotAnMsiContainer, c.Path())
	}
	dataEntry, ok := db.tableEntries[stringDataStream]
	if !ok {
		return nil, db.corrupt("no string data")
	}
	poolBytes, err := db.readWhole(poolEntry)
	if err != nil {
		return nil, err
	}
	dataBytes, err := db.readWhole(dataEntry)
	if err != nil {
		return nil, err
	}
	if db.pool, err = parseStringPool(poolBytes, dataBytes); err != nil {
		return nil, db.corrupt("%v", err)
	}
	if !SupportedCodepage(db.pool.codepage) {
		log.Warn("unsupported codepage, strings decoded as UTF-8 or Windows-1252", "codepage", db.pool.codepage)
	}

	names, err := db.loadTableNames()
	if err != nil {
		return nil, err
	}
	schemas, err := db.loadColumns(names)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		t, err := db.newTable(name, schemas[name])
		if err != nil {
			return nil, err
		}
		db.catalog.RegisterTable(t)
	}
	for _, sys := range []struct {
		name string
		cols []Column
	}{
		{TablesTable, tablesSchema},
		{ColumnsTable, columnsSchema},
	} {
		t, err := db.newTable(sys.name, sys.cols)
		if err != nil {
			return nil, err
		}
		db.catalog.RegisterTable(t)
	}
	db.catalog.RegisterTable(newStreamsTable(db))

	log.Debug("schema loaded",
		"package", kind,
		"codepage", db.pool.codepage,
		"strings", db.pool.Len()-1,
		"tables", len(names),
		"streams", len(db.streams))
	return db, nil
}

// indexStreams decodes the names of all root-level streams.
func (db *Database) indexStreams() {
	for _, e := range db.c.ListEntries() {
		if e.Kind != cfb.KindStream || strings.Contains(e.Name, "/") {
			continue
		}
		name, table := streamname.Decode(e.Name)
		if table {
			db.tableEntries[name] = e.Name
			continue
		}
		db.streams[name] = e.Name
	}
}

func (db *Database) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", msierr.ErrCorruptSchema, db.c.Path(), fmt.Sprintf(format, args...))
}

func (db *Database) readWhole(entry string) ([]byte, error) {
	e, ok := db.c.Entry(entry)
	if !ok {
		return nil, fmt.Errorf("%w: %q", msierr.ErrEntryNotFound, entry)
	}
	return db.c.ReadEntry(entry, 0, int(e.Size))
}

func (db *Database) loadTableNames() ([]string, error) {
	entry, ok := db.tableEntries[TablesTable]
	if !ok {
		return nil, db.corrupt("no %s table", TablesTable)
	}
	raw, err := db.readWhole(entry)
	if err != nil {
		return nil, err
	}
	refSize := db.pool.RefSize()
	if len(raw)%refSize != 0 {
		return nil, db.corrupt("%s is %d bytes, not a multiple of %d", TablesTable, len(raw), refSize)
	}
	names := make([]string, 0, len(raw)/refSize)
	seen := make(map[string]bool)
	for off := 0; off < len(raw); off += refSize {
		name, err := db.pool.Get(db.pool.readRef(raw[off:]))
		if err != nil {
			return nil, db.corrupt("%s: %v", TablesTable, err)
		}
		if name == "" || seen[name] {
			return nil, db.corrupt("%s lists %q twice or empty", TablesTable, name)
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

func (db *Database) loadColumns(tables []string) (map[string][]Column, error) {
	entry, ok := db.tableEntries[ColumnsTable]
	if !ok {
		return nil, db.corrupt("no %s table", ColumnsTable)
	}
	raw, err := db.readWhole(entry)
	if err != nil {
		return nil, err
	}
	refSize := db.pool.RefSize()
	width := 2*refSize + 4
	if len(raw)%width != 0 {
		return nil, db.corrupt("%s is %d bytes, not a multiple of its row width %d", ColumnsTable, len(raw), width)
	}
	rows := len(raw) / width

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t] = true
	}

	tableCol := raw[:rows*refSize]
	numberCol := raw[rows*refSize : rows*(refSize+2)]
	nameCol := raw[rows*(refSize+2) : rows*(2*refSize+2)]
	typeCol := raw[rows*(2*refSize+2):]

	schemas := make(map[string][]Column)
	for i := 0; i < rows; i++ {
		table, err := db.pool.Get(db.pool.readRef(tableCol[i*refSize:]))
		if err != nil {
			return nil, db.corrupt("%s row %d: %v", ColumnsTable, i, err)
		}
		name, err := db.pool.Get(db.pool.readRef(nameCol[i*refSize:]))
		if err != nil {
			return nil, db.corrupt("%s row %d: %v", ColumnsTable, i, err)
		}
		if !known[table] {
			return nil, db.corrupt("%s defines column %q of unlisted table %q", ColumnsTable, name, table)
		}
		number := int(decodeInt16(numberCol[2*i:]))
		typ := int(decodeInt16(typeCol[2*i:]))
		col, err := ParseColumnType(name, number, typ)
		if err != nil {
			return nil, db.corrupt("table %s: %v", table, err)
		}
		schemas[table] = append(schemas[table], col)
	}

	for _, t := range tables {
		cols := schemas[t]
		if len(cols) == 0 {
			return nil, db.corrupt("table %s has no columns", t)
		}
		sort.Slice(cols, func(i, j int) bool { return cols[i].Number < cols[j].Number })
		for i, c := range cols {
			if c.Number != i+1 {
				return nil, db.corrupt("table %s: column %q has number %d, expected %d", t, c.Name, c.Number, i+1)
			}
		}
	}
	return schemas, nil
}

// TableSchema returns the ordered columns of the named table.
func (db *Database) TableSchema(name string) ([]Column, error) {
	t, err := db.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	return t.Columns(), nil
}

// TableNames returns every table name, including the system tables
// _Tables, _Columns and _Streams, sorted.
func (db *Database) TableNames() []string {
	return db.catalog.Names()
}

// Table returns the named table.
func (db *Database) Table(name string) (Table, error) {
	return db.catalog.GetTable(name)
}

// PackageType returns the document kind named by the root CLSID.
func (db *Database) PackageType() PackageType { return db.kind }

// Codepage returns the codepage of the string pool.
func (db *Database) Codepage() int { return db.pool.codepage }

// StringPool returns the decoded string pool.
func (db *Database) StringPool() *StringPool { return db.pool }

// Container returns the container the database reads from.
func (db *Database) Container() Container { return db.c }

// StreamNames returns the decoded names of the root streams that are not
// table streams, sorted. Property-set streams ("\x05...") are included.
func (db *Database) StreamNames() []string {
	names := make([]string, 0, len(db.streams))
	for name := range db.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamRef resolves a decoded stream name.
func (db *Database) StreamRef(name string) (StreamRef, error) {
	entry, ok := db.streams[name]
	if !ok {
		return StreamRef{}, fmt.Errorf("%w: %q in %s", msierr.ErrStreamNotFound, name, db.c.Path())
	}
	table := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		table = name[:i]
	}
	return StreamRef{Table: table, Name: name, Entry: entry}, nil
}
