package msitest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/bisegni/msiq/pkg/streamname"
)

// Root storage CLSIDs of the MSI document kinds.
var (
	InstallerCLSID = uuid.MustParse("000c1084-0000-0000-c000-000000000046")
	PatchCLSID     = uuid.MustParse("000c1086-0000-0000-c000-000000000046")
	TransformCLSID = uuid.MustParse("000c1082-0000-0000-c000-000000000046")
)

// Column type bits as stored in _Columns.
const (
	typeValid       = 0x0100
	typeLocalizable = 0x0200
	typeNonBinary   = 0x0400
	typeString      = 0x0800
	typeNullable    = 0x1000
	typeKey         = 0x2000
)

// Col is a column definition.
type Col struct {
	Name string
	Type int
}

// StringCol returns a string column of the given max size (0 = unbounded).
func StringCol(name string, size int, key, nullable bool) Col {
	return Col{Name: name, Type: flags(typeValid|typeNonBinary|typeString|size, key, nullable)}
}

// LocalizableCol returns a nullable, localizable string column.
func LocalizableCol(name string, size int) Col {
	return Col{Name: name, Type: typeValid | typeNonBinary | typeString | typeNullable | typeLocalizable | size}
}

// Int16Col returns a 2-byte integer column.
func Int16Col(name string, key, nullable bool) Col {
	return Col{Name: name, Type: flags(typeValid|typeNonBinary|2, key, nullable)}
}

// Int32Col returns a 4-byte integer column.
func Int32Col(name string, key, nullable bool) Col {
	return Col{Name: name, Type: flags(typeValid|4, key, nullable)}
}

// BinaryCol returns a stream column.
func BinaryCol(name string, nullable bool) Col {
	return Col{Name: name, Type: flags(typeValid|typeString, false, nullable)}
}

func flags(t int, key, nullable bool) int {
	if key {
		t |= typeKey
	}
	if nullable {
		t |= typeNullable
	}
	return t
}

func (c Col) isString() bool { return c.Type&typeString != 0 && c.Type&typeNonBinary != 0 }
func (c Col) isBinary() bool { return c.Type&typeString != 0 && c.Type&typeNonBinary == 0 }
func (c Col) isKey() bool    { return c.Type&typeKey != 0 }

// Table is a table definition with its rows. Row values are string for
// string columns, int for integer columns, []byte for binary columns (the
// stream payload) and nil for NULL.
type Table struct {
	Name    string
	Columns []Col
	Rows    [][]any
	// EmptyStream writes a zero-length row stream instead of omitting it
	// when the table has no rows.
	EmptyStream bool
}

// Package describes an MSI package to build.
type Package struct {
	Codepage       int // 0 means UTF-8 (65001)
	LongStringRefs bool
	CLSID          uuid.UUID // zero means InstallerCLSID
	Version        int
	Tables         []Table
	// Streams are extra root streams (shown by _Streams), keyed by their
	// decoded name.
	Streams map[string][]byte
	// Raw streams are added without name compression.
	Raw     []Stream
	Summary map[uint32]any
}

// IconTable is the standard Icon table.
func IconTable(rows ...[]any) Table {
	return Table{
		Name: "Icon",
		Columns: []Col{
			StringCol("Name", 72, true, false),
			BinaryCol("Data", false),
		},
		Rows: rows,
	}
}

// PropertyTable is the standard Property table.
func PropertyTable(pairs ...string) Table {
	t := Table{
		Name: "Property",
		Columns: []Col{
			StringCol("Property", 72, true, false),
			LocalizableCol("Value", 0),
		},
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Rows = append(t.Rows, []any{pairs[i], pairs[i+1]})
	}
	return t
}

type pool struct {
	index   map[string]int
	strings []string
	refs    []int
}

func (p *pool) ref(s string) int {
	if s == "" {
		return 0
	}
	if i, ok := p.index[s]; ok {
		p.refs[i-1]++
		return i
	}
	p.strings = append(p.strings, s)
	p.refs = append(p.refs, 1)
	p.index[s] = len(p.strings)
	return len(p.strings)
}

// Build returns the compound file bytes of the package.
func (pk Package) Build() []byte {
	codepage := pk.Codepage
	if codepage == 0 {
		codepage = 65001
	}
	refSize := 2
	if pk.LongStringRefs {
		refSize = 3
	}

	sp := &pool{index: map[string]int{}}
	var streams []Stream
	addTable := func(name string, data []byte) {
		streams = append(streams, Stream{Name: streamname.Encode(name, true), Data: data})
	}

	tables := append([]Table(nil), pk.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	// _Tables
	var tablesCol []byte
	for _, t := range tables {
		tablesCol = putRef(tablesCol, sp.ref(t.Name), refSize)
	}

	// _Columns, column-major.
	var colTable, colNumber, colName, colType []byte
	for _, t := range tables {
		for i, c := range t.Columns {
			colTable = putRef(colTable, sp.ref(t.Name), refSize)
			colNumber = binary.LittleEndian.AppendUint16(colNumber, uint16(i+1)^0x8000)
			colName = putRef(colName, sp.ref(c.Name), refSize)
			colType = binary.LittleEndian.AppendUint16(colType, uint16(c.Type)^0x8000)
		}
	}
	columns := append(append(append(colTable, colNumber...), colName...), colType...)

	for _, t := range tables {
		if len(t.Rows) == 0 {
			if t.EmptyStream {
				addTable(t.Name, []byte{})
			}
			continue
		}
		var data []byte
		for ci, c := range t.Columns {
			for _, row := range t.Rows {
				v := row[ci]
				switch {
				case c.isBinary():
					present := 0
					if v != nil {
						present = 1
						name := t.Name + "." + rowKey(t, row)
						streams = append(streams, Stream{Name: streamname.Encode(name, false), Data: v.([]byte)})
					}
					data = binary.LittleEndian.AppendUint16(data, uint16(present))
				case c.isString():
					r := 0
					if v != nil {
						r = sp.ref(v.(string))
					}
					data = putRef(data, r, refSize)
				case c.Type&0xff == 4:
					var u uint32
					if v != nil {
						u = uint32(int32(v.(int))) ^ 0x80000000
					}
					data = binary.LittleEndian.AppendUint32(data, u)
				default:
					var u uint16
					if v != nil {
						u = uint16(int16(v.(int))) ^ 0x8000
					}
					data = binary.LittleEndian.AppendUint16(data, u)
				}
			}
		}
		addTable(t.Name, data)
	}

	addTable("_Tables", tablesCol)
	addTable("_Columns", columns)
	poolData, stringData := sp.encode(codepage, pk.LongStringRefs)
	addTable("_StringPool", poolData)
	addTable("_StringData", stringData)

	names := make([]string, 0, len(pk.Streams))
	for name := range pk.Streams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		streams = append(streams, Stream{Name: streamname.Encode(name, false), Data: pk.Streams[name]})
	}
	if pk.Summary != nil {
		streams = append(streams, Stream{Name: "\x05SummaryInformation", Data: BuildSummary(pk.Summary)})
	}
	streams = append(streams, pk.Raw...)

	clsid := pk.CLSID
	if clsid == uuid.Nil {
		clsid = InstallerCLSID
	}
	return BuildCFB(CFBOptions{Version: pk.Version, RootCLSID: clsid}, streams)
}

func rowKey(t Table, row []any) string {
	var keys []string
	for i, c := range t.Columns {
		if !c.isKey() {
			continue
		}
		switch v := row[i].(type) {
		case string:
			keys = append(keys, v)
		case int:
			keys = append(keys, strconv.Itoa(v))
		default:
			panic(fmt.Sprintf("msitest: key %s of %s is %T", c.Name, t.Name, v))
		}
	}
	return strings.Join(keys, ".")
}

func putRef(b []byte, ref, size int) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(ref))
	if size == 3 {
		b = append(b, byte(ref>>16))
	}
	return b
}

func (p *pool) encode(codepage int, long bool) ([]byte, []byte) {
	header := uint32(codepage)
	if long {
		header |= 0x80000000
	}
	poolData := binary.LittleEndian.AppendUint32(nil, header)
	var data []byte
	for i, s := range p.strings {
		raw := []byte(s)
		if codepage == 1252 {
			enc, err := charmap.Windows1252.NewEncoder().String(s)
			if err != nil {
				panic(err)
			}
			raw = []byte(enc)
		}
		data = append(data, raw...)
		if len(raw) > 0xFFFF {
			poolData = binary.LittleEndian.AppendUint16(poolData, 0)
			poolData = binary.LittleEndian.AppendUint16(poolData, uint16(len(raw)>>16))
			poolData = binary.LittleEndian.AppendUint16(poolData, uint16(len(raw)))
		} else {
			poolData = binary.LittleEndian.AppendUint16(poolData, uint16(len(raw)))
		}
		poolData = binary.LittleEndian.AppendUint16(poolData, uint16(p.refs[i]))
	}
	return poolData, data
}

// WriteFile builds pk into a file under t.TempDir and returns its path.
func WriteFile(t testing.TB, pk Package) string {
	t.Helper()
	return WriteBytes(t, pk.Build())
}

// WriteBytes writes raw bytes to a temporary .msi file.
func WriteBytes(t testing.TB, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.msi")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// Payload returns n deterministic bytes.
func Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
