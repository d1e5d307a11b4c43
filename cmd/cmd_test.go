package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisegni/msiq/internal/msitest"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msi"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/stream"
)

var icon = msitest.Payload(5000)

func fixture() msitest.Package {
	return msitest.Package{
		Tables: []msitest.Table{
			msitest.PropertyTable("ProductName", "Demo", "ProductVersion", "1.2.3"),
			msitest.IconTable(
				[]any{"app.ico", icon},
				[]any{"small.ico", []byte{0, 0, 1, 0}},
			),
			{
				Name: "Media",
				Columns: []msitest.Col{
					msitest.Int16Col("DiskId", true, false),
					msitest.StringCol("Cabinet", 255, false, true),
				},
				Rows: [][]any{{1, "#data.cab"}, {2, nil}},
			},
		},
		Summary: map[uint32]any{
			1:  1252,
			2:  "Installation Database",
			4:  "Acme",
			9:  "{11111111-2222-3333-4444-555555555555}",
			12: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

// run executes the command tree with a config environment isolated under
// workDir.
func run(t *testing.T, workDir string, args ...string) (string, error) {
	t.Helper()
	o := &options{workDir: workDir, env: []string{"XDG_CONFIG_HOME=" + filepath.Join(workDir, "xdg")}}
	root := newRootCmd(o)
	var out, stderr bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQueryPrintsJSONLines(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), file, "SELECT Cabinet, DiskId FROM Media")
	require.NoError(t, err)
	assert.Equal(t, `{"Cabinet":"#data.cab","DiskId":1}`+"\n"+`{"Cabinet":null,"DiskId":2}`+"\n", out)
}

func TestQueryTableFormat(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), file, "SELECT * FROM Media", "--format", "table")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "DiskId")
	assert.Contains(t, lines[0], "Cabinet")
	assert.Contains(t, lines[1], "─┼─")
	assert.Contains(t, lines[2], "#data.cab")
	assert.Contains(t, lines[3], "NULL")
	assert.Equal(t, "(2 rows)", lines[4])
}

func TestExplain(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), file, "SELECT Name FROM Icon WHERE Name = 'app.ico'", "--explain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Output: [Name]\n"), out)
	assert.Contains(t, out, "Filter(")
	assert.Contains(t, out, "Scan(table: Icon, columns: 2)")
}

func TestOutputWritesFirstStream(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	dest := filepath.Join(t.TempDir(), "app.ico")

	for _, chunk := range []string{"2048", "100", "5000"} {
		t.Run(chunk, func(t *testing.T) {
			out, err := run(t, t.TempDir(), file, "SELECT Data FROM Icon", "-o", dest, "--chunk-size", chunk)
			require.NoError(t, err)
			assert.Empty(t, out)

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, icon, got)
		})
	}
}

// chunkLog records the size of every request and of every chunk returned.
type chunkLog struct {
	src       stream.EntryReader
	requested []int
	returned  []int
}

func (l *chunkLog) ReadEntry(name string, offset int64, maxLen int) ([]byte, error) {
	l.requested = append(l.requested, maxLen)
	b, err := l.src.ReadEntry(name, offset, maxLen)
	l.returned = append(l.returned, len(b))
	return b, err
}

func TestWriteAtomicReadsConfiguredChunks(t *testing.T) {
	pkg, err := msi.Open(msitest.WriteFile(t, fixture()))
	require.NoError(t, err)
	defer pkg.Close()

	ref, err := pkg.FirstStreamRef("SELECT Data FROM Icon WHERE Name = 'app.ico'")
	require.NoError(t, err)

	tests := []struct {
		chunk     int
		requested []int
		returned  []int
	}{
		{2048, []int{2048, 2048, 2048}, []int{2048, 2048, 904}},
		{4096, []int{4096, 4096}, []int{4096, 904}},
		{5000, []int{5000, 5000}, []int{5000, 0}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.chunk), func(t *testing.T) {
			log := &chunkLog{src: pkg.Container()}
			dest := filepath.Join(t.TempDir(), "app.ico")

			n, err := writeAtomic(dest, stream.NewReader(log, ref, tt.chunk))
			require.NoError(t, err)
			assert.Equal(t, int64(len(icon)), n)
			assert.Equal(t, tt.requested, log.requested)
			assert.Equal(t, tt.returned, log.returned)

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, icon, got)
		})
	}
}

func TestOutputErrors(t *testing.T) {
	empty := msitest.WriteFile(t, msitest.Package{Tables: []msitest.Table{msitest.IconTable()}})
	dest := filepath.Join(t.TempDir(), "out.ico")

	_, err := run(t, t.TempDir(), empty, "SELECT Data FROM Icon", "-o", dest)
	assert.ErrorIs(t, err, msierr.ErrNoData)
	assert.Equal(t, ExitNoData, ExitCode(err))
	assert.NoFileExists(t, dest)

	file := msitest.WriteFile(t, fixture())
	_, err = run(t, t.TempDir(), file, "SELECT Name FROM Icon", "-o", dest)
	assert.Equal(t, ExitTypeMismatch, ExitCode(err))
}

func TestOutputFlagsRequireQuery(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	dest := filepath.Join(t.TempDir(), "app.ico")

	for _, args := range [][]string{
		{file, "-o", dest},
		{file, "--explain"},
	} {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			out, err := run(t, t.TempDir(), args...)
			require.Error(t, err)
			assert.Equal(t, ExitGeneric, ExitCode(err))
			assert.Empty(t, out)
			assert.NoFileExists(t, dest)
		})
	}
}

func TestOutputLogsWrittenEntry(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	workDir := t.TempDir()
	dest := filepath.Join(workDir, "app.ico")

	o := &options{workDir: workDir, env: []string{"XDG_CONFIG_HOME=" + filepath.Join(workDir, "xdg")}}
	root := newRootCmd(o)
	var out, stderr bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&stderr)
	root.SetArgs([]string{file, "SELECT Data FROM Icon", "-o", dest, "--log-level", "info"})
	require.NoError(t, root.Execute())

	logged := stderr.String()
	assert.Contains(t, logged, "stream written")
	assert.Contains(t, logged, "entry=Icon.app.ico")
	assert.Contains(t, logged, "bytes=5000")
}

func TestCommandErrorsMapToExitCodes(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing file", []string{filepath.Join(t.TempDir(), "none.msi"), "SELECT * FROM Icon"}, ExitNotFound},
		{"not an msi", []string{msitest.WriteBytes(t, []byte("plain text, not a compound file")), "SELECT * FROM Icon"}, ExitNotAnMsi},
		{"unknown table", []string{file, "SELECT * FROM Shortcut"}, ExitUnknownTable},
		{"unknown column", []string{file, "SELECT Bits FROM Icon"}, ExitUnknownColumn},
		{"syntax", []string{file, "SELECT FROM Icon"}, ExitSyntax},
		{"type mismatch", []string{file, "SELECT * FROM Media WHERE DiskId = 'x'"}, ExitTypeMismatch},
		{"schema of unknown table", []string{"schema", file, "Nope"}, ExitUnknownTable},
		{"bad format flag", []string{file, "SELECT * FROM Icon", "--format", "xml"}, ExitGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, t.TempDir(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, ExitCode(err), err.Error())
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitGeneric, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitIndexOutOfRange, ExitCode(fmt.Errorf("ctx: %w", msierr.ErrIndexOutOfRange)))
	assert.Equal(t, ExitInvalidState, ExitCode(msierr.ErrInvalidState))
	assert.Equal(t, ExitIO, ExitCode(fmt.Errorf("%w: disk", msierr.ErrIO)))
	assert.Equal(t, ExitCorruptSchema, ExitCode(msierr.ErrCorruptSchema))
	// A missing stream reported through an I/O path keeps its own code.
	assert.Equal(t, ExitStreamNotFound, ExitCode(fmt.Errorf("%w: %w", msierr.ErrStreamNotFound, msierr.ErrEntryNotFound)))
}

func TestTablesCommand(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), "tables", file)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`{"Table":"Icon","Columns":2}`,
		`{"Table":"Media","Columns":2}`,
		`{"Table":"Property","Columns":2}`,
		`{"Table":"_Columns","Columns":4}`,
		`{"Table":"_Streams","Columns":2}`,
		`{"Table":"_Tables","Columns":1}`,
	}, "\n")+"\n", out)

	// A single argument lists tables too.
	short, err := run(t, t.TempDir(), file)
	require.NoError(t, err)
	assert.Equal(t, out, short)
}

func TestSchemaCommand(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), "schema", file, "Media")
	require.NoError(t, err)
	assert.Equal(t,
		`{"Number":1,"Name":"DiskId","Type":"i2","Kind":"int16","Key":true,"Nullable":false}`+"\n"+
			`{"Number":2,"Name":"Cabinet","Type":"S255","Kind":"string","Key":false,"Nullable":true}`+"\n",
		out)
}

func TestStreamsCommand(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), "streams", file)
	require.NoError(t, err)
	assert.Contains(t, out, `{"Name":"/","Kind":"root","Size":`)
	assert.Contains(t, out, `"CLSID":"000c1084-0000-0000-c000-000000000046"`)
	assert.Contains(t, out, `{"Name":"Icon","Kind":"stream","Size":`)
	assert.Contains(t, out, `{"Name":"Icon.app.ico","Kind":"stream","Size":5000,"Table":false,"CLSID":null}`)
	assert.Contains(t, out, `{"Name":"\\005SummaryInformation"`)
}

func TestExtractCommand(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	dir := filepath.Join(t.TempDir(), "icons")

	out, err := run(t, t.TempDir(), "extract", file, "Icon", "Data", "-d", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app.ico")+"\n"+filepath.Join(dir, "small.ico")+"\n", out)

	got, err := os.ReadFile(filepath.Join(dir, "app.ico"))
	require.NoError(t, err)
	assert.Equal(t, icon, got)
	got, err = os.ReadFile(filepath.Join(dir, "small.ico"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 1, 0}, got)
}

func TestExtractCommandWhere(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	dir := t.TempDir()

	out, err := run(t, t.TempDir(), "extract", file, "Icon", "Data", "-d", dir, "--where", "Name <> 'app.ico'")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "small.ico")+"\n", out)
	assert.NoFileExists(t, filepath.Join(dir, "app.ico"))

	_, err = run(t, t.TempDir(), "extract", file, "Icon", "Data", "-d", dir, "--where", "Name = 'none.ico'")
	assert.ErrorIs(t, err, msierr.ErrNoData)
	_, err = run(t, t.TempDir(), "extract", file, "Icon", "Name", "-d", dir)
	assert.ErrorIs(t, err, msierr.ErrTypeMismatch)
	_, err = run(t, t.TempDir(), "extract", file, "Icon", "Pixels", "-d", dir)
	assert.ErrorIs(t, err, msierr.ErrUnknownColumn)
}

func TestExtractUsesConfiguredOutputDir(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	work := t.TempDir()
	dir := filepath.Join(work, "from-config")
	require.NoError(t, os.WriteFile(filepath.Join(work, ConfigFileName),
		[]byte(fmt.Sprintf(`{"output_dir": %q}`, dir)), 0o600))

	_, err := run(t, work, "extract", file, "Icon", "Data")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "app.ico"))
}

func TestInfoCommand(t *testing.T) {
	withSummary := msitest.WriteFile(t, fixture())
	bare := msitest.WriteFile(t, msitest.Package{
		CLSID:  msitest.PatchCLSID,
		Tables: []msitest.Table{msitest.IconTable()},
	})

	out, err := run(t, t.TempDir(), "info", withSummary, bare)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)

	assert.Equal(t, fmt.Sprintf(
		`{"File":%q,"Type":"installer","Codepage":65001,"Tables":6,"Title":"Installation Database","Subject":"","Author":"Acme",`+
			`"Template":"","PackageCode":"{11111111-2222-3333-4444-555555555555}","Created":"2024-05-01T10:00:00Z","AppName":""}`,
		withSummary), lines[0])
	assert.Equal(t, fmt.Sprintf(`{"File":%q,"Type":"patch","Codepage":65001,"Tables":4}`, bare), lines[1])

	_, err = run(t, t.TempDir(), "info", withSummary, filepath.Join(t.TempDir(), "gone.msi"))
	assert.ErrorIs(t, err, msierr.ErrNotFound)
}

func TestValidateCommand(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	out, err := run(t, t.TempDir(), "validate", file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "✅ Valid installer package with 6 table(s)"), out)

	out, err = run(t, t.TempDir(), "validate", msitest.WriteBytes(t, []byte("junk junk junk")))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out, "❌ Validation failed"), out)
}

func TestLoadConfig(t *testing.T) {
	work := t.TempDir()
	xdg := t.TempDir()
	env := []string{"XDG_CONFIG_HOME=" + xdg}

	cfg, sources, err := LoadConfig(work, "", env)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Empty(t, sources.Global)
	assert.Empty(t, sources.Project)

	global := filepath.Join(xdg, "msiq", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(global), 0o755))
	require.NoError(t, os.WriteFile(global, []byte(`{
		// shared defaults
		"chunk_size": 4096,
		"format": "table",
	}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(work, ConfigFileName), []byte(`{"format": "json"}`), 0o600))

	cfg, sources, err = LoadConfig(work, "", env)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.Equal(t, global, sources.Global)
	assert.Equal(t, filepath.Join(work, ConfigFileName), sources.Project)

	explicit := filepath.Join(work, "custom.json")
	require.NoError(t, os.WriteFile(explicit, []byte(`{"log_level": "debug", "output_dir": "out"}`), 0o600))
	cfg, sources, err = LoadConfig(work, "custom.json", env)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "table", cfg.Format)
	assert.Equal(t, explicit, sources.Project)
}

func TestLoadConfigErrors(t *testing.T) {
	work := t.TempDir()
	env := []string{"XDG_CONFIG_HOME=" + t.TempDir()}

	_, _, err := LoadConfig(work, "missing.json", env)
	assert.ErrorIs(t, err, errConfigFileNotFound)

	tests := map[string]string{
		"syntax":        `{"format": }`,
		"unknown key":   `{"colour": "red"}`,
		"bad format":    `{"format": "xml"}`,
		"negative size": `{"chunk_size": -1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, _, err := LoadConfig(work, path, env)
			assert.ErrorIs(t, err, errConfigInvalid)
		})
	}
}

func TestConfigFileSetsFormat(t *testing.T) {
	file := msitest.WriteFile(t, fixture())
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, ConfigFileName), []byte(`{"format": "table"}`), 0o600))

	out, err := run(t, work, file, "SELECT Property FROM Property")
	require.NoError(t, err)
	assert.Contains(t, out, "(2 rows)")

	// Flags win over the config file.
	out, err = run(t, work, file, "SELECT Property FROM Property", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, `{"Property":"ProductName"}`+"\n"+`{"Property":"ProductVersion"}`+"\n", out)
}

func TestEvalLine(t *testing.T) {
	pkg, err := msi.Open(msitest.WriteFile(t, fixture()))
	require.NoError(t, err)
	defer pkg.Close()

	o := &options{cfg: DefaultConfig()}
	var out bytes.Buffer

	quit, err := evalLine(&out, pkg, o, "  SELECT Name FROM Icon WHERE Name = 'small.ico';  ")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, `{"Name":"small.ico"}`+"\n", out.String())

	out.Reset()
	_, err = evalLine(&out, pkg, o, "format table")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, o.cfg.Format)
	_, err = evalLine(&out, pkg, o, "select Name from Icon")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "(2 rows)")

	out.Reset()
	_, err = evalLine(&out, pkg, o, "explain SELECT * FROM Icon")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Scan(table: Icon")

	_, err = evalLine(&out, pkg, o, "schema")
	assert.Error(t, err)
	_, err = evalLine(&out, pkg, o, "drop table Icon")
	assert.ErrorIs(t, err, msierr.ErrSyntax)
	_, err = evalLine(&out, pkg, o, "SELECT * FROM Nope")
	assert.ErrorIs(t, err, msierr.ErrUnknownTable)

	quit, err = evalLine(&out, pkg, o, "")
	require.NoError(t, err)
	assert.False(t, quit)
	quit, err = evalLine(&out, pkg, o, "EXIT")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "app.ico", fileName([]string{"app.ico"}))
	assert.Equal(t, "a.1", fileName([]string{"a", "1"}))
	assert.Equal(t, ".._etc_passwd", fileName([]string{"../etc/passwd"}))
	assert.Equal(t, "stream", fileName([]string{".."}))
	assert.Equal(t, "stream", fileName(nil))
}

func TestRenderTableNull(t *testing.T) {
	var buf bytes.Buffer
	rows := []database.OrderedMap{{{Key: "A", Val: nil}, {Key: "B", Val: int32(7)}}}
	require.NoError(t, renderTable(&buf, []string{"A", "B"}, rows))
	assert.Contains(t, buf.String(), "NULL")
	assert.Contains(t, buf.String(), "7")
	assert.True(t, strings.HasSuffix(buf.String(), "(1 rows)\n"))
}
