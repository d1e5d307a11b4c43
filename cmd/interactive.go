package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/bisegni/msiq/pkg/msi"
	"github.com/bisegni/msiq/pkg/msierr"
)

const replHelp = `Commands:
  SELECT ...            run a query
  EXPLAIN SELECT ...    print the execution plan
  tables                list tables
  schema <table>        show the columns of a table
  format json|table     switch the output format
  exit, quit            leave`

// runInteractive opens file once and reads queries until EOF or exit.
func runInteractive(cmd *cobra.Command, o *options, file string) error {
	pkg, done, err := openPackage(file)
	if err != nil {
		return err
	}
	defer done()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Interactive mode on %s (%s). Type 'help' for commands, 'exit' to leave.\n",
		file, pkg.Database().PackageType())

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "msiq> ",
		HistoryFile:     "", // In-memory history for this session
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := evalLine(out, pkg, o, line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// evalLine runs one REPL line against pkg. quit reports an exit request.
func evalLine(w io.Writer, pkg *msi.Package, o *options, line string) (quit bool, err error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	if trimmed == "" {
		return false, nil
	}
	word, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "exit", "quit":
		return true, nil
	case "help":
		_, err := fmt.Fprintln(w, replHelp)
		return false, err
	case "tables":
		return false, printTables(w, pkg, o)
	case "schema":
		if rest == "" {
			return false, errors.New("usage: schema <table>")
		}
		return false, printSchema(w, pkg, o, rest)
	case "format":
		switch rest {
		case FormatJSON, FormatTable:
			o.cfg.Format = rest
			return false, nil
		}
		return false, fmt.Errorf("unknown format %q", rest)
	case "explain":
		q, err := pkg.Compile(rest)
		if err != nil {
			return false, err
		}
		_, err = fmt.Fprintln(w, q.Explain())
		return false, err
	case "select":
		q, err := pkg.Compile(trimmed)
		if err != nil {
			return false, err
		}
		return false, printQuery(w, q, o)
	}
	return false, fmt.Errorf("%w: unknown command %q, type 'help'", msierr.ErrSyntax, word)
}
