package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/msi"
)

// options carries flag values and the resolved configuration of one
// command invocation.
type options struct {
	configPath  string
	logLevel    string
	chunkSize   int
	format      string
	output      string
	outputDir   string
	where       string
	explain     bool
	pretty      bool
	interactive bool

	// Config lookup context; os.Getwd and os.Environ when empty.
	workDir string
	env     []string

	cfg Config
}

// NewRootCmd builds the msiq command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(o *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "msiq <file> [query]",
		Short: "Query Windows Installer (MSI) packages",
		Long: `msiq reads the database inside a Windows Installer package and runs
SELECT queries against its tables.

With a single argument it lists the tables of the package. With a query it
prints the selected rows, or with -o writes the first stream field of the
first row to a file.

Examples:
  msiq setup.msi
  msiq setup.msi "SELECT Property, Value FROM Property"
  msiq setup.msi "SELECT Data FROM Icon" -o app.ico
  msiq setup.msi "SELECT * FROM Media WHERE DiskId = 1" --format table
  msiq -i setup.msi`,
		Args:          cobra.RangeArgs(0, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.interactive {
				if len(args) == 0 {
					return errors.New("interactive mode requires a package file")
				}
				return runInteractive(cmd, o, args[0])
			}

			switch len(args) {
			case 0:
				return cmd.Help()
			case 1:
				if o.output != "" || o.explain {
					return errors.New("--output and --explain require a query argument")
				}
				return runTables(cmd.OutOrStdout(), o, args[0])
			default:
				return runQuery(cmd.OutOrStdout(), o, args[0], args[1])
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "Config file (JSONC)")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.IntVar(&o.chunkSize, "chunk-size", 0, "Stream read size in bytes")
	flags.StringVar(&o.format, "format", "", "Output format (json or table)")
	flags.BoolVar(&o.pretty, "pretty", false, "Pretty print JSON output")

	rootCmd.Flags().StringVarP(&o.output, "output", "o", "", "Write the first stream field of the first row to this file")
	rootCmd.Flags().BoolVar(&o.explain, "explain", false, "Print the execution plan instead of running the query")
	rootCmd.Flags().BoolVarP(&o.interactive, "interactive", "i", false, "Interactive REPL mode")

	rootCmd.AddCommand(newTablesCmd(o))
	rootCmd.AddCommand(newSchemaCmd(o))
	rootCmd.AddCommand(newStreamsCmd(o))
	rootCmd.AddCommand(newExtractCmd(o))
	rootCmd.AddCommand(newInfoCmd(o))
	rootCmd.AddCommand(newValidateCmd(o))

	return rootCmd
}

// Execute runs the command line of the current process.
func Execute() error {
	return NewRootCmd().Execute()
}

// resolve loads the configuration, applies flag overrides and initializes
// logging on the command's error stream.
func (o *options) resolve(cmd *cobra.Command) error {
	workDir, env := o.workDir, o.env
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		workDir = wd
	}
	if env == nil {
		env = os.Environ()
	}

	cfg, sources, err := LoadConfig(workDir, o.configPath, env)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = o.chunkSize
	}
	if flags.Changed("format") {
		cfg.Format = o.format
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("dir") {
		cfg.OutputDir = o.outputDir
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	logging.Init(logging.Config{Level: level, Output: cmd.ErrOrStderr()})
	logging.Debug("configuration loaded", "global", sources.Global, "project", sources.Project,
		"chunk_size", cfg.ChunkSize, "format", cfg.Format)

	o.cfg = cfg
	return nil
}

// openPackage opens file for one command; the returned func closes it and
// logs a failure to do so.
func openPackage(file string) (*msi.Package, func(), error) {
	pkg, err := msi.Open(file)
	if err != nil {
		return nil, nil, err
	}
	return pkg, func() {
		if err := pkg.Close(); err != nil {
			logging.WithFile(file).Warn("close failed", "error", err)
		}
	}, nil
}
