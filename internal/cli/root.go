// Package cli wires the equipdb cobra commands to the pipeline.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"equipdb/internal/config"
)

// Version is set at build time with -ldflags "-X equipdb/internal/cli.Version=...".
var Version = "dev"

// app holds per-invocation state shared by subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCmd builds a fresh command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "equipdb",
		Short: "Load equipment data documents into a relational store",
		Long: `equipdb loads the equipment statistics, weapon property and weapon name
documents into one relational store. Records inherit fields through their
"base" reference; positional attribute slots are projected onto stat columns.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (EQUIPDB_*)
  3. Config file (--config)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.String("input-dir", "", "directory holding the input documents")
	pf.String("storage-kind", "", "storage backend (sqlite|postgres|mssql|mysql)")
	pf.String("dsn", "", "storage DSN")
	pf.String("mapping", "", "YAML attribute mapping file")
	pf.String("metrics-backend", "", "metrics backend (none|datadog)")
	pf.BoolP("verbose", "v", false, "log every diagnostic")
	pf.Bool("debug", false, "dump merged records before projection")

	bindFlags(a.v, pf, map[string]string{
		"input_dir":               "input-dir",
		"storage.kind":            "storage-kind",
		"storage.dsn":             "dsn",
		"projection.mapping_file": "mapping",
		"metrics.backend":         "metrics-backend",
		"verbose":                 "verbose",
		"debug":                   "debug",
	})

	root.AddCommand(
		newRunCmd(a),
		newStageCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// load reads the configuration and validates it. Issues are written to w;
// any error-severity issue fails the command before the store is touched.
func (a *app) load(w io.Writer) (config.Config, error) {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	issues, err := config.Check(cfg)
	for _, iss := range issues {
		fmt.Fprintln(w, iss)
	}
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "equipdb %s\n", Version)
		},
	}
}
