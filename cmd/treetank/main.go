package main

import "os"
import "log"
import "log/slog"

import "github.com/spf13/cobra"
import "github.com/sebastiangraf/treetank-sub005"

var (
	config_file string
	cfg         treetank.Config
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:          "treetank [command] (flags)",
	Short:        "treetank stress testing/introspection tool",
	Long:         ``,
	SilenceUsage: true,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		stressCmd,
		inspectCmd,
		getCmd,
		graphCmd,
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&config_file, "config", "", "yaml file with the resource settings, flags are ignored when set")
	flags.StringVar(&cfg.Backend, "backend", "disk", "bucket backend: disk, bolt or memory")
	flags.StringVar(&cfg.Path, "path", "/tmp/treetank_db", "directory of the disk backend, file of the bolt backend")
	flags.StringVar(&cfg.Revisioning, "revisioning", "", "fulldump, incremental or slidingsnapshot, only for new resources (default incremental)")
	flags.IntVar(&cfg.Revisions, "revisions", 0, "chain length or window of the revisioning (default 8)")
	flags.StringVar(&cfg.Compression, "compression", "none", "bucket compression: none, snappy or zstd")
	flags.BoolVar(&cfg.VerifyHashes, "verify", true, "verify reference hashes while reading")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openResource opens the configured resource with blob items and string meta entries
func openResource() (*treetank.Resource, error) {
	c := &cfg
	if config_file != "" {
		var err error
		if c, err = treetank.LoadConfig(config_file); err != nil {
			return nil, err
		}
	}

	l := logger()
	opt, err := c.Options(treetank.BlobFactory{}, treetank.StringEntryFactory{}, l)
	if err != nil {
		return nil, err
	}
	backend, err := c.OpenBackend(l)
	if err != nil {
		return nil, err
	}
	res, err := treetank.Open(backend, opt)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return res, nil
}
