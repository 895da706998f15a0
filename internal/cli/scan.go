package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin/builtin"
	"github.com/roach88/plughost/internal/plugin/clap"
	"github.com/roach88/plughost/internal/scanner"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	InternalOnly bool

	// Open overrides how discovered binaries are loaded (for testing).
	// If nil, defaults to the CLAP adapter.
	Open scanner.OpenFunc
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan [dirs...]",
		Short: "List available plugins",
		Long: `List the internal plugins and every CLAP plugin found in the given
directories. Without directories the platform's standard CLAP locations
and CLAP_PATH are searched.

Binaries that fail to load are reported and skipped.

Example:
  plughost scan
  plughost scan ~/dev/clap-plugins --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.InternalOnly, "internal-only", false, "skip the directory scan")

	return cmd
}

func runScan(opts *ScanOptions, dirs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if len(dirs) == 0 {
		dirs = scanner.DefaultDirs()
	}
	open := opts.Open
	if open == nil {
		open = scanner.CLAPOpener(clap.Options{
			HostInfo: ir.HostInfo{Name: "plughost", Version: ir.EngineVersion},
			Logger:   logger,
		})
	}
	s := scanner.New(scanner.Config{
		Internal: builtin.Factories(),
		Dirs:     dirs,
		Open:     open,
		Logger:   logger,
	})
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close plugin libraries", "error", err)
		}
	}()

	res := scanner.Result{Plugins: s.Internal()}
	if !opts.InternalOnly {
		formatter.VerboseLog("Scanning %s", strings.Join(dirs, ", "))
		res = s.Rescan()
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}

	rows := make([][]string, 0, len(res.Plugins))
	for _, d := range res.Plugins {
		rows = append(rows, []string{d.ID, string(d.Format), d.Name, d.Version, strings.Join(d.Features, ",")})
	}
	if err := formatter.Table([]string{"ID", "FORMAT", "NAME", "VERSION", "FEATURES"}, rows); err != nil {
		return err
	}
	for _, f := range res.Failures {
		fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", f.Path, f.Err)
	}
	return nil
}
