// Command plughost hosts audio plugins in a compiled graph.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/plughost/internal/audio"
	"github.com/roach88/plughost/internal/audio/otobackend"
	"github.com/roach88/plughost/internal/cli"
)

func openDevice(cfg audio.Config, logger *slog.Logger) (audio.Backend, error) {
	b, err := otobackend.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func main() {
	if err := cli.NewRootCommand(openDevice).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
