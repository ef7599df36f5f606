package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"crbs/internal/lsp"
	"crbs/internal/pipeline"
	"crbs/internal/version"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the crbs language server over stdio",
	Args:  cobra.NoArgs,
	RunE:  runLSP,
}

func runLSP(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Compiler: a.engine(reg, pipeline.NopSink{}),
		Debounce: a.settings.Debounce(),
		Workers:  a.settings.LSP.Workers,
		Logger:   a.logger,
		Version:  version.Version,
	})
	a.logger.Info("language server starting", "registry", reg.Path())
	if err := server.Run(cmd.Context()); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return &exitCodeError{code: exitCompileFail}
		}
		return err
	}
	return nil
}
