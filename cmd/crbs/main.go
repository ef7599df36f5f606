// Command crbs manages CRBasic compiler toolchains and runs them.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crbs/internal/version"
)

// Process exit codes.
const (
	exitOK          = 0
	exitCompileFail = 1
	exitError       = 2
)

var rootCmd = &cobra.Command{
	Use:           "crbs",
	Short:         "CRBasic toolchain manager and compiler driver",
	Long:          "crbs installs CRBasic compilers from a remote manifest, compiles programs with them and serves diagnostics to editors.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		value, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		return applyColorMode(value)
	},
}

// exitCodeError carries a specific process exit code. A nil err means the
// command already reported everything it had to say.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(compilerCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().String("config", "", "path to config.toml (default: $CRBS_CONFIG or the user config dir)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("ui", "auto", "progress display (auto|on|off)")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
}

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		if coded.err != nil {
			printError(coded.err)
		}
		return coded.code
	}
	printError(err)
	return exitError
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
}

func applyColorMode(value string) error {
	switch value {
	case "auto", "":
		color.NoColor = !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != ""
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
