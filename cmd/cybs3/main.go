// Command cybs3 is the zero-knowledge S3-compatible client: vault
// management, mnemonic rotation, and resolved-configuration inspection.
// Flag parsing and usage text are kept to the cobra/viper defaults --
// argument-parsing polish is explicitly out of scope.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		checkError(err)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cybs3",
		Short: "Zero-knowledge S3-compatible object storage client",
	}
	config.RegisterFlags(cmd)
	cmd.AddCommand(
		newVaultCommand(),
		newKeysCommand(),
		newConfigCommand(),
	)
	return cmd
}

// checkError prints err and exits with the process exit code its
// apierr.Kind maps to.
func checkError(err error) {
	fmt.Fprintln(os.Stderr, "cybs3:", err)
	if apiErr, ok := apierr.As(err); ok {
		os.Exit(apiErr.ExitCode())
	}
	os.Exit(1)
}
