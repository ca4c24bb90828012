package gen

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

//go:embed sample_config.toml
var sampleConfig string

var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print a sample frankenrouter.toml to stdout",
	Long: `This command prints an annotated, ready-to-edit frankenrouter.toml
to stdout. Redirect it to a file to get started:

	frankenrouter gen config > frankenrouter.toml`,

	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprint(os.Stdout, sampleConfig)
		return err
	},
}

func init() {
	RootCmd.AddCommand(ConfigCmd)
}
