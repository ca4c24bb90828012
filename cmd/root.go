package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aerowinx/frankenrouter/cmd/gen"
)

var (
	configFile    string
	variablesFile string
	logTraffic    bool
	debugHTTP     bool
)

var rootCmd = &cobra.Command{
	Use:   "frankenrouter",
	Short: "A PSX network router",
	Long: `frankenrouter fans a single upstream PSX network connection out to
many downstream clients, replaying cached state and forwarding traffic
according to each keyword's declared network mode.`,
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&configFile, "config-file", "c", "frankenrouter.toml", "path to the TOML config file")
	flags.StringVar(&variablesFile, "variables-file", "", "path to a PSX Variables.txt file, overriding [psx].variables_path")
	flags.BoolVar(&logTraffic, "log-traffic", false, "log every inbound/outbound line to disk, overriding [log].traffic")
	flags.BoolVar(&debugHTTP, "debug", false, "run the REST API in gin's debug mode instead of release mode")

	rootCmd.AddCommand(RunCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command, exiting the process with a non-zero
// status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
