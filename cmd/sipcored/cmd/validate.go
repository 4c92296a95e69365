package cmd

import (
	"fmt"

	"github.com/openpbx/sipcore/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "load and validate the configuration file without starting the engine",
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := config.Load(configFile); err != nil {
			exitWithError("config invalid", err)
		}
		fmt.Println("config OK")
	},
}
