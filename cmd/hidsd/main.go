// Command hidsd is the host intrusion detection daemon's entry
// point: it runs the daemon, manages the file integrity baseline, and
// queries a running daemon's status over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terencesc/hidsd/internal/version"
)

var (
	log        = logrus.New()
	configPath string
)

func main() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	viper.SetEnvPrefix("HIDSD")
	viper.AutomaticEnv()
	viper.SetDefault("config", "/etc/hidsd/hidsd.yaml")

	root := &cobra.Command{
		Use:     "hidsd",
		Short:   "Host-based intrusion detection daemon",
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !cmd.PersistentFlags().Changed("config") {
				configPath = viper.GetString("config")
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", viper.GetString("config"), "path to the daemon configuration file")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(newServeCmd())
	root.AddCommand(newBaselineCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
