package main

import (
	"fmt"
	"os"

	"starmus-recorder/conf"

	"github.com/spf13/cobra"
)

// @title           Starmus Recorder API
// @version         1.0
// @description     Chunked and resumable audio submission service for the Starmus recorder
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@swagger.io

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:7282
// @BasePath  /api/v1

// @schemes https http

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var env string

	rootCmd := &cobra.Command{
		Use:          "starmus",
		Short:        "Starmus recorder submission service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initEnv(env)
		},
	}

	rootCmd.PersistentFlags().StringVar(&env, "env", string(conf.LocalEnvironmentEnum), "Environment: loc/example/test/pro")
	rootCmd.PersistentFlags().StringVar(&conf.ConfigFile, "config", "", "Config file path (overrides --env)")

	rootCmd.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newHashTokenCmd(),
	)
	return rootCmd
}

// initEnv initialize environment
func initEnv(env string) error {
	switch conf.SystemEnvironmentEnum(env) {
	case conf.LocalEnvironmentEnum, conf.ExampleEnvironmentEnum, conf.TestEnvironmentEnum, conf.ProdEnvironmentEnum:
		conf.SystemEnvironment = conf.SystemEnvironmentEnum(env)
	default:
		return fmt.Errorf("unknown environment %q", env)
	}
	return nil
}
