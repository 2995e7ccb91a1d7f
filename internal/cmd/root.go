package cmd

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
	envFile   string
)

// envKeys are bound explicitly so they apply even without a config file
var envKeys = []string{
	"security.admin_username",
	"security.admin_password",
	"credits.bootstrap_key",
	"storage.driver",
	"storage.postgres_dsn",
	"usage.driver",
	"usage.redis_url",
}

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Credit-gated gateway for AI media services",
	Long: `Universal AI Gateway issues API keys with credit balances and redirects
callers to image, text, QR, voice and video services, charging each key
per request.`,
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("keys-dir", "./data/keys", "directory for key snapshots (file storage)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug/info/warn/error)")

	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8000, "server port")
	rootCmd.Flags().String("mode", "release", "server mode (debug/release/test)")

	viper.BindPFlag("storage.keys_dir", rootCmd.PersistentFlags().Lookup("keys-dir"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// a missing .env is normal outside development
	if err := godotenv.Load(envFile); err == nil {
		fmt.Println("Loaded environment from", envFile)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./data")
		viper.AddConfigPath("$HOME/.gateway")
	}

	// GATEWAY_SECURITY_ADMIN_PASSWORD overrides security.admin_password
	viper.SetEnvPrefix("GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		// LoadOrCreate writes the file when serve runs
		if cfgFile == "" {
			viper.SetConfigFile("./config.yaml")
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
