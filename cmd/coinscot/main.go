package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fraqlab/coinscot"
	"github.com/fraqlab/coinscot/coins"
	"github.com/fraqlab/coinscot/config"
	"github.com/fraqlab/coinscot/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "coinscot",
		Short: "A slack bot running a virtual currency economy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coinscot %s\n", coinscot.VERSION)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() (err error) {
	v, err := loadConfig()
	if err != nil {
		return err
	}

	bot, err := coinscot.New("coinscot", v)
	if err != nil {
		return err
	}

	coinsConf := config.GetPluginConfig(v, coins.CoinsPluginName)

	ledger, err := coins.Open(v.GetString(config.StoragePathKey), coins.CoinsPluginName, coinsConf.GetInt64(coins.StartingBalanceKey))
	if err != nil {
		return err
	}

	miningState, err := store.NewLevelDB("mining", v.GetString(config.StoragePathKey))
	if err != nil {
		return err
	}
	defer miningState.Close()

	coinsPlugin, err := coins.NewCoins(coinsConf, ledger, miningState, bot.Gateway(), bot.Logger())
	if err != nil {
		return err
	}

	bot.RegisterPlugin(&coinsPlugin.Plugin)

	return bot.Run()
}

// loadConfig reads the configuration file (explicit path or coinscot.{yml,json,toml}
// in the working directory or home directory) over the engine defaults
func loadConfig() (v *viper.Viper, err error) {
	v = config.NewViperWithDefaults()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("coinscot")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err = v.ReadInConfig(); err != nil {
		return nil, err
	}

	log.Printf("Loaded configuration from %s", v.ConfigFileUsed())

	return v, nil
}
