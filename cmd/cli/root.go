package cli

import (
	"context"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storacha/deal-ingester/cmd/cli/buildtasks"
	"github.com/storacha/deal-ingester/cmd/cli/cache"
	"github.com/storacha/deal-ingester/cmd/cli/configcmd"
	"github.com/storacha/deal-ingester/cmd/cli/flags"
	"github.com/storacha/deal-ingester/pkg/config"
)

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

var log = logging.Logger("cmd")

const shortDescription = `
Builds HTTP retrieval tasks for Filecoin storage deals
`

const longDescription = `
deal-ingester reads storage deals as NDJSON, looks up the providers advertising
each deal payload on an IPNI indexer and writes one retrieval task per HTTP
endpoint found. Indexer answers are cached on disk so a run can be resumed or
repeated without querying the indexer again.
`

var (
	cfgFile  string
	logLevel string
	rootCmd  = &cobra.Command{
		Use:   "deal-ingester",
		Short: shortDescription,
		Long:  longDescription,
	}
)

func init() {
	cobra.OnInitialize(initLogging, initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "logging level")

	rootCmd.PersistentFlags().String("cache-dir", "cache", "Directory holding cached indexer lookups")
	rootCmd.PersistentFlags().String("cache-backend", "fs", "Lookup cache backend: fs or leveldb")
	cobra.CheckErr(flags.AddAndBindFlags(rootCmd.PersistentFlags(), []flags.FlagBinding{
		{FlagName: "cache-dir", ViperKey: string(config.CacheDir)},
		{FlagName: "cache-backend", ViperKey: string(config.CacheBackend)},
	}))

	// register all commands and their subcommands
	rootCmd.AddCommand(buildtasks.Cmd)
	rootCmd.AddCommand(cache.Cmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

func initConfig() {
	config.SetDefaults()
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix(config.EnvPrefix)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
	}
}

func initLogging() {
	if logLevel != "" {
		ll, err := logging.LevelFromString(logLevel)
		cobra.CheckErr(err)
		logging.SetAllLoggers(ll)
	} else {
		logging.SetLogLevel("cmd", "info")
		logging.SetLogLevel("cmd/build", "info")
		logging.SetLogLevel("pipeline", "info")
		logging.SetLogLevel("processor", "warn")
		logging.SetLogLevel("indexer", "warn")
		logging.SetLogLevel("lookupcache", "warn")
		logging.SetLogLevel("config", "error")
		logging.SetLogLevel("fx/store", "warn")
		logging.SetLogLevel("fx/echo", "info")
		logging.SetLogLevel("server", "warn")
		logging.SetLogLevel("health", "warn")
	}
}
