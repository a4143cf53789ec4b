package configcmd

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/storacha/deal-ingester/cmd/cli/flags"
	"github.com/storacha/deal-ingester/pkg/config"
)

var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Long: `Print the configuration a build would run with, after applying defaults,
the config file, environment variables and flags. The output can be saved and
passed back with --config.`,
	Args: cobra.NoArgs,
	RunE: printConfig,
}

func init() {
	cobra.CheckErr(flags.SetupBuildFlags(Cmd.Flags()))
}

func printConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load[config.IngesterConfig]()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
