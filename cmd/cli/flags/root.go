package flags

import (
	"github.com/spf13/pflag"

	"github.com/storacha/deal-ingester/pkg/config"
)

// SetupBuildFlags registers the flags of a task building run.
func SetupBuildFlags(fs *pflag.FlagSet) error {
	fs.StringP("input", "i", "deals.ndjson", "NDJSON deals file, zstd compressed when ending in .zst")
	fs.StringP("output", "o", "retrieval-tasks.ndjson", "File the NDJSON retrieval tasks are written to")
	fs.Bool("progress", false, "Show a progress bar over the input on stderr")

	fs.String("indexer-url", "http://cid.contact", "URL of the IPNI indexer")
	fs.String("indexer-timeout", "1m", "Timeout of a single indexer request")
	fs.Float64("rate-limit", 0, "Maximum indexer requests per second, 0 for unlimited")
	fs.Int("concurrency", 5, "Number of deals processed at the same time (1-5)")

	fs.Bool("serve", false, "Serve the run status and the tasks file over HTTP")
	fs.String("host", "127.0.0.1", "Host the status server listens on")
	fs.Uint("port", 8080, "Port the status server listens on")

	bindings := []FlagBinding{
		{FlagName: "input", ViperKey: string(config.Input)},
		{FlagName: "output", ViperKey: string(config.Output)},
		{FlagName: "progress", ViperKey: string(config.Progress)},
		{FlagName: "indexer-url", ViperKey: string(config.IndexerURL)},
		{FlagName: "indexer-timeout", ViperKey: string(config.IndexerTimeout)},
		{FlagName: "rate-limit", ViperKey: string(config.IndexerRateLimit)},
		{FlagName: "concurrency", ViperKey: string(config.PipelineConcurrency)},
		{FlagName: "serve", ViperKey: string(config.ServerEnabled)},
		{FlagName: "host", ViperKey: string(config.ServerHost)},
		{FlagName: "port", ViperKey: string(config.ServerPort)},
	}
	return AddAndBindFlags(fs, bindings)
}
