package cache

import (
	"errors"
	"fmt"
	"io"

	gocid "github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/storacha/deal-ingester/pkg/config"
	"github.com/storacha/deal-ingester/pkg/fx/store"
	"github.com/storacha/deal-ingester/pkg/indexer"
	"github.com/storacha/deal-ingester/pkg/protocol"
	"github.com/storacha/deal-ingester/pkg/store/lookupcache"
)

var Cmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect cached indexer lookups",
}

var getCmd = &cobra.Command{
	Use:   "get <cid>",
	Short: "Print the cached lookup for a payload CID",
	Args:  cobra.ExactArgs(1),
	RunE:  getEntry,
}

func init() {
	getCmd.Flags().Bool("raw", false, "Print the cached indexer response as stored")
	Cmd.AddCommand(getCmd)
}

func getEntry(cmd *cobra.Command, args []string) (err error) {
	cid := args[0]
	if _, err := gocid.Decode(cid); err != nil {
		return fmt.Errorf("invalid CID %q: %w", cid, err)
	}
	raw, err := cmd.Flags().GetBool("raw")
	if err != nil {
		return err
	}

	userCfg, err := config.Load[config.CacheInspectConfig]()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cacheCfg, err := userCfg.Cache.ToAppConfig()
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	s, err := store.Open(cacheCfg)
	if err != nil {
		return err
	}
	if c, ok := s.(io.Closer); ok {
		defer func() {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	entry, err := s.Get(cmd.Context(), cid)
	if err != nil && !errors.Is(err, lookupcache.ErrNotExist) {
		return fmt.Errorf("reading cache: %w", err)
	}
	if raw && err == nil && entry.Found {
		_, werr := cmd.OutOrStdout().Write(append(entry.Data, '\n'))
		return werr
	}
	return Describe(cmd.OutOrStdout(), cid, entry, err)
}

// Describe writes a human readable summary of a cache lookup for cid. lookupErr
// is the error returned by the cache, nil or matching lookupcache.ErrNotExist.
func Describe(w io.Writer, cid string, entry lookupcache.Entry, lookupErr error) error {
	if errors.Is(lookupErr, lookupcache.ErrNotExist) {
		_, err := fmt.Fprintf(w, "%s: not cached\n", cid)
		return err
	}
	if !entry.Found {
		_, err := fmt.Fprintf(w, "%s: no providers\n", cid)
		return err
	}

	results, err := indexer.DecodeResults(entry.Data)
	if err != nil {
		return fmt.Errorf("decoding cached providers: %w", err)
	}
	var n int
	for _, group := range results {
		n += len(group)
	}
	if _, err := fmt.Fprintf(w, "%s: %d advertisements\n", cid, n); err != nil {
		return err
	}

	for _, group := range results {
		for _, pr := range group {
			var label string
			p, code, known, err := protocol.FromMetadata(pr.Metadata)
			switch {
			case err != nil:
				label = "malformed"
			case known:
				label = string(p)
			default:
				label = fmt.Sprintf("unknown(0x%x)", uint64(code))
			}
			addr, ok := pr.Provider.FirstAddr()
			if !ok {
				addr = "-"
			}
			if _, err := fmt.Fprintf(w, "  %-14s %s %s\n", label, pr.Provider.ID, addr); err != nil {
				return err
			}
		}
	}
	return nil
}
