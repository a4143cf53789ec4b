// Package processor turns a single deal into the retrieval tasks advertised
// for its payload.
package processor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multiaddr"
	"github.com/samber/lo"

	"github.com/storacha/deal-ingester/pkg/deal"
	"github.com/storacha/deal-ingester/pkg/indexer"
	"github.com/storacha/deal-ingester/pkg/protocol"
	"github.com/storacha/deal-ingester/pkg/stats"
)

var log = logging.Logger("processor")

// ErrConsumed is yielded when a task sequence is iterated a second time.
var ErrConsumed = errors.New("task sequence already consumed")

// ProviderFinder resolves a content identifier to provider results. found is
// false when the indexer has no providers for it.
type ProviderFinder interface {
	Lookup(ctx context.Context, contentID string) (results [][]indexer.ProviderResult, found bool, err error)
}

type Processor struct {
	finder ProviderFinder
	stats  *stats.Stats
}

func New(finder ProviderFinder, st *stats.Stats) *Processor {
	return &Processor{finder: finder, stats: st}
}

// Process returns the retrieval tasks for d. The lookup happens when the
// sequence is first iterated; the sequence can only be iterated once.
//
// Only HTTP endpoints are emitted, but every advertisement with a known
// protocol and an address is counted. Bad advertisements are logged and
// skipped. Iteration stops at the first error, which is either a failed
// lookup or metadata that does not start with a valid varint.
func (p *Processor) Process(ctx context.Context, d deal.Deal) iter.Seq2[deal.RetrievalTask, error] {
	var used atomic.Bool
	return func(yield func(deal.RetrievalTask, error) bool) {
		if used.Swap(true) {
			yield(deal.RetrievalTask{}, ErrConsumed)
			return
		}

		results, found, err := p.finder.Lookup(ctx, d.PayloadCID)
		if err != nil {
			yield(deal.RetrievalTask{}, fmt.Errorf("looking up providers for %s: %w", d.PayloadCID, err))
			return
		}
		if !found {
			log.Debugw("no providers", "deal", d)
			return
		}
		p.stats.AddAdvertised()

		for _, pr := range lo.Flatten(results) {
			proto, code, known, err := protocol.FromMetadata(pr.Metadata)
			if err != nil {
				yield(deal.RetrievalTask{}, fmt.Errorf("decoding metadata for %s from provider %s: %w", d.PayloadCID, pr.Provider.ID, err))
				return
			}

			addr, ok := pr.Provider.FirstAddr()
			if !ok {
				log.Debugw("provider has no address", "deal", d, "provider", pr.Provider.ID)
				continue
			}
			if !known {
				log.Warnw("unrecognized protocol", "deal", d, "provider", pr.Provider.ID, "code", uint64(code))
				continue
			}

			p.stats.AddTask(proto)

			if proto == protocol.Graphsync && IsPort80HTTP(addr) {
				proto = protocol.HTTP
			}
			if proto != protocol.HTTP {
				continue
			}
			if !yield(deal.NewRetrievalTask(d, addr, proto), nil) {
				return
			}
		}
	}
}

// IsPort80HTTP reports whether addr is a plain HTTP listener on TCP port 80,
// e.g. /ip4/1.2.3.4/tcp/80/http. Some providers advertise such endpoints as
// graphsync; they are served over HTTP.
func IsPort80HTTP(addr string) bool {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return strings.HasSuffix(addr, "/tcp/80/http")
	}
	n := len(ma)
	if n < 2 {
		return false
	}
	last, prev := ma[n-1], ma[n-2]
	return last.Code() == multiaddr.P_HTTP && prev.Code() == multiaddr.P_TCP && prev.Value() == "80"
}
