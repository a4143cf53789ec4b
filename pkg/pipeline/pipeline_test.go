package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storacha/deal-ingester/pkg/deal"
	"github.com/storacha/deal-ingester/pkg/indexer"
	"github.com/storacha/deal-ingester/pkg/processor"
	"github.com/storacha/deal-ingester/pkg/protocol"
	"github.com/storacha/deal-ingester/pkg/stats"
	"github.com/storacha/deal-ingester/pkg/store/lookupcache"
)

const dealLine = `{"provider":"f01","pieceCID":"piece1","payloadCID":"cidA"}` + "\n"

type advert struct {
	code uint64
	addr string
}

// newIndexer serves a find response per CID; CIDs without adverts get a 404.
func newIndexer(t *testing.T, adverts map[string][]advert) (*url.URL, *atomic.Int64) {
	var calls atomic.Int64
	provider := test.RandPeerIDFatal(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/cid/")
		ads, ok := adverts[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var results []map[string]any
		for _, ad := range ads {
			results = append(results, map[string]any{
				"ContextID": base64.StdEncoding.EncodeToString([]byte("ctx")),
				"Metadata":  base64.StdEncoding.EncodeToString(varint.ToUvarint(ad.code)),
				"Provider": map[string]any{
					"ID":    provider.String(),
					"Addrs": []string{ad.addr},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"MultihashResults": []map[string]any{{"ProviderResults": results}},
		})
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u, &calls
}

func runEndToEnd(t *testing.T, endpoint *url.URL, cacheDir, input string) (string, stats.Snapshot) {
	t.Helper()
	cache, err := lookupcache.NewFSStore(cacheDir)
	require.NoError(t, err)
	st := stats.New()
	p := New(processor.New(indexer.New(endpoint, cache), st), st)

	var out bytes.Buffer
	require.NoError(t, p.Run(t.Context(), strings.NewReader(input), &out))
	return out.String(), st.Snapshot()
}

func TestRun_HTTPAdvertisement(t *testing.T) {
	endpoint, _ := newIndexer(t, map[string][]advert{
		"cidA": {{0x0920, "/ip4/1.2.3.4/tcp/80/http"}},
	})

	out, snap := runEndToEnd(t, endpoint, t.TempDir(), dealLine)
	require.Equal(t, `{"minerId":"f01","pieceCID":"piece1","cid":"cidA","address":"/ip4/1.2.3.4/tcp/80/http","protocol":"http"}`+"\n", out)
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, uint64(1), snap.Advertised)
	assert.Equal(t, uint64(1), snap.TasksByProtocol[protocol.HTTP])
}

func TestRun_GraphsyncCorrectedToHTTP(t *testing.T) {
	endpoint, _ := newIndexer(t, map[string][]advert{
		"cidA": {{0x910, "/ip4/1.2.3.4/tcp/80/http"}},
	})

	out, _ := runEndToEnd(t, endpoint, t.TempDir(), dealLine)
	require.Equal(t, `{"minerId":"f01","pieceCID":"piece1","cid":"cidA","address":"/ip4/1.2.3.4/tcp/80/http","protocol":"http"}`+"\n", out)
}

func TestRun_NotFound(t *testing.T) {
	endpoint, _ := newIndexer(t, nil)

	out, snap := runEndToEnd(t, endpoint, t.TempDir(), dealLine)
	require.Empty(t, out)
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, uint64(0), snap.Advertised)
}

func TestRun_UnlistedProtocol(t *testing.T) {
	endpoint, _ := newIndexer(t, map[string][]advert{
		"cidA": {{0x4242, "/ip4/1.2.3.4/tcp/80/http"}},
	})

	out, snap := runEndToEnd(t, endpoint, t.TempDir(), dealLine)
	require.Empty(t, out)
	assert.Equal(t, uint64(1), snap.Advertised)
	assert.Equal(t, uint64(0), snap.Tasks)
}

func TestRun_SecondRunUsesCache(t *testing.T) {
	endpoint, calls := newIndexer(t, map[string][]advert{
		"cidA": {{0x0920, "/ip4/1.2.3.4/tcp/80/http"}, {0x900, "/ip4/1.2.3.4/tcp/4001"}},
		"cidC": {{0x910, "/dns4/sp.example/tcp/80/http"}},
	})
	input := dealLine +
		`{"provider":"f02","pieceCID":"piece2","payloadCID":"cidB"}` + "\n" +
		`{"provider":"f03","pieceCID":"piece3","payloadCID":"cidC","client":"f0100"}` + "\n"
	cacheDir := t.TempDir()

	first, firstSnap := runEndToEnd(t, endpoint, cacheDir, input)
	require.Equal(t, int64(3), calls.Load())

	second, secondSnap := runEndToEnd(t, endpoint, cacheDir, input)
	require.Equal(t, int64(3), calls.Load(), "second run must not query the indexer")
	require.Equal(t, first, second)
	require.Equal(t, 2, strings.Count(second, "\n"))

	for _, snap := range []stats.Snapshot{firstSnap, secondSnap} {
		assert.Equal(t, uint64(3), snap.Total)
		assert.Equal(t, uint64(2), snap.Advertised)
		assert.LessOrEqual(t, snap.Advertised, snap.Total)
		var sum uint64
		for _, n := range snap.TasksByProtocol {
			sum += n
		}
		assert.Equal(t, snap.Tasks, sum)
	}
}

// fakeProcessor emits a single task per deal after an optional delay and
// records the peak number of deals in flight.
type fakeProcessor struct {
	delay    func(d deal.Deal) time.Duration
	hook     func(ctx context.Context, d deal.Deal) error
	inflight atomic.Int64
	mu       sync.Mutex
	peak     int64
}

func (f *fakeProcessor) Process(ctx context.Context, d deal.Deal) iter.Seq2[deal.RetrievalTask, error] {
	return func(yield func(deal.RetrievalTask, error) bool) {
		n := f.inflight.Add(1)
		defer f.inflight.Add(-1)
		f.mu.Lock()
		if n > f.peak {
			f.peak = n
		}
		f.mu.Unlock()

		if f.hook != nil {
			if err := f.hook(ctx, d); err != nil {
				yield(deal.RetrievalTask{}, err)
				return
			}
		}
		if f.delay != nil {
			time.Sleep(f.delay(d))
		}
		yield(deal.NewRetrievalTask(d, "/ip4/1.2.3.4/tcp/80/http", protocol.HTTP), nil)
	}
}

func dealsInput(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, `{"provider":"f0%d","pieceCID":"piece%d","payloadCID":"cid%d"}`+"\n", i, i, i)
	}
	return sb.String()
}

func decodeTasks(t *testing.T, out string) []deal.RetrievalTask {
	t.Helper()
	var tasks []deal.RetrievalTask
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var task deal.RetrievalTask
		require.NoError(t, dec.Decode(&task))
		tasks = append(tasks, task)
	}
	return tasks
}

func TestRun_BoundedConcurrencyAndOrder(t *testing.T) {
	fp := &fakeProcessor{
		// later deals in a batch finish first
		delay: func(d deal.Deal) time.Duration {
			var i int
			_, _ = fmt.Sscanf(d.PayloadCID, "cid%d", &i)
			return time.Duration(5-i%5) * 5 * time.Millisecond
		},
	}
	st := stats.New()
	p := New(fp, st)

	var out bytes.Buffer
	require.NoError(t, p.Run(t.Context(), strings.NewReader(dealsInput(23)), &out))

	tasks := decodeTasks(t, out.String())
	require.Len(t, tasks, 23)
	for i, task := range tasks {
		require.Equal(t, fmt.Sprintf("cid%d", i), task.CID)
	}
	require.LessOrEqual(t, fp.peak, int64(DefaultConcurrency))
	require.Equal(t, uint64(23), st.Snapshot().Total)
}

func TestRun_CustomConcurrency(t *testing.T) {
	fp := &fakeProcessor{delay: func(deal.Deal) time.Duration { return time.Millisecond }}
	p := New(fp, stats.New(), WithConcurrency(2), WithProgressEvery(3))

	var out bytes.Buffer
	require.NoError(t, p.Run(t.Context(), strings.NewReader(dealsInput(7)), &out))
	require.Len(t, decodeTasks(t, out.String()), 7)
	require.LessOrEqual(t, fp.peak, int64(2))
}

func TestRun_ConcurrencyIsCapped(t *testing.T) {
	fp := &fakeProcessor{delay: func(deal.Deal) time.Duration { return time.Millisecond }}
	p := New(fp, stats.New(), WithConcurrency(64))

	var out bytes.Buffer
	require.NoError(t, p.Run(t.Context(), strings.NewReader(dealsInput(20)), &out))
	require.Len(t, decodeTasks(t, out.String()), 20)
	require.LessOrEqual(t, fp.peak, int64(MaxConcurrency))
}

func TestRun_MalformedInput(t *testing.T) {
	p := New(&fakeProcessor{}, stats.New())

	var out bytes.Buffer
	err := p.Run(t.Context(), strings.NewReader(dealLine+"{not json\n"), &out)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAborted)
	require.ErrorContains(t, err, "decoding deal on line 2")
}

func TestRun_InputMustBeOneDealPerLine(t *testing.T) {
	testCases := map[string]string{
		"two deals on one line": `{"provider":"f01","pieceCID":"piece1","payloadCID":"cidA"} {"provider":"f02","pieceCID":"piece2","payloadCID":"cidB"}` + "\n",
		"deal over several lines": "{\n" + `  "provider": "f01", "pieceCID": "piece1", "payloadCID": "cidA"` + "\n}\n",
	}
	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			fp := &fakeProcessor{}
			p := New(fp, stats.New())

			var out bytes.Buffer
			err := p.Run(t.Context(), strings.NewReader(input), &out)
			require.ErrorContains(t, err, "decoding deal on line 1")
			require.Empty(t, out.String())
		})
	}
}

func TestRun_BlankLinesAndMissingFinalNewline(t *testing.T) {
	p := New(&fakeProcessor{}, stats.New())

	input := "\n" + `{"provider":"f01","pieceCID":"piece1","payloadCID":"cidA"}` + "\n\n" +
		`{"provider":"f02","pieceCID":"piece2","payloadCID":"cidB"}`
	var out bytes.Buffer
	require.NoError(t, p.Run(t.Context(), strings.NewReader(input), &out))
	require.Len(t, decodeTasks(t, out.String()), 2)
}

func TestRun_MissingPayloadCID(t *testing.T) {
	p := New(&fakeProcessor{}, stats.New())

	err := p.Run(t.Context(), strings.NewReader(`{"provider":"f01","pieceCID":"piece1"}`+"\n"), &bytes.Buffer{})
	require.ErrorIs(t, err, deal.ErrMissingPayloadCID)
}

func TestRun_ProcessorErrorIsFatal(t *testing.T) {
	p := New(&fakeProcessor{
		hook: func(ctx context.Context, d deal.Deal) error {
			if d.PayloadCID == "cid7" {
				return fmt.Errorf("boom")
			}
			return nil
		},
	}, stats.New())

	var out bytes.Buffer
	err := p.Run(t.Context(), strings.NewReader(dealsInput(12)), &out)
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrAborted)
	// the first batch was written before the failing one
	require.Len(t, decodeTasks(t, out.String()), 5)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	p := New(&fakeProcessor{}, stats.New())
	ctx, cancel := context.WithCancelCause(t.Context())
	cancel(fmt.Errorf("interrupted"))

	var out bytes.Buffer
	err := p.Run(ctx, strings.NewReader(dealsInput(3)), &out)
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorContains(t, err, "interrupted")
	require.Empty(t, out.String())
}

func TestRun_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancelCause(t.Context())
	st := stats.New()
	p := New(&fakeProcessor{
		hook: func(hctx context.Context, d deal.Deal) error {
			if d.PayloadCID == "cid6" {
				cancel(fmt.Errorf("interrupted"))
				<-hctx.Done()
				return hctx.Err()
			}
			return nil
		},
	}, st)

	var out bytes.Buffer
	err := p.Run(ctx, strings.NewReader(dealsInput(20)), &out)
	require.ErrorIs(t, err, ErrAborted)

	// first batch complete, nothing from the interrupted batch, every line whole
	require.Len(t, decodeTasks(t, out.String()), 5)
	require.True(t, strings.HasSuffix(out.String(), "\n"))
	require.Equal(t, uint64(10), st.Snapshot().Total)
}

func TestOpenInput_Zstd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deals.ndjson.zst")

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write([]byte(dealsInput(4)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	var progress bytes.Buffer
	in, err := OpenInput(path, WithProgress(&progress))
	require.NoError(t, err)
	defer in.Close()

	var out bytes.Buffer
	require.NoError(t, New(&fakeProcessor{}, stats.New()).Run(t.Context(), in, &out))
	require.Len(t, decodeTasks(t, out.String()), 4)
}

func TestOpenInput_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(dealLine), 0644))

	in, err := OpenInput(path)
	require.NoError(t, err)
	b, err := io.ReadAll(in)
	require.NoError(t, err)
	require.NoError(t, in.Close())
	require.Equal(t, dealLine, string(b))

	_, err = OpenInput(filepath.Join(t.TempDir(), "missing.ndjson"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
