package app

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/storacha/deal-ingester/pkg/config/app"
	"github.com/storacha/deal-ingester/pkg/fx/store"
	"github.com/storacha/deal-ingester/pkg/health"
	"github.com/storacha/deal-ingester/pkg/pipeline"
	"github.com/storacha/deal-ingester/pkg/store/lookupcache"
)

const (
	deals = `{"provider":"f01","pieceCID":"piece1","payloadCID":"cidA"}` + "\n" +
		`{"provider":"f02","pieceCID":"piece2","payloadCID":"cidB"}` + "\n"
	wantTasks = `{"minerId":"f01","pieceCID":"piece1","cid":"cidA","address":"/ip4/1.2.3.4/tcp/80/http","protocol":"http"}` + "\n"
)

func newIndexer(t *testing.T) *url.URL {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cid/cidA" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"MultihashResults": []map[string]any{{
				"ProviderResults": []map[string]any{{
					"ContextID": base64.StdEncoding.EncodeToString([]byte("ctx")),
					"Metadata":  base64.StdEncoding.EncodeToString(varint.ToUvarint(0x0920)),
					"Provider": map[string]any{
						"ID":    "12D3KooWQYhTNQdmr3ArTeUHRYzFg94BKyTkoWBDWez9kSCVe2Xo",
						"Addrs": []string{"/ip4/1.2.3.4/tcp/80/http"},
					},
				}},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u
}

func testConfig(t *testing.T) app.AppConfig {
	dir := t.TempDir()
	return app.AppConfig{
		Input:  filepath.Join(dir, "deals.ndjson"),
		Output: filepath.Join(dir, "tasks.ndjson"),
		Cache: app.CacheConfig{
			Dir:     filepath.Join(dir, "cache"),
			Backend: app.CacheBackendFS,
		},
		Indexer: app.IndexerConfig{
			URL:     newIndexer(t),
			Timeout: 5 * time.Second,
			Retries: 1,
		},
		Pipeline: app.PipelineConfig{Concurrency: 5, ProgressEvery: 1000},
		Server:   app.ServerConfig{Host: "127.0.0.1", Port: 0},
	}
}

func runPipeline(t *testing.T, p *pipeline.Pipeline, cfg app.AppConfig) {
	t.Helper()
	out, err := pipeline.CreateOutput(cfg.Output)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, p.Run(t.Context(), strings.NewReader(deals), out))
}

func TestIngesterModules_WithServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	checker := health.NewChecker()

	var (
		p *pipeline.Pipeline
		e *echo.Echo
	)
	testApp := fxtest.New(t,
		IngesterModules(cfg, checker),
		fx.Populate(&p, &e),
	)
	testApp.RequireStart()
	defer testApp.RequireStop()

	runPipeline(t, p, cfg)
	checker.SetDone()

	base := "http://" + e.Listener.Addr().String()
	get := func(path string) (string, string) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body), resp.Header.Get(echo.HeaderContentType)
	}

	body, _ := get("/health")
	require.Equal(t, "done", body)

	body, contentType := get("/")
	require.Equal(t, wantTasks, body)
	require.Equal(t, health.NDJSONContentType, contentType)
}

func TestIngesterModules_LevelDBCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = app.CacheBackendLevelDB
	cfg.Cache.MemoSize = 16

	var p *pipeline.Pipeline
	testApp := fxtest.New(t,
		IngesterModules(cfg, nil),
		fx.Populate(&p),
	)
	testApp.RequireStart()
	runPipeline(t, p, cfg)
	testApp.RequireStop()

	out, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	require.Equal(t, wantTasks, string(out))

	// the leveldb is released on stop and holds both lookups
	s, err := store.Open(cfg.Cache)
	require.NoError(t, err)
	defer s.(io.Closer).Close()

	entry, err := s.Get(t.Context(), "cidA")
	require.NoError(t, err)
	require.True(t, entry.Found)

	entry, err = s.Get(t.Context(), "cidB")
	require.NoError(t, err)
	require.False(t, entry.Found)

	_, err = s.Get(t.Context(), "cidC")
	require.ErrorIs(t, err, lookupcache.ErrNotExist)
}
