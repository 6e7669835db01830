package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pictocache/internal/config"
	"pictocache/internal/database"
	"pictocache/internal/models"
)

// fakeOrigin simulates the pictogram API and static asset host
type fakeOrigin struct {
	mu         sync.Mutex
	pictograms map[int]models.OriginPictogram
	best       map[string][]int // query -> ids for bestsearch
	broad      map[string][]int // query -> ids for search
	byIDStatus int              // forced status for by-id lookups when non-zero
	serveSVG   bool
	pngStatus  int
	keywords   []string
	calls      map[string]int

	server *httptest.Server
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()

	f := &fakeOrigin{
		pictograms: make(map[int]models.OriginPictogram),
		best:       make(map[string][]int),
		broad:      make(map[string][]int),
		serveSVG:   true,
		pngStatus:  http.StatusOK,
		calls:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/pictograms/{lang}/bestsearch/{q}", func(w http.ResponseWriter, r *http.Request) {
		f.count("bestsearch")
		f.writeList(w, f.lookup(f.best, r.PathValue("q")))
	})
	mux.HandleFunc("GET /v1/pictograms/{lang}/search/{q}", func(w http.ResponseWriter, r *http.Request) {
		f.count("search")
		f.writeList(w, f.lookup(f.broad, r.PathValue("q")))
	})
	mux.HandleFunc("GET /v1/pictograms/{lang}/new/{n}", func(w http.ResponseWriter, r *http.Request) {
		f.count("new")
		n, _ := strconv.Atoi(r.PathValue("n"))
		f.mu.Lock()
		ids := make([]int, 0, n)
		for id := range f.pictograms {
			ids = append(ids, id)
		}
		f.mu.Unlock()
		if len(ids) > n {
			ids = ids[:n]
		}
		f.writeList(w, ids)
	})
	mux.HandleFunc("GET /v1/pictograms/{lang}/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.count("by_id")
		f.mu.Lock()
		forced := f.byIDStatus
		f.mu.Unlock()
		if forced != 0 {
			w.WriteHeader(forced)
			return
		}
		id, _ := strconv.Atoi(r.PathValue("id"))
		f.mu.Lock()
		p, ok := f.pictograms[id]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("GET /v1/keywords/{lang}", func(w http.ResponseWriter, r *http.Request) {
		f.count("keywords")
		f.mu.Lock()
		words := f.keywords
		f.mu.Unlock()
		if words == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.OriginKeywordList{Locale: r.PathValue("lang"), Words: words})
	})
	mux.HandleFunc("GET /static/{id}/{file}", func(w http.ResponseWriter, r *http.Request) {
		f.count("asset")
		f.mu.Lock()
		serveSVG, pngStatus := f.serveSVG, f.pngStatus
		f.mu.Unlock()

		file := r.PathValue("file")
		switch {
		case strings.HasSuffix(file, ".svg"):
			if !serveSVG {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "image/svg+xml")
			fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg"><title>%s</title></svg>`, r.PathValue("id"))
		case strings.HasSuffix(file, "_500.png"):
			if pngStatus != http.StatusOK {
				w.WriteHeader(pngStatus)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOrigin) count(endpoint string) {
	f.mu.Lock()
	f.calls[endpoint]++
	f.mu.Unlock()
}

// Calls returns how many requests hit endpoint
func (f *fakeOrigin) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// TotalCalls returns every request the origin served
func (f *fakeOrigin) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeOrigin) add(p models.OriginPictogram) {
	f.mu.Lock()
	f.pictograms[p.ID] = p
	f.mu.Unlock()
}

// configure mutates the fake under its lock
func (f *fakeOrigin) configure(fn func(f *fakeOrigin)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeOrigin) lookup(index map[string][]int, query string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return index[query]
}

func (f *fakeOrigin) writeList(w http.ResponseWriter, ids []int) {
	f.mu.Lock()
	list := make([]models.OriginPictogram, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.pictograms[id]; ok {
			list = append(list, p)
		}
	}
	f.mu.Unlock()

	if len(list) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func originPictogram(id int, keyword string, categories ...string) models.OriginPictogram {
	kw := keyword
	return models.OriginPictogram{
		ID:         id,
		Keywords:   []models.OriginKeyword{{Keyword: &kw}},
		Categories: categories,
		Tags:       []string{},
	}
}

func strPtr(s string) *string { return &s }

func testPictogramConfig(t *testing.T, originURL string) config.PictogramConfig {
	t.Helper()
	return config.PictogramConfig{
		APIBase:                 originURL + "/v1",
		StaticBase:              originURL + "/static",
		AssetDir:                filepath.Join(t.TempDir(), "pictograms"),
		PublicPrefix:            "/assets/pictograms",
		License:                 config.DefaultLicense,
		HTTPTimeout:             5 * time.Second,
		UserAgent:               "pictocache-test",
		OriginRPS:               0, // unlimited
		OriginBurst:             1,
		FullTextMinTokenLen:     2,
		FullTextMinQueryLen:     4,
		KeywordsCacheTTL:        time.Hour,
		PrefetchIdleMinutes:     20,
		PrefetchBatchSize:       50,
		PrefetchIntervalSeconds: 60,
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testEngine wires the pictogram services against a fake origin and a
// temporary SQLite store
type testEngine struct {
	db        *database.DB
	origin    *fakeOrigin
	cfg       config.PictogramConfig
	client    *OriginClient
	assets    *AssetMaterializer
	store     *PictogramStore
	service   *PictogramService
	bookmarks *BookmarkService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	origin := newFakeOrigin(t)
	cfg := testPictogramConfig(t, origin.server.URL)
	db := newTestDB(t)

	client := NewOriginClient(cfg)
	assets := NewAssetMaterializer(client, cfg)
	store := NewPictogramStore(db, cfg)

	return &testEngine{
		db:        db,
		origin:    origin,
		cfg:       cfg,
		client:    client,
		assets:    assets,
		store:     store,
		service:   NewPictogramService(store, client, assets, cfg),
		bookmarks: NewBookmarkService(db, cfg),
	}
}

// fakeClock is a settable time source for ActivityClock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
