package services

import (
	"context"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"pictocache/internal/models"
)

func TestFuzzyScore(t *testing.T) {
	tests := []struct {
		query    string
		haystack string
		want     int
	}{
		{"apple", "apple", 1000},
		{"Apple", "APPLE", 1000},
		{"apple", "apple pie", 700},
		{"apple", "green apple tree", 400},
		{"red ball", "ball red", 160},
		{"red ball", "blue ball", 80},
		{"zebra", "apple", 0},
	}

	for _, tt := range tests {
		if got := FuzzyScore(tt.query, tt.haystack); got != tt.want {
			t.Errorf("FuzzyScore(%q, %q) = %d, want %d", tt.query, tt.haystack, got, tt.want)
		}
	}
}

func TestRankByQuery(t *testing.T) {
	items := []models.Pictogram{
		{ArasaacID: 2, Keywords: []string{"apple pie"}},
		{ArasaacID: 4, Keywords: []string{"banana"}},
		{ArasaacID: 3, Keywords: []string{"green apple tree"}},
		{ArasaacID: 1, Keywords: []string{"apple"}},
		{ArasaacID: 5, Keywords: []string{"cherry"}},
	}

	RankByQuery(items, "apple")

	got := make([]int, len(items))
	for i, p := range items {
		got[i] = p.ArasaacID
	}
	// Equal scores keep their prior order
	want := []int{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"ES":  "es",
		" fr": "fr",
		"":    "en",
		"x":   "en",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearch_MissWritesBackAndRanks(t *testing.T) {
	e := newTestEngine(t)
	e.origin.add(originPictogram(1, "apple"))
	e.origin.add(originPictogram(2, "apple pie"))
	e.origin.add(originPictogram(3, "green apple tree"))
	e.origin.configure(func(f *fakeOrigin) { f.best["apple"] = []int{2, 3, 1} })

	ctx := context.Background()
	results, err := e.service.Search(ctx, "en", "apple")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	assertIDs(t, results, []int{1, 2, 3})
	for _, p := range results {
		if p.LocalFilePath == nil {
			t.Errorf("Expected pictogram %d to be materialized", p.ArasaacID)
			continue
		}
		if !e.assets.Exists(*p.LocalFilePath) {
			t.Errorf("Expected asset for pictogram %d at %s", p.ArasaacID, *p.LocalFilePath)
		}
	}

	// Second search is answered locally
	again, err := e.service.Search(ctx, "en", "apple")
	if err != nil {
		t.Fatalf("Second search failed: %v", err)
	}
	assertIDs(t, again, []int{1, 2, 3})
	if calls := e.origin.Calls("bestsearch"); calls != 1 {
		t.Errorf("Expected 1 origin search, got %d", calls)
	}
}

func TestSearch_ShortQueryUsesSubstringMatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p := originPictogram(10, "cat food", "animals")
	if err := e.store.Upsert(ctx, "en", &p, strPtr(e.client.RasterURL(10)), nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if e.store.useStructuredSearch("cat") {
		t.Fatal("Expected 3-character query to skip structured search")
	}

	results, err := e.service.Search(ctx, "en", "cat")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	assertIDs(t, results, []int{10})
	if calls := e.origin.TotalCalls(); calls != 0 {
		t.Errorf("Expected no origin calls for a local hit, got %d", calls)
	}
}

func TestStore_SubstringSearchFoldsAccentedCapitals(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p := originPictogram(77, "Árbol")
	if err := e.store.Upsert(ctx, "es", &p, nil, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	for _, query := range []string{"Árb", "árb", "ÁRB", "Árbol", "árbol"} {
		results, err := e.store.Search(ctx, "es", query)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", query, err)
		}
		if len(results) != 1 || results[0].ArasaacID != 77 {
			t.Errorf("Search(%q) = %v, want pictogram 77", query, results)
		}
	}
}

func TestStore_StructuredSearchEligibility(t *testing.T) {
	e := newTestEngine(t)

	tests := map[string]bool{
		"ball":     true,
		"red ball": true,
		"a ball":   false, // one token below the minimum
		"cat":      false,
		"+-*":      false,
	}
	for query, want := range tests {
		if got := e.store.useStructuredSearch(query); got != want {
			t.Errorf("useStructuredSearch(%q) = %t, want %t", query, got, want)
		}
	}
}

func TestStore_StructuredSearchFallsBackToSubstring(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p := originPictogram(11, "toothbrush", "hygiene")
	if err := e.store.Upsert(ctx, "en", &p, nil, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// "thbr" is not a token prefix, so only substring matching finds it
	results, err := e.store.Search(ctx, "en", "thbr")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	assertIDs(t, results, []int{11})

	results, err = e.store.Search(ctx, "en", "tooth")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	assertIDs(t, results, []int{11})

	results, err = e.store.Search(ctx, "es", "tooth")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results in another language, got %d", len(results))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.service.Search(context.Background(), "en", "   ")
	if !IsBadRequest(err) {
		t.Fatalf("Expected bad request, got %v", err)
	}
}

func TestSearch_NoResults(t *testing.T) {
	e := newTestEngine(t)

	results, err := e.service.Search(context.Background(), "en", "nothing")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", results)
	}
	if calls := e.origin.Calls("search"); calls != 1 {
		t.Errorf("Expected broad search fallback, got %d calls", calls)
	}
}

func TestSearch_DegradedStoreServesOrigin(t *testing.T) {
	e := newTestEngine(t)
	e.origin.add(originPictogram(20, "ball", "toys"))
	e.origin.add(originPictogram(21, "red ball", "toys"))
	e.origin.configure(func(f *fakeOrigin) { f.best["ball"] = []int{21, 20} })

	e.db.Close()

	results, err := e.service.Search(context.Background(), "en", "ball")
	if err != nil {
		t.Fatalf("Search failed with unavailable store: %v", err)
	}
	assertIDs(t, results, []int{20, 21})
	for _, p := range results {
		if p.LocalFilePath != nil {
			t.Errorf("Expected no local path in remote-only mode, got %s", *p.LocalFilePath)
		}
		if p.ImageURL == nil || *p.ImageURL != e.client.RasterURL(p.ArasaacID) {
			t.Errorf("Expected raster origin URL for %d, got %v", p.ArasaacID, p.ImageURL)
		}
		if p.License != e.cfg.License {
			t.Errorf("Expected license %q, got %q", e.cfg.License, p.License)
		}
	}
}

func TestResolveByID_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	e.origin.add(originPictogram(42, "apple", "Food & Drink"))
	ctx := context.Background()

	first, err := e.service.ResolveByID(ctx, "en", 42)
	if err != nil {
		t.Fatalf("ResolveByID failed: %v", err)
	}
	if first.LocalFilePath == nil {
		t.Fatal("Expected a local file path after first resolve")
	}
	if want := "/assets/pictograms/food---drink/42.svg"; *first.LocalFilePath != want {
		t.Errorf("Expected path %s, got %s", want, *first.LocalFilePath)
	}

	calls := e.origin.TotalCalls()

	second, err := e.service.ResolveByID(ctx, "en", 42)
	if err != nil {
		t.Fatalf("Second ResolveByID failed: %v", err)
	}
	if got := e.origin.TotalCalls(); got != calls {
		t.Errorf("Expected no new origin calls, got %d", got-calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical records, got %+v and %+v", first, second)
	}
}

func TestResolveByID_RefetchesMissingFile(t *testing.T) {
	e := newTestEngine(t)
	e.origin.add(originPictogram(43, "pear", "food"))
	ctx := context.Background()

	first, err := e.service.ResolveByID(ctx, "en", 43)
	if err != nil {
		t.Fatalf("ResolveByID failed: %v", err)
	}
	disk, _ := e.assets.DiskPath(*first.LocalFilePath)
	removeFile(t, disk)

	if _, err := e.service.ResolveByID(ctx, "en", 43); err != nil {
		t.Fatalf("ResolveByID failed: %v", err)
	}
	if calls := e.origin.Calls("by_id"); calls != 2 {
		t.Errorf("Expected origin to be consulted again, got %d by-id calls", calls)
	}
	if !e.assets.Exists(*first.LocalFilePath) {
		t.Error("Expected asset to be restored")
	}
}

func TestResolveByID_ConcurrentConverges(t *testing.T) {
	e := newTestEngine(t)
	e.origin.add(originPictogram(7, "dog", "animals"))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.service.ResolveByID(ctx, "en", 7); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent ResolveByID failed: %v", err)
	}

	var count int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM pictograms WHERE arasaac_id = 7`).Scan(&count); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly one row, got %d", count)
	}

	cached, err := e.service.IsCachedLocally(ctx, 7)
	if err != nil {
		t.Fatalf("IsCachedLocally failed: %v", err)
	}
	if !cached {
		t.Error("Expected pictogram to be cached with its asset")
	}
}

func TestResolveByID_Errors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.service.ResolveByID(ctx, "en", 0); !IsBadRequest(err) {
		t.Errorf("Expected bad request for id 0, got %v", err)
	}

	if _, err := e.service.ResolveByID(ctx, "en", 999); !IsNotFound(err) {
		t.Errorf("Expected not found for unknown id, got %v", err)
	}

	e.origin.configure(func(f *fakeOrigin) { f.byIDStatus = http.StatusTooManyRequests })

	_, err := e.service.ResolveByID(ctx, "en", 5)
	if !IsRateLimited(err) {
		t.Fatalf("Expected rate limited, got %v", err)
	}
	if KindOf(err).HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("Expected 429 status, got %d", KindOf(err).HTTPStatus())
	}
}

func TestResolveByID_DegradedStore(t *testing.T) {
	e := newTestEngine(t)
	e.origin.add(originPictogram(8, "sun", "weather"))
	e.db.Close()

	p, err := e.service.ResolveByID(context.Background(), "en", 8)
	if err != nil {
		t.Fatalf("ResolveByID failed with unavailable store: %v", err)
	}
	if p.ArasaacID != 8 || p.LocalFilePath != nil {
		t.Errorf("Expected remote-only record for 8, got %+v", p)
	}
	if calls := e.origin.Calls("asset"); calls != 0 {
		t.Errorf("Expected no asset downloads in remote-only mode, got %d", calls)
	}
}

func TestGetNewest_Clamps(t *testing.T) {
	e := newTestEngine(t)
	for id := 1; id <= 3; id++ {
		e.origin.add(originPictogram(id, "thing", "misc"))
	}
	ctx := context.Background()

	results, err := e.service.GetNewest(ctx, "en", 0)
	if err != nil {
		t.Fatalf("GetNewest failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected n=0 to clamp to 1 result, got %d", len(results))
	}

	results, err = e.service.GetNewest(ctx, "en", 500)
	if err != nil {
		t.Fatalf("GetNewest failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected all 3 pictograms, got %d", len(results))
	}
}

func TestGetKeywords_Cached(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Empty lists are not cached
	words, err := e.service.GetKeywords(ctx, "en")
	if err != nil {
		t.Fatalf("GetKeywords failed: %v", err)
	}
	if len(words) != 0 {
		t.Errorf("Expected empty list, got %v", words)
	}

	e.origin.configure(func(f *fakeOrigin) { f.keywords = []string{"apple", "ball"} })

	for i := 0; i < 3; i++ {
		words, err = e.service.GetKeywords(ctx, "EN")
		if err != nil {
			t.Fatalf("GetKeywords failed: %v", err)
		}
		if !reflect.DeepEqual(words, []string{"apple", "ball"}) {
			t.Errorf("Unexpected keywords: %v", words)
		}
	}
	if calls := e.origin.Calls("keywords"); calls != 2 {
		t.Errorf("Expected 2 origin keyword calls, got %d", calls)
	}
}

func assertIDs(t *testing.T, got []models.Pictogram, want []int) {
	t.Helper()
	ids := make([]int, len(got))
	for i, p := range got {
		ids[i] = p.ArasaacID
	}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected ids %v, got %v", want, ids)
	}
}
