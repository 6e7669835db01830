package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"pictocache/internal/config"
	"pictocache/internal/logging"
	"pictocache/internal/models"
)

const (
	defaultLanguage = "en"
	maxNewest       = 100
)

// PictogramService resolves pictograms local-first: the store answers when it
// can, the origin fills misses, and every origin hit is written back.
type PictogramService struct {
	store   *PictogramStore
	origin  *OriginClient
	assets  *AssetMaterializer
	license string
	logger  *slog.Logger

	// Keyword lists are large and rarely change; cache per language
	keywordCache *cache.Cache
	keywordGroup singleflight.Group
}

// NewPictogramService creates the resolver
func NewPictogramService(store *PictogramStore, origin *OriginClient, assets *AssetMaterializer, cfg config.PictogramConfig) *PictogramService {
	ttl := cfg.KeywordsCacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &PictogramService{
		store:        store,
		origin:       origin,
		assets:       assets,
		license:      cfg.License,
		logger:       logging.WithComponent("pictograms"),
		keywordCache: cache.New(ttl, 30*time.Minute),
	}
}

// NormalizeLanguage lower-cases a language tag; anything shorter than two
// characters becomes "en".
func NormalizeLanguage(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if len(l) < 2 {
		return defaultLanguage
	}
	return l
}

// Search returns pictograms matching query, ranked by FuzzyScore. No results
// is an empty slice, never an error.
func (s *PictogramService) Search(ctx context.Context, language, query string) ([]models.Pictogram, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, badRequest("query cannot be empty")
	}
	language = NormalizeLanguage(language)

	localReady := s.localReady(ctx, "search")
	if localReady {
		local, err := s.store.Search(ctx, language, query)
		switch {
		case err != nil:
			s.logger.Warn("local pictogram search failed; continuing remote-only", "error", err)
			GetMetrics().RecordLookup("search", "degraded")
			localReady = false
		case len(local) > 0:
			GetMetrics().RecordLookup("search", "hit")
			RankByQuery(local, query)
			return local, nil
		default:
			GetMetrics().RecordLookup("search", "miss")
		}
	}

	remote, err := s.origin.Search(ctx, language, query)
	if err != nil {
		return nil, err
	}
	if len(remote) == 0 {
		return []models.Pictogram{}, nil
	}

	if localReady {
		ids := make([]int, 0, len(remote))
		for i := range remote {
			s.writeBack(ctx, language, &remote[i])
			ids = append(ids, remote[i].ID)
		}

		hydrated, err := s.store.GetByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("re-reading cached pictograms failed", "error", err)
		} else if len(hydrated) > 0 {
			RankByQuery(hydrated, query)
			return hydrated, nil
		}
	}

	mapped := make([]models.Pictogram, len(remote))
	for i := range remote {
		mapped[i] = s.fromOrigin(language, &remote[i])
	}
	RankByQuery(mapped, query)
	return mapped, nil
}

// ResolveByID returns one pictogram. A cached record is returned only when
// its asset file still exists; otherwise the origin is consulted.
func (s *PictogramService) ResolveByID(ctx context.Context, language string, arasaacID int) (*models.Pictogram, error) {
	if arasaacID <= 0 {
		return nil, badRequest("invalid pictogram id")
	}
	language = NormalizeLanguage(language)
	log := logging.WithPictogram(s.logger, arasaacID)

	localReady := s.localReady(ctx, "by_id")
	if localReady {
		local, err := s.store.GetByID(ctx, arasaacID)
		switch {
		case err != nil:
			log.Warn("local pictogram lookup failed; continuing remote-only", "error", err)
			GetMetrics().RecordLookup("by_id", "degraded")
			localReady = false
		case local != nil && local.LocalFilePath != nil && s.assets.Exists(*local.LocalFilePath):
			GetMetrics().RecordLookup("by_id", "hit")
			return local, nil
		case local != nil && local.LocalFilePath != nil:
			log.Debug("cached pictogram row exists but file is missing; refetching", "path", *local.LocalFilePath)
			GetMetrics().RecordLookup("by_id", "stale")
		default:
			GetMetrics().RecordLookup("by_id", "miss")
		}
	}

	remote, err := s.origin.FetchByID(ctx, language, arasaacID)
	if err != nil {
		return nil, err
	}

	direct := s.fromOrigin(language, remote)
	if !localReady {
		return &direct, nil
	}

	if !s.writeBack(ctx, language, remote) {
		return &direct, nil
	}

	cached, err := s.store.GetByID(ctx, arasaacID)
	if err != nil || cached == nil {
		log.Warn("re-reading cached pictogram failed", "error", err)
		return &direct, nil
	}
	return cached, nil
}

// IsCachedLocally reports whether id has a cached record whose asset exists
func (s *PictogramService) IsCachedLocally(ctx context.Context, arasaacID int) (bool, error) {
	_, localPath, err := s.store.AssetPointer(ctx, arasaacID)
	if err != nil {
		return false, err
	}
	return localPath != nil && s.assets.Exists(*localPath), nil
}

// GetNewest returns the n most recent origin pictograms (n clamped to 1..100),
// caching them on the way through.
func (s *PictogramService) GetNewest(ctx context.Context, language string, n int) ([]models.Pictogram, error) {
	language = NormalizeLanguage(language)
	n = clamp(n, 1, maxNewest)

	remote, err := s.origin.FetchNewest(ctx, language, n)
	if err != nil {
		return nil, err
	}
	if len(remote) == 0 {
		return []models.Pictogram{}, nil
	}

	if s.localReady(ctx, "new") {
		ids := make([]int, 0, len(remote))
		for i := range remote {
			s.writeBack(ctx, language, &remote[i])
			ids = append(ids, remote[i].ID)
		}
		hydrated, err := s.store.GetByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("re-reading newest pictograms failed", "error", err)
		} else if len(hydrated) > 0 {
			return hydrated, nil
		}
	}

	mapped := make([]models.Pictogram, len(remote))
	for i := range remote {
		mapped[i] = s.fromOrigin(language, &remote[i])
	}
	return mapped, nil
}

// GetKeywords returns the origin keyword list for a language. Lists are cached
// and concurrent misses for one language share a single origin call.
func (s *PictogramService) GetKeywords(ctx context.Context, language string) ([]string, error) {
	language = NormalizeLanguage(language)

	if cached, ok := s.keywordCache.Get(language); ok {
		GetMetrics().RecordLookup("keywords", "hit")
		return cached.([]string), nil
	}
	GetMetrics().RecordLookup("keywords", "miss")

	v, err, _ := s.keywordGroup.Do(language, func() (interface{}, error) {
		words, err := s.origin.FetchKeywords(ctx, language)
		if err != nil {
			return nil, err
		}
		if len(words) > 0 {
			s.keywordCache.SetDefault(language, words)
		}
		return words, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// localReady checks the store and logs when it has to be skipped
func (s *PictogramService) localReady(ctx context.Context, operation string) bool {
	if err := s.store.Ready(ctx); err != nil {
		s.logger.Warn("pictogram store unavailable; continuing remote-only", "operation", operation, "error", err)
		GetMetrics().RecordLookup(operation, "degraded")
		return false
	}
	return true
}

// writeBack materializes the asset and upserts the record. Failures are
// logged and counted; they never fail the read that triggered them.
func (s *PictogramService) writeBack(ctx context.Context, language string, p *models.OriginPictogram) bool {
	if err := s.cacheOrigin(ctx, language, p); err != nil {
		logging.WithPictogram(s.logger, p.ID).Warn("failed caching pictogram locally", "error", err)
		GetMetrics().RecordWriteBackFailure()
		return false
	}
	return true
}

// cacheOrigin reuses a still-present local asset, otherwise downloads one,
// then upserts the record
func (s *PictogramService) cacheOrigin(ctx context.Context, language string, p *models.OriginPictogram) error {
	imageURL, localPath, err := s.store.AssetPointer(ctx, p.ID)
	if err != nil {
		return err
	}

	if localPath == nil || !s.assets.Exists(*localPath) {
		var category *string
		if len(p.Categories) > 0 {
			category = &p.Categories[0]
		}
		imageURL, localPath, err = s.assets.Materialize(ctx, p.ID, category)
		if err != nil {
			return err
		}
	} else if imageURL == nil {
		raster := s.origin.RasterURL(p.ID)
		imageURL = &raster
	}

	return s.store.Upsert(ctx, language, p, imageURL, localPath)
}

// fromOrigin maps an origin record directly, for when the store cannot help
func (s *PictogramService) fromOrigin(language string, p *models.OriginPictogram) models.Pictogram {
	categories := append([]string{}, p.Categories...)
	var category *string
	if len(categories) > 0 {
		category = &categories[0]
	}
	imageURL := s.origin.RasterURL(p.ID)

	return models.Pictogram{
		ArasaacID:   p.ID,
		Keywords:    extractKeywordTokens(p),
		Category:    category,
		Categories:  categories,
		Tags:        append([]string{}, p.Tags...),
		Language:    language,
		ImageURL:    &imageURL,
		License:     s.license,
		Description: p.Desc,
	}
}

// FuzzyScore scores haystack against query: 1000 exact, 700 prefix, 400
// substring, otherwise 80 per query token found. Case-insensitive.
func FuzzyScore(query, haystack string) int {
	q := strings.ToLower(query)
	h := strings.ToLower(haystack)

	switch {
	case h == q:
		return 1000
	case strings.HasPrefix(h, q):
		return 700
	case strings.Contains(h, q):
		return 400
	}

	hits := 0
	for _, t := range strings.Fields(q) {
		if strings.Contains(h, t) {
			hits++
		}
	}
	return hits * 80
}

// RankByQuery sorts items by descending FuzzyScore, keeping the prior order
// among equal scores
func RankByQuery(items []models.Pictogram, query string) {
	type scored struct {
		p     models.Pictogram
		score int
	}
	ranked := make([]scored, len(items))
	for i := range items {
		ranked[i] = scored{p: items[i], score: FuzzyScore(query, items[i].SearchText())}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	for i := range ranked {
		items[i] = ranked[i].p
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
