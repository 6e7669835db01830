package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"pictocache/internal/config"
	"pictocache/internal/logging"
	"pictocache/internal/models"
)

const (
	maxOriginBodySize = 32 * 1024 * 1024 // keyword lists are large
	maxAssetSize      = 10 * 1024 * 1024 // 10MB max per image
)

// OriginClient talks to the remote pictogram catalog. It never retries: a
// 429 surfaces as ErrorKindRateLimited and callers decide what to do.
type OriginClient struct {
	apiBase    string
	staticBase string
	userAgent  string
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewOriginClient creates an origin client with a bounded request timeout
func NewOriginClient(cfg config.PictogramConfig) *OriginClient {
	limit := rate.Limit(cfg.OriginRPS)
	if cfg.OriginRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.OriginBurst
	if burst < 1 {
		burst = 1
	}

	return &OriginClient{
		apiBase:    cfg.APIBase,
		staticBase: cfg.StaticBase,
		userAgent:  cfg.UserAgent,
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.WithComponent("pictogram-origin"),
	}
}

// Search runs the best-match search and falls back to the broad search when
// best-match has nothing.
func (c *OriginClient) Search(ctx context.Context, language, query string) ([]models.OriginPictogram, error) {
	encoded := url.PathEscape(query)

	best, err := c.fetchList(ctx, "bestsearch", fmt.Sprintf("%s/pictograms/%s/bestsearch/%s", c.apiBase, language, encoded))
	if err != nil {
		return nil, err
	}
	if len(best) > 0 {
		return best, nil
	}

	return c.fetchList(ctx, "search", fmt.Sprintf("%s/pictograms/%s/search/%s", c.apiBase, language, encoded))
}

// FetchByID returns one pictogram or an ErrorKindNotFound error
func (c *OriginClient) FetchByID(ctx context.Context, language string, arasaacID int) (*models.OriginPictogram, error) {
	list, err := c.fetchList(ctx, "by_id", fmt.Sprintf("%s/pictograms/%s/%d", c.apiBase, language, arasaacID))
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == arasaacID {
			return &list[i], nil
		}
	}
	if len(list) > 0 {
		return &list[len(list)-1], nil
	}
	return nil, notFound(fmt.Sprintf("pictogram %d not found", arasaacID))
}

// FetchNewest returns the n most recently published pictograms
func (c *OriginClient) FetchNewest(ctx context.Context, language string, n int) ([]models.OriginPictogram, error) {
	return c.fetchList(ctx, "new", fmt.Sprintf("%s/pictograms/%s/new/%d", c.apiBase, language, n))
}

// FetchKeywords returns the origin keyword list; an origin 404 is an empty list
func (c *OriginClient) FetchKeywords(ctx context.Context, language string) ([]string, error) {
	body, status, err := c.get(ctx, "keywords", fmt.Sprintf("%s/keywords/%s", c.apiBase, language))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []string{}, nil
	}

	var list models.OriginKeywordList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, internalError("failed to parse origin keywords response", err)
	}
	if list.Words == nil {
		return []string{}, nil
	}
	return list.Words, nil
}

// VectorURL is the origin URL of the SVG rendition
func (c *OriginClient) VectorURL(arasaacID int) string {
	return fmt.Sprintf("%s/%d/%d.svg", c.staticBase, arasaacID, arasaacID)
}

// RasterURL is the origin URL of the 500px PNG rendition
func (c *OriginClient) RasterURL(arasaacID int) string {
	return fmt.Sprintf("%s/%d/%d_500.png", c.staticBase, arasaacID, arasaacID)
}

// assetResponse is a downloaded asset body
type assetResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// FetchAsset downloads a static asset. Non-success statuses are returned,
// not turned into errors; only transport failures are errors.
func (c *OriginClient) FetchAsset(ctx context.Context, assetURL string) (*assetResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, internalError("origin rate limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, internalError("failed to create asset request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		GetMetrics().RecordOrigin("asset", "error", time.Since(start).Seconds())
		return nil, internalError("asset download failed", err)
	}
	defer resp.Body.Close()

	out := &assetResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		GetMetrics().RecordOrigin("asset", "status_"+strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		GetMetrics().RecordOrigin("asset", "error", time.Since(start).Seconds())
		return nil, internalError("failed reading asset body", err)
	}
	if len(body) > maxAssetSize {
		return nil, internalError(fmt.Sprintf("asset exceeds %d bytes", maxAssetSize), nil)
	}

	GetMetrics().RecordOrigin("asset", "ok", time.Since(start).Seconds())
	out.Body = body
	return out, nil
}

// fetchList fetches an endpoint answering with a pictogram array (or a single
// object). 404 means "no matches" and yields an empty slice.
func (c *OriginClient) fetchList(ctx context.Context, endpoint, target string) ([]models.OriginPictogram, error) {
	body, status, err := c.get(ctx, endpoint, target)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []models.OriginPictogram{}, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single models.OriginPictogram
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, internalError("failed to parse origin response", err)
		}
		return []models.OriginPictogram{single}, nil
	}

	var list []models.OriginPictogram
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, internalError("failed to parse origin response", err)
	}
	return list, nil
}

// get performs one paced GET. It returns the body for 2xx, a nil body with
// status 404, and a classified error for everything else.
func (c *OriginClient) get(ctx context.Context, endpoint, target string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, internalError("origin rate limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, internalError("failed to create origin request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		GetMetrics().RecordOrigin(endpoint, "error", elapsed)
		c.logger.Warn("origin request failed", "endpoint", endpoint, "error", err)
		return nil, 0, internalError("pictogram origin request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		GetMetrics().RecordOrigin(endpoint, "empty", elapsed)
		return nil, resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		GetMetrics().RecordOrigin(endpoint, "rate_limited", elapsed)
		c.logger.Warn("origin rate limit reached", "endpoint", endpoint)
		return nil, resp.StatusCode, ClassifyOriginStatus(resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		GetMetrics().RecordOrigin(endpoint, "error", elapsed)
		return nil, resp.StatusCode, ClassifyOriginStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOriginBodySize))
	if err != nil {
		GetMetrics().RecordOrigin(endpoint, "error", elapsed)
		return nil, resp.StatusCode, internalError("failed reading origin response", err)
	}

	GetMetrics().RecordOrigin(endpoint, "ok", elapsed)
	return body, resp.StatusCode, nil
}
