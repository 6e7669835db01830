package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pictocache/internal/config"
	"pictocache/internal/database"
	"pictocache/internal/logging"
	"pictocache/internal/models"
)

const (
	minIdleMinutes = 1
	maxIdleMinutes = 24 * 60
	minBatchSize   = 1
	maxBatchSize   = 2000

	prefetchLanguage = defaultLanguage
	prefetchLockKey  = "pictocache:prefetch:lock"
	prefetchLockTTL  = 30 * time.Minute
)

// settingsQuerier is satisfied by both the pool and a transaction
type settingsQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PrefetchService warms the cache while foreground traffic is quiet. Each
// Tick moves idle -> evaluating -> (running) -> idle; batches never overlap.
type PrefetchService struct {
	db       *database.DB
	resolver *PictogramService
	assets   *AssetMaterializer
	clock    *ActivityClock
	defaults config.PictogramConfig
	locker   Locker
	logger   *slog.Logger

	state atomic.Value // string
	runMu sync.Mutex
}

// NewPrefetchService creates the idle prefetcher. cfg supplies the defaults
// the settings row is created with.
func NewPrefetchService(db *database.DB, resolver *PictogramService, assets *AssetMaterializer, clock *ActivityClock, cfg config.PictogramConfig) *PrefetchService {
	s := &PrefetchService{
		db:       db,
		resolver: resolver,
		assets:   assets,
		clock:    clock,
		defaults: cfg,
		logger:   logging.WithComponent("pictogram-prefetch"),
	}
	s.state.Store(models.PrefetchStateIdle)
	return s
}

// SetLocker makes batches take a cross-instance lock first
func (s *PrefetchService) SetLocker(l Locker) {
	s.locker = l
}

// State returns the current scheduler state
func (s *PrefetchService) State() string {
	return s.state.Load().(string)
}

func (s *PrefetchService) setState(state string) {
	s.state.Store(state)
}

// GetSettings returns the settings singleton, creating it with defaults on
// first access
func (s *PrefetchService) GetSettings(ctx context.Context) (*models.PrefetchSettings, error) {
	if err := s.ensureSettingsRow(ctx, s.db); err != nil {
		return nil, err
	}
	return s.loadSettings(ctx, s.db)
}

// UpdateSettings applies the non-nil fields of upd. Values outside the
// allowed ranges are clamped.
func (s *PrefetchService) UpdateSettings(ctx context.Context, upd models.PrefetchSettingsUpdate) (*models.PrefetchSettings, error) {
	var idle, batch *int
	if upd.IdleMinutes != nil {
		v := clamp(*upd.IdleMinutes, minIdleMinutes, maxIdleMinutes)
		idle = &v
	}
	if upd.BatchSize != nil {
		v := clamp(*upd.BatchSize, minBatchSize, maxBatchSize)
		batch = &v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, internalError("failed to begin settings update", err)
	}
	defer tx.Rollback()

	if err := s.ensureSettingsRow(ctx, tx); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pictogram_prefetch_settings
		SET enabled = COALESCE(?, enabled),
		    idle_minutes = COALESCE(?, idle_minutes),
		    batch_size = COALESCE(?, batch_size),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`, upd.Enabled, idle, batch)
	if err != nil {
		return nil, internalError("failed to update prefetch settings", err)
	}

	settings, err := s.loadSettings(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, internalError("failed to commit prefetch settings", err)
	}

	s.logger.Info("prefetch settings updated",
		"enabled", settings.Enabled, "idle_minutes", settings.IdleMinutes, "batch_size", settings.BatchSize)
	return settings, nil
}

// RunNow executes one batch immediately, ignoring the enabled flag and the
// idle threshold
func (s *PrefetchService) RunNow(ctx context.Context) (*models.PrefetchRunResult, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	idle := s.clock.IdleSeconds()
	release, acquired, err := s.acquireBatchLock(ctx)
	if err != nil {
		return nil, internalError("failed to acquire prefetch lock", err)
	}
	if !acquired {
		GetMetrics().RecordPrefetchRun("locked")
		return &models.PrefetchRunResult{IdleSeconds: idle, StartedAt: time.Now().UTC(), Locked: true}, nil
	}
	defer release()

	s.setState(models.PrefetchStateRunning)
	defer s.setState(models.PrefetchStateIdle)

	return s.runBatch(ctx, settings.BatchSize, idle)
}

// acquireBatchLock takes the cross-instance lock when one is configured.
// Without a locker it always succeeds.
func (s *PrefetchService) acquireBatchLock(ctx context.Context) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	return s.locker.Acquire(ctx, prefetchLockKey, prefetchLockTTL)
}

// Tick is one scheduler evaluation. It returns a nil result when the tick
// was skipped: prefetch disabled, not idle long enough, or another batch
// (here or on another instance) holds the lock.
func (s *PrefetchService) Tick(ctx context.Context) (*models.PrefetchRunResult, error) {
	if !s.runMu.TryLock() {
		GetMetrics().RecordPrefetchRun("overlap")
		return nil, nil
	}
	defer s.runMu.Unlock()

	s.setState(models.PrefetchStateEvaluating)
	defer s.setState(models.PrefetchStateIdle)

	settings, err := s.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("unable to load prefetch settings; skipping tick", "error", err)
		GetMetrics().RecordPrefetchRun("failed")
		return nil, err
	}
	if !settings.Enabled {
		GetMetrics().RecordPrefetchRun("disabled")
		return nil, nil
	}

	idle := s.clock.IdleSeconds()
	if idle < int64(settings.IdleMinutes)*60 {
		GetMetrics().RecordPrefetchRun("busy")
		return nil, nil
	}

	release, acquired, err := s.acquireBatchLock(ctx)
	if err != nil {
		s.logger.Warn("prefetch lock unavailable; skipping tick", "error", err)
		GetMetrics().RecordPrefetchRun("failed")
		return nil, err
	}
	if !acquired {
		GetMetrics().RecordPrefetchRun("locked")
		return nil, nil
	}
	defer release()

	s.setState(models.PrefetchStateRunning)
	result, err := s.runBatch(ctx, settings.BatchSize, idle)
	if err != nil {
		s.logger.Warn("idle pictogram prefetch run failed", "error", err)
		return nil, err
	}
	return result, nil
}

// runBatch hydrates seeded assets, then resolves up to batchSize candidate
// ids. Individual failures are counted, never fatal.
func (s *PrefetchService) runBatch(ctx context.Context, batchSize int, idleSeconds int64) (*models.PrefetchRunResult, error) {
	start := time.Now()
	result := &models.PrefetchRunResult{IdleSeconds: idleSeconds, StartedAt: start.UTC()}

	hydrated, err := s.HydrateSeededAssets(ctx)
	if err != nil {
		s.logger.Warn("seeded asset hydration failed", "error", err)
	}
	result.HydratedSeeded = hydrated

	ids, err := s.CandidateIDs(ctx, batchSize)
	if err != nil {
		GetMetrics().RecordPrefetchRun("failed")
		return nil, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result.ProcessedIDs++
		log := logging.WithPictogram(s.logger, id)

		cached, err := s.resolver.IsCachedLocally(ctx, id)
		if err != nil {
			log.Debug("prefetch cache check failed", "error", err)
			result.Failed++
			continue
		}
		if cached {
			result.AlreadyCached++
			continue
		}

		p, err := s.resolver.ResolveByID(ctx, prefetchLanguage, id)
		if err != nil {
			log.Debug("prefetch skipped due to fetch error", "error", err)
			result.Failed++
			continue
		}
		if p.LocalFilePath != nil && s.assets.Exists(*p.LocalFilePath) {
			result.Downloaded++
		} else {
			result.Failed++
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()

	if err := s.recordRun(ctx, result); err != nil {
		s.logger.Warn("failed to persist prefetch run result", "error", err)
	}

	GetMetrics().RecordPrefetchRun("ran")
	GetMetrics().RecordPrefetchResult(result.Downloaded, result.AlreadyCached, result.Failed)
	s.logger.Info("pictogram prefetch batch finished",
		"processed", result.ProcessedIDs,
		"downloaded", result.Downloaded,
		"already_cached", result.AlreadyCached,
		"failed", result.Failed,
		"hydrated_seeded", result.HydratedSeeded,
		"duration_ms", result.DurationMs)
	return result, nil
}

// CandidateIDs returns distinct pictogram ids referenced by the card library,
// bookmarks or the cache itself, ascending, at most limit (clamped to 1..2000)
func (s *PrefetchService) CandidateIDs(ctx context.Context, limit int) ([]int, error) {
	limit = clamp(limit, minBatchSize, maxBatchSize)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.arasaac_id
		FROM (
			SELECT arasaac_id FROM visual_support_activity_library WHERE arasaac_id IS NOT NULL
			UNION
			SELECT arasaac_id FROM saved_pictograms WHERE arasaac_id IS NOT NULL
			UNION
			SELECT arasaac_id FROM pictograms WHERE arasaac_id IS NOT NULL
		) t
		WHERE t.arasaac_id > 0
		ORDER BY t.arasaac_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, internalError("failed to load prefetch candidates", err)
	}
	defer rows.Close()

	ids := make([]int, 0, limit)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, internalError("failed to scan prefetch candidate", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type seededAsset struct {
	arasaacID  int
	publicPath string
}

// HydrateSeededAssets re-downloads the files of system card-library rows whose
// asset path points into the pictogram tree but is missing on disk. It
// returns how many files were written.
func (s *PrefetchService) HydrateSeededAssets(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT arasaac_id, local_image_path
		FROM visual_support_activity_library
		WHERE is_system = 1
		  AND arasaac_id IS NOT NULL
		  AND local_image_path IS NOT NULL
		  AND local_image_path LIKE ?`, s.assets.PublicPrefix()+"/%")
	if err != nil {
		return 0, internalError("failed to load seeded assets", err)
	}

	var seeded []seededAsset
	for rows.Next() {
		var a seededAsset
		if err := rows.Scan(&a.arasaacID, &a.publicPath); err != nil {
			rows.Close()
			return 0, internalError("failed to scan seeded asset", err)
		}
		seeded = append(seeded, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, internalError("failed to iterate seeded assets", err)
	}

	hydrated := 0
	for _, a := range seeded {
		if s.assets.Exists(a.publicPath) {
			continue
		}
		log := logging.WithPictogram(s.logger, a.arasaacID).With("path", a.publicPath)

		ok, err := s.assets.HydrateTo(ctx, a.arasaacID, a.publicPath)
		switch {
		case err != nil:
			log.Warn("failed hydrating seeded pictogram asset", "error", err)
		case !ok:
			log.Warn("seeded pictogram asset could not be hydrated")
		default:
			hydrated++
		}
	}

	if hydrated > 0 {
		s.logger.Info("seeded pictogram assets hydrated", "count", hydrated)
	}
	return hydrated, nil
}

func (s *PrefetchService) ensureSettingsRow(ctx context.Context, q settingsQuerier) error {
	stmt := `INSERT OR IGNORE INTO pictogram_prefetch_settings (id, enabled, idle_minutes, batch_size)
		VALUES (1, ?, ?, ?)`
	if s.db.IsMySQL() {
		stmt = `INSERT INTO pictogram_prefetch_settings (id, enabled, idle_minutes, batch_size)
			VALUES (1, ?, ?, ?)
			ON DUPLICATE KEY UPDATE id = VALUES(id)`
	}

	_, err := q.ExecContext(ctx, stmt,
		s.defaults.PrefetchDefaultEnabled,
		clamp(s.defaults.PrefetchIdleMinutes, minIdleMinutes, maxIdleMinutes),
		clamp(s.defaults.PrefetchBatchSize, minBatchSize, maxBatchSize),
	)
	if err != nil {
		return internalError("failed to create prefetch settings", err)
	}
	return nil
}

func (s *PrefetchService) loadSettings(ctx context.Context, q settingsQuerier) (*models.PrefetchSettings, error) {
	var (
		settings   models.PrefetchSettings
		lastRun    sql.NullInt64
		lastResult sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT enabled, idle_minutes, batch_size, last_run_unix, last_result_json
		FROM pictogram_prefetch_settings
		WHERE id = 1`,
	).Scan(&settings.Enabled, &settings.IdleMinutes, &settings.BatchSize, &lastRun, &lastResult)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, internalError("prefetch settings row is missing", err)
	}
	if err != nil {
		return nil, internalError("failed to load prefetch settings", err)
	}

	settings.IdleMinutes = clamp(settings.IdleMinutes, minIdleMinutes, maxIdleMinutes)
	settings.BatchSize = clamp(settings.BatchSize, minBatchSize, maxBatchSize)
	if lastRun.Valid {
		t := time.Unix(lastRun.Int64, 0).UTC()
		settings.LastRunAt = &t
	}
	if lastResult.Valid && lastResult.String != "" {
		var r models.PrefetchRunResult
		if err := json.Unmarshal([]byte(lastResult.String), &r); err != nil {
			s.logger.Debug("ignoring unreadable last prefetch result", "error", err)
		} else {
			settings.LastResult = &r
		}
	}
	settings.IdleSeconds = s.clock.IdleSeconds()
	settings.State = s.State()
	return &settings, nil
}

func (s *PrefetchService) recordRun(ctx context.Context, result *models.PrefetchRunResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize prefetch result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pictogram_prefetch_settings
		SET last_run_unix = ?, last_result_json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`, time.Now().Unix(), string(raw))
	if err != nil {
		return fmt.Errorf("failed to record prefetch run: %w", err)
	}
	return nil
}
