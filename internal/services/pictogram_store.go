package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"pictocache/internal/config"
	"pictocache/internal/database"
	"pictocache/internal/logging"
	"pictocache/internal/models"
)

const (
	maxSearchRows = 60
	tokenSep      = "||"
)

const pictogramColumns = `arasaac_id, keywords_text, category, categories_text, tags_text, language,
	image_url, local_file_path, width, height, license, description`

// PictogramStore is the persistent index of resolved pictograms
type PictogramStore struct {
	db          *database.DB
	license     string
	minTokenLen int
	minQueryLen int
	logger      *slog.Logger
}

// NewPictogramStore creates a store over db
func NewPictogramStore(db *database.DB, cfg config.PictogramConfig) *PictogramStore {
	return &PictogramStore{
		db:          db,
		license:     cfg.License,
		minTokenLen: cfg.FullTextMinTokenLen,
		minQueryLen: cfg.FullTextMinQueryLen,
		logger:      logging.WithComponent("pictogram-store"),
	}
}

// Ready makes sure the schema exists and the database answers. A non-nil
// error means callers should run in remote-only mode.
func (s *PictogramStore) Ready(ctx context.Context) error {
	if err := s.db.EnsurePictogramSchema(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Search finds cached pictograms for a free-text query in one language.
// Structured text search is used only when the query is long enough for the
// index; an empty structured result falls back to substring matching.
func (s *PictogramStore) Search(ctx context.Context, language, query string) ([]models.Pictogram, error) {
	if !s.useStructuredSearch(query) {
		return s.substringSearch(ctx, language, query)
	}

	rows, err := s.structuredSearch(ctx, language, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return s.substringSearch(ctx, language, query)
	}
	return rows, nil
}

// useStructuredSearch reports whether every token and the whole query clear
// the index's minimum lengths
func (s *PictogramStore) useStructuredSearch(query string) bool {
	if len([]rune(query)) < s.minQueryLen {
		return false
	}
	tokens := searchTokens(query)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if len([]rune(t)) < s.minTokenLen {
			return false
		}
	}
	return true
}

func (s *PictogramStore) structuredSearch(ctx context.Context, language, query string) ([]models.Pictogram, error) {
	tokens := searchTokens(query)

	var stmt, match string
	if s.db.IsMySQL() {
		terms := make([]string, len(tokens))
		for i, t := range tokens {
			terms[i] = t + "*"
		}
		match = strings.Join(terms, " ")
		stmt = `SELECT ` + pictogramColumns + `
			FROM pictograms
			WHERE language = ?
			  AND MATCH(keywords_text, categories_text, tags_text, description) AGAINST (? IN BOOLEAN MODE)
			LIMIT ?`
	} else {
		terms := make([]string, len(tokens))
		for i, t := range tokens {
			terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
		}
		match = strings.Join(terms, " OR ")
		stmt = `SELECT ` + pictogramColumns + `
			FROM pictograms
			WHERE language = ?
			  AND id IN (SELECT rowid FROM pictograms_fts WHERE pictograms_fts MATCH ?)
			LIMIT ?`
	}

	return s.queryPictograms(ctx, stmt, language, match, maxSearchRows)
}

func (s *PictogramStore) substringSearch(ctx context.Context, language, query string) ([]models.Pictogram, error) {
	like := "%" + escapeLike(strings.ToLower(query)) + "%"
	lower := s.db.LowerFunc()
	stmt := `SELECT ` + pictogramColumns + `
		FROM pictograms
		WHERE language = ?
		  AND (
		       ` + lower + `(keywords_text)   LIKE ? ESCAPE '!'
		    OR ` + lower + `(categories_text) LIKE ? ESCAPE '!'
		    OR ` + lower + `(tags_text)       LIKE ? ESCAPE '!'
		    OR ` + lower + `(description)     LIKE ? ESCAPE '!'
		  )
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`
	return s.queryPictograms(ctx, stmt, language, like, like, like, like, maxSearchRows)
}

// GetByID returns the cached pictogram or nil when there is none
func (s *PictogramStore) GetByID(ctx context.Context, arasaacID int) (*models.Pictogram, error) {
	rows, err := s.queryPictograms(ctx,
		`SELECT `+pictogramColumns+` FROM pictograms WHERE arasaac_id = ? LIMIT 1`, arasaacID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetByIDs returns the cached pictograms among ids, in the order of ids
func (s *PictogramStore) GetByIDs(ctx context.Context, ids []int) ([]models.Pictogram, error) {
	out := make([]models.Pictogram, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// AssetPointer returns the stored origin URL and public asset path of a
// pictogram. Both are nil when the pictogram is not cached.
func (s *PictogramStore) AssetPointer(ctx context.Context, arasaacID int) (*string, *string, error) {
	var imageURL, localPath sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT image_url, local_file_path FROM pictograms WHERE arasaac_id = ? LIMIT 1`, arasaacID,
	).Scan(&imageURL, &localPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read asset pointer: %w", err)
	}
	return nullString(imageURL), nullString(localPath), nil
}

// Upsert inserts or replaces the cached record for an origin pictogram.
// Concurrent upserts for one id converge: the last writer wins.
func (s *PictogramStore) Upsert(ctx context.Context, language string, p *models.OriginPictogram, imageURL, localPath *string) error {
	keywords := extractKeywordTokens(p)
	categories := nonNil(p.Categories)
	tags := nonNil(p.Tags)

	var category *string
	if len(categories) > 0 {
		category = &categories[0]
	}

	metadataJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize pictogram metadata: %w", err)
	}
	keywordsJSON, _ := json.Marshal(keywords)
	categoriesJSON, _ := json.Marshal(categories)
	tagsJSON, _ := json.Marshal(tags)

	var stmt string
	if s.db.IsMySQL() {
		stmt = `INSERT INTO pictograms (
				arasaac_id, keywords_json, category, categories_json, tags_json,
				keywords_text, categories_text, tags_text, description,
				language, image_url, local_file_path, width, height, license, metadata_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				keywords_json = VALUES(keywords_json),
				category = VALUES(category),
				categories_json = VALUES(categories_json),
				tags_json = VALUES(tags_json),
				keywords_text = VALUES(keywords_text),
				categories_text = VALUES(categories_text),
				tags_text = VALUES(tags_text),
				description = VALUES(description),
				language = VALUES(language),
				image_url = VALUES(image_url),
				local_file_path = VALUES(local_file_path),
				width = VALUES(width),
				height = VALUES(height),
				license = VALUES(license),
				metadata_json = VALUES(metadata_json),
				updated_at = CURRENT_TIMESTAMP`
	} else {
		stmt = `INSERT INTO pictograms (
				arasaac_id, keywords_json, category, categories_json, tags_json,
				keywords_text, categories_text, tags_text, description,
				language, image_url, local_file_path, width, height, license, metadata_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(arasaac_id) DO UPDATE SET
				keywords_json = excluded.keywords_json,
				category = excluded.category,
				categories_json = excluded.categories_json,
				tags_json = excluded.tags_json,
				keywords_text = excluded.keywords_text,
				categories_text = excluded.categories_text,
				tags_text = excluded.tags_text,
				description = excluded.description,
				language = excluded.language,
				image_url = excluded.image_url,
				local_file_path = excluded.local_file_path,
				width = excluded.width,
				height = excluded.height,
				license = excluded.license,
				metadata_json = excluded.metadata_json,
				updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')`
	}

	_, err = s.db.ExecContext(ctx, stmt,
		p.ID,
		string(keywordsJSON),
		category,
		string(categoriesJSON),
		string(tagsJSON),
		joinTokens(keywords),
		joinTokens(categories),
		joinTokens(tags),
		p.Desc,
		language,
		imageURL,
		localPath,
		nil,
		nil,
		s.license,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pictogram %d: %w", p.ID, err)
	}
	return nil
}

// queryPictograms runs stmt and fully drains the rows before returning, so
// callers can issue follow-up queries on a single-connection pool.
func (s *PictogramStore) queryPictograms(ctx context.Context, stmt string, args ...any) ([]models.Pictogram, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pictograms: %w", err)
	}
	defer rows.Close()

	out := make([]models.Pictogram, 0)
	for rows.Next() {
		var (
			p                        models.Pictogram
			keywordsText             string
			category, categoriesText sql.NullString
			tagsText, imageURL       sql.NullString
			localPath, description   sql.NullString
			width, height            sql.NullInt64
		)
		if err := rows.Scan(
			&p.ArasaacID, &keywordsText, &category, &categoriesText, &tagsText, &p.Language,
			&imageURL, &localPath, &width, &height, &p.License, &description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pictogram: %w", err)
		}

		p.Keywords = splitTokens(keywordsText)
		p.Category = nullString(category)
		p.Categories = splitTokens(categoriesText.String)
		p.Tags = splitTokens(tagsText.String)
		p.ImageURL = nullString(imageURL)
		p.LocalFilePath = nullString(localPath)
		p.Width = nullInt(width)
		p.Height = nullInt(height)
		p.Description = nullString(description)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pictograms: %w", err)
	}
	return out, nil
}

// extractKeywordTokens flattens keyword, plural and meaning into a sorted,
// de-duplicated token list
func extractKeywordTokens(p *models.OriginPictogram) []string {
	out := make([]string, 0, len(p.Keywords)*2)
	for _, k := range p.Keywords {
		for _, cand := range []*string{k.Keyword, k.Plural, k.Meaning} {
			if cand == nil {
				continue
			}
			if v := strings.TrimSpace(*cand); v != "" {
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)

	deduped := out[:0]
	for i, v := range out {
		if i == 0 || v != out[i-1] {
			deduped = append(deduped, v)
		}
	}
	return deduped
}

// searchTokens splits a query into index terms, dropping operator characters
// the MySQL boolean parser would interpret
func searchTokens(query string) []string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '+', '-', '>', '<', '(', ')', '~', '*', '"', '@', '\\':
			return ' '
		}
		return r
	}, query)
	return strings.Fields(stripped)
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func splitTokens(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, tokenSep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinTokens(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, tokenSep)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
