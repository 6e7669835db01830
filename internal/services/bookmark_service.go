package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"pictocache/internal/config"
	"pictocache/internal/database"
	"pictocache/internal/logging"
	"pictocache/internal/models"
)

const maxSavedRows = 200

// BookmarkService manages per-user saved pictograms. Bookmarks are
// independent of the shared cache: an id can be saved before it is cached.
type BookmarkService struct {
	db      *database.DB
	license string
	logger  *slog.Logger
}

// NewBookmarkService creates a bookmark service
func NewBookmarkService(db *database.DB, cfg config.PictogramConfig) *BookmarkService {
	return &BookmarkService{
		db:      db,
		license: cfg.License,
		logger:  logging.WithComponent("pictogram-bookmarks"),
	}
}

// Save bookmarks a pictogram. Re-saving only replaces the label when one is
// given and never resets the use counter.
func (s *BookmarkService) Save(ctx context.Context, userID string, arasaacID int, label *string) error {
	if userID == "" {
		return badRequest("user id is required")
	}
	if arasaacID <= 0 {
		return badRequest("invalid pictogram id")
	}

	stmt := `INSERT INTO saved_pictograms (user_id, arasaac_id, label)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, arasaac_id) DO UPDATE SET label = COALESCE(excluded.label, label)`
	if s.db.IsMySQL() {
		stmt = `INSERT INTO saved_pictograms (user_id, arasaac_id, label)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE label = COALESCE(VALUES(label), label)`
	}

	if _, err := s.db.ExecContext(ctx, stmt, userID, arasaacID, label); err != nil {
		return internalError("failed to save pictogram", err)
	}
	logging.WithUser(s.logger, userID).Debug("pictogram saved", "arasaac_id", arasaacID)
	return nil
}

// Unsave removes a bookmark; a missing bookmark is not an error
func (s *BookmarkService) Unsave(ctx context.Context, userID string, arasaacID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM saved_pictograms WHERE user_id = ? AND arasaac_id = ?`, userID, arasaacID)
	if err != nil {
		return internalError("failed to remove saved pictogram", err)
	}
	return nil
}

// RecordUse increments the use counter of an existing bookmark. It does
// nothing when the pictogram is not saved.
func (s *BookmarkService) RecordUse(ctx context.Context, userID string, arasaacID int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE saved_pictograms SET used_count = used_count + 1 WHERE user_id = ? AND arasaac_id = ?`,
		userID, arasaacID)
	if err != nil {
		return internalError("failed to record pictogram use", err)
	}
	return nil
}

// List returns a user's bookmarks joined with cached metadata, most used
// first then most recently saved
func (s *BookmarkService) List(ctx context.Context, userID, language string) ([]models.SavedPictogram, error) {
	language = NormalizeLanguage(language)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			sp.arasaac_id,
			sp.label,
			sp.used_count,
			p.keywords_text,
			p.categories_text,
			p.tags_text,
			COALESCE(p.language, ?) AS language,
			p.image_url,
			p.local_file_path,
			p.license,
			p.description
		FROM saved_pictograms sp
		LEFT JOIN pictograms p ON p.arasaac_id = sp.arasaac_id
		WHERE sp.user_id = ?
		ORDER BY sp.used_count DESC, sp.saved_at DESC
		LIMIT ?`, language, userID, maxSavedRows)
	if err != nil {
		return nil, internalError("failed to list saved pictograms", err)
	}
	defer rows.Close()

	out := make([]models.SavedPictogram, 0)
	for rows.Next() {
		var (
			sp                                models.SavedPictogram
			label, keywords, categories, tags sql.NullString
			imageURL, localPath, license      sql.NullString
			description                       sql.NullString
		)
		if err := rows.Scan(
			&sp.ArasaacID, &label, &sp.UsedCount,
			&keywords, &categories, &tags, &sp.Language,
			&imageURL, &localPath, &license, &description,
		); err != nil {
			return nil, internalError("failed to scan saved pictogram", err)
		}

		sp.Label = nullString(label)
		sp.Keywords = splitTokens(keywords.String)
		sp.Categories = splitTokens(categories.String)
		sp.Tags = splitTokens(tags.String)
		sp.ImageURL = nullString(imageURL)
		sp.LocalFilePath = nullString(localPath)
		sp.License = s.license
		if license.Valid && license.String != "" {
			sp.License = license.String
		}
		sp.Description = nullString(description)
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, internalError("failed to iterate saved pictograms", err)
	}
	return out, nil
}

// SavedIDs returns the ids a user has bookmarked
func (s *BookmarkService) SavedIDs(ctx context.Context, userID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT arasaac_id FROM saved_pictograms WHERE user_id = ? ORDER BY arasaac_id`, userID)
	if err != nil {
		return nil, internalError("failed to list saved pictogram ids", err)
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan saved pictogram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
