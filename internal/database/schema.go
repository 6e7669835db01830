package database

// pictogramSchema returns the statements creating the pictogram cache table and
// its text index. MySQL uses a FULLTEXT key; SQLite an external-content FTS5 table
// kept in sync by triggers.
func pictogramSchema(d Dialect) []string {
	if d == DialectMySQL {
		return []string{`
			CREATE TABLE IF NOT EXISTS pictograms (
				id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				arasaac_id      INT NOT NULL,
				keywords_json   JSON NOT NULL,
				category        VARCHAR(120) NULL,
				categories_json JSON NULL,
				tags_json       JSON NULL,
				keywords_text   TEXT NOT NULL,
				categories_text TEXT NULL,
				tags_text       TEXT NULL,
				description     TEXT NULL,
				language        VARCHAR(8) NOT NULL DEFAULT 'en',
				image_url       VARCHAR(500) NULL,
				local_file_path VARCHAR(500) NULL,
				width           INT NULL,
				height          INT NULL,
				license         VARCHAR(255) NOT NULL,
				metadata_json   JSON NULL,
				created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
				UNIQUE KEY uq_pictograms_arasaac_id (arasaac_id),
				INDEX idx_pictograms_language (language),
				INDEX idx_pictograms_category (category),
				FULLTEXT KEY ft_pictograms_search (keywords_text, categories_text, tags_text, description)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		}
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS pictograms (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			arasaac_id      INTEGER NOT NULL UNIQUE,
			keywords_json   TEXT NOT NULL,
			category        TEXT NULL,
			categories_json TEXT NULL,
			tags_json       TEXT NULL,
			keywords_text   TEXT NOT NULL,
			categories_text TEXT NULL,
			tags_text       TEXT NULL,
			description     TEXT NULL,
			language        TEXT NOT NULL DEFAULT 'en',
			image_url       TEXT NULL,
			local_file_path TEXT NULL,
			width           INTEGER NULL,
			height          INTEGER NULL,
			license         TEXT NOT NULL,
			metadata_json   TEXT NULL,
			created_at      DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
			updated_at      DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pictograms_language ON pictograms(language)`,
		`CREATE INDEX IF NOT EXISTS idx_pictograms_category ON pictograms(category)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS pictograms_fts USING fts5(
			keywords_text, categories_text, tags_text, description,
			content='pictograms', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS pictograms_fts_ai AFTER INSERT ON pictograms BEGIN
			INSERT INTO pictograms_fts(rowid, keywords_text, categories_text, tags_text, description)
			VALUES (new.id, new.keywords_text, new.categories_text, new.tags_text, new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS pictograms_fts_ad AFTER DELETE ON pictograms BEGIN
			INSERT INTO pictograms_fts(pictograms_fts, rowid, keywords_text, categories_text, tags_text, description)
			VALUES ('delete', old.id, old.keywords_text, old.categories_text, old.tags_text, old.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS pictograms_fts_au AFTER UPDATE ON pictograms BEGIN
			INSERT INTO pictograms_fts(pictograms_fts, rowid, keywords_text, categories_text, tags_text, description)
			VALUES ('delete', old.id, old.keywords_text, old.categories_text, old.tags_text, old.description);
			INSERT INTO pictograms_fts(rowid, keywords_text, categories_text, tags_text, description)
			VALUES (new.id, new.keywords_text, new.categories_text, new.tags_text, new.description);
		END`,
	}
}

// supportSchema returns bookmarks, the prefetch settings singleton and the
// card library table the prefetcher reads candidate ids from. The card library
// belongs to the schedules feature; it is created here only so a fresh
// database has something to read.
func supportSchema(d Dialect) []string {
	if d == DialectMySQL {
		return []string{
			`CREATE TABLE IF NOT EXISTS saved_pictograms (
				user_id    VARCHAR(255) NOT NULL,
				arasaac_id INT NOT NULL,
				label      VARCHAR(255) NULL,
				used_count INT NOT NULL DEFAULT 0,
				saved_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_id, arasaac_id),
				INDEX idx_saved_pictograms_arasaac (arasaac_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
			`CREATE TABLE IF NOT EXISTS pictogram_prefetch_settings (
				id               TINYINT NOT NULL PRIMARY KEY,
				enabled          BOOLEAN NOT NULL DEFAULT FALSE,
				idle_minutes     INT NOT NULL DEFAULT 20,
				batch_size       INT NOT NULL DEFAULT 50,
				last_run_unix    BIGINT NULL,
				last_result_json JSON NULL,
				created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
			`CREATE TABLE IF NOT EXISTS visual_support_activity_library (
				id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				arasaac_id       INT NULL,
				local_image_path VARCHAR(500) NULL,
				is_system        BOOLEAN NOT NULL DEFAULT FALSE,
				INDEX idx_activity_library_arasaac (arasaac_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		}
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS saved_pictograms (
			user_id    TEXT NOT NULL,
			arasaac_id INTEGER NOT NULL,
			label      TEXT NULL,
			used_count INTEGER NOT NULL DEFAULT 0,
			saved_at   DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
			PRIMARY KEY (user_id, arasaac_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_saved_pictograms_arasaac ON saved_pictograms(arasaac_id)`,
		`CREATE TABLE IF NOT EXISTS pictogram_prefetch_settings (
			id               INTEGER NOT NULL PRIMARY KEY,
			enabled          BOOLEAN NOT NULL DEFAULT 0,
			idle_minutes     INTEGER NOT NULL DEFAULT 20,
			batch_size       INTEGER NOT NULL DEFAULT 50,
			last_run_unix    INTEGER NULL,
			last_result_json TEXT NULL,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS visual_support_activity_library (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			arasaac_id       INTEGER NULL,
			local_image_path TEXT NULL,
			is_system        BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_library_arasaac ON visual_support_activity_library(arasaac_id)`,
	}
}
