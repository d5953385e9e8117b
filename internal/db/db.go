package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS courses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL CHECK(category IN ('Engineering','Medical','Business','Arts','Science','Technology','Other')),
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			original_name TEXT NOT NULL,
			stored_path TEXT NOT NULL UNIQUE,
			file_size INTEGER NOT NULL DEFAULT 0,
			page_count INTEGER NOT NULL DEFAULT 0,
			course_id INTEGER,
			tags TEXT NOT NULL DEFAULT '',
			download_count INTEGER NOT NULL DEFAULT 0,
			view_count INTEGER NOT NULL DEFAULT 0,
			summary TEXT,
			key_points TEXT,
			text_length INTEGER NOT NULL DEFAULT 0,
			analyzed_at DATETIME,
			uploaded_at DATETIME NOT NULL,
			FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS downloads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL,
			downloaded_at DATETIME NOT NULL,
			FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS review_cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL,
			question TEXT NOT NULL,
			options TEXT NOT NULL,
			correct_answer INTEGER NOT NULL CHECK(correct_answer >= 0 AND correct_answer < 4),
			explanation TEXT NOT NULL DEFAULT '',
			due DATETIME,
			stability REAL NOT NULL DEFAULT 0,
			difficulty REAL NOT NULL DEFAULT 0,
			elapsed_days INTEGER NOT NULL DEFAULT 0,
			scheduled_days INTEGER NOT NULL DEFAULT 0,
			reps INTEGER NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			last_review DATETIME,
			working_queue_position INTEGER DEFAULT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS review_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id INTEGER NOT NULL,
			rating INTEGER NOT NULL,
			scheduled_days INTEGER NOT NULL,
			elapsed_days INTEGER NOT NULL,
			state INTEGER NOT NULL,
			reviewed_at DATETIME NOT NULL,
			FOREIGN KEY(card_id) REFERENCES review_cards(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_course ON documents(course_id);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(uploaded_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_downloads_document ON downloads(document_id);`,
		`CREATE INDEX IF NOT EXISTS idx_review_cards_due ON review_cards(due);`,
		`CREATE INDEX IF NOT EXISTS idx_review_cards_document ON review_cards(document_id);`,
		`CREATE INDEX IF NOT EXISTS idx_review_cards_working_queue ON review_cards(working_queue_position) WHERE working_queue_position IS NOT NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	return nil
}
