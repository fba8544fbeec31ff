package vscode

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// titleIndexKey is the ItemTable key under which the editor keeps its
// chat session index.
const titleIndexKey = "chat.ChatSessionStore.index"

// sqlitePoolSettings keeps a short-lived read-only handle from holding
// descriptors open.
func sqlitePoolSettings(db *sql.DB) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(time.Second)
}

type rawTitleIndex struct {
	Version int `json:"version"`
	Entries map[string]struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
	} `json:"entries"`
}

// readTitleIndex returns session titles keyed by session ID from a
// workspace's state.vscdb. A database without the index yields nil.
func readTitleIndex(dbPath string) (map[string]string, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, err
	}
	sqlitePoolSettings(db)
	defer db.Close()

	var value []byte
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = ?", titleIndexKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query title index: %w", err)
	}

	var idx rawTitleIndex
	if err := json.Unmarshal(value, &idx); err != nil {
		return nil, fmt.Errorf("decode title index: %w", err)
	}
	titles := make(map[string]string, len(idx.Entries))
	for key, entry := range idx.Entries {
		id := entry.SessionID
		if id == "" {
			id = key
		}
		if entry.Title != "" {
			titles[id] = entry.Title
		}
	}
	return titles, nil
}
