package prefs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cabachat/caba/internal/model"
	"github.com/cabachat/caba/internal/options"
)

const userKey = "current_user"

// SetMuted flips the mute flag for a conversation. Rows where every flag
// is back at its default are deleted, so MutedChats round-trips a fully
// unmuted state to an empty map.
func (db *DB) SetMuted(chatID string, muted bool) error {
	_, err := db.Exec(`
		INSERT INTO chat_flags (chat_id, muted, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET muted = excluded.muted, updated_at = excluded.updated_at`,
		chatID, boolInt(muted), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return db.pruneDefaults(chatID)
}

// Muted reports the mute flag for one conversation.
func (db *DB) Muted(chatID string) (bool, error) {
	var muted int
	err := db.QueryRow(`SELECT muted FROM chat_flags WHERE chat_id = ?`, chatID).Scan(&muted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get muted: %w", err)
	}
	return muted != 0, nil
}

// MutedChats returns the set of muted conversations. Only muted ones are
// present; an all-unmuted state yields an empty map.
func (db *DB) MutedChats() (map[string]bool, error) {
	rows, err := db.Query(`SELECT chat_id FROM chat_flags WHERE muted = 1`)
	if err != nil {
		return nil, fmt.Errorf("list muted: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// SetVanish enables or disables disappearing messages for a conversation.
func (db *DB) SetVanish(chatID string, enabled bool, ttl time.Duration) error {
	secs := int64(0)
	if enabled {
		secs = int64(ttl / time.Second)
	}
	_, err := db.Exec(`
		INSERT INTO chat_flags (chat_id, vanish_enabled, vanish_duration_secs, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			vanish_enabled = excluded.vanish_enabled,
			vanish_duration_secs = excluded.vanish_duration_secs,
			updated_at = excluded.updated_at`,
		chatID, boolInt(enabled), secs, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set vanish: %w", err)
	}
	return db.pruneDefaults(chatID)
}

// Vanish reports the disappearing-message policy for a conversation.
// Absent rows and read errors both mean disabled, which keeps the send
// path working when prefs are unavailable.
func (db *DB) Vanish(chatID string) (bool, time.Duration) {
	var enabled int
	var secs int64
	err := db.QueryRow(`SELECT vanish_enabled, vanish_duration_secs FROM chat_flags WHERE chat_id = ?`, chatID).
		Scan(&enabled, &secs)
	if err != nil || enabled == 0 {
		return false, 0
	}
	return true, time.Duration(secs) * time.Second
}

// pruneDefaults drops the row once every flag is back at its zero value.
func (db *DB) pruneDefaults(chatID string) error {
	_, err := db.Exec(`DELETE FROM chat_flags WHERE chat_id = ? AND muted = 0 AND vanish_enabled = 0`, chatID)
	return err
}

// SetTheme persists the conversation background theme. Unknown names are
// rejected.
func (db *DB) SetTheme(name string) error {
	if _, ok := options.ThemeByName(name); !ok {
		return fmt.Errorf("unknown theme %q", name)
	}
	return db.setSetting("theme", name)
}

// Theme returns the persisted theme, or the default.
func (db *DB) Theme() string {
	v, err := db.getSetting("theme")
	if err != nil || v == "" {
		return options.DefaultTheme
	}
	return v
}

// SaveUser persists the signed-in user snapshot for the next start.
func (db *DB) SaveUser(u model.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return db.setSetting(userKey, string(raw))
}

// LoadUser returns the persisted user snapshot, or false when none exists.
func (db *DB) LoadUser() (model.User, bool, error) {
	raw, err := db.getSetting(userKey)
	if err != nil {
		return model.User{}, false, err
	}
	if raw == "" {
		return model.User{}, false, nil
	}
	var u model.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return model.User{}, false, fmt.Errorf("decode user: %w", err)
	}
	return u, true, nil
}

// ClearUser removes the persisted user snapshot on sign-out.
func (db *DB) ClearUser() error {
	_, err := db.Exec(`DELETE FROM settings WHERE key = ?`, userKey)
	return err
}

func (db *DB) setSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (db *DB) getSetting(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
