package prefs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cabachat/caba/internal/model"
	"github.com/cabachat/caba/internal/options"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caba.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	// testDB already ran Migrate; a second run must be a clean no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
}

func TestMuteRoundTrip(t *testing.T) {
	db := testDB(t)

	if err := db.SetMuted("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMuted("c2", true); err != nil {
		t.Fatal(err)
	}

	muted, err := db.MutedChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(muted) != 2 || !muted["c1"] || !muted["c2"] {
		t.Errorf("muted = %v", muted)
	}

	// Unmuting everything must round-trip to an empty map, not a map of
	// false entries.
	if err := db.SetMuted("c1", false); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMuted("c2", false); err != nil {
		t.Fatal(err)
	}
	muted, err = db.MutedChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(muted) != 0 {
		t.Errorf("muted = %v, want empty map", muted)
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_flags`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 0 {
		t.Errorf("%d chat_flags rows left after full unmute, want 0", rows)
	}
}

func TestUnmuteKeepsVanishRow(t *testing.T) {
	db := testDB(t)

	if err := db.SetMuted("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetVanish("c1", true, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMuted("c1", false); err != nil {
		t.Fatal(err)
	}

	enabled, ttl := db.Vanish("c1")
	if !enabled || ttl != time.Hour {
		t.Errorf("Vanish(c1) = %v, %v after unmute", enabled, ttl)
	}
}

func TestVanishDefaults(t *testing.T) {
	db := testDB(t)

	if enabled, _ := db.Vanish("nope"); enabled {
		t.Error("vanish enabled for unknown conversation")
	}

	if err := db.SetVanish("c1", true, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	enabled, ttl := db.Vanish("c1")
	if !enabled || ttl != 24*time.Hour {
		t.Errorf("Vanish(c1) = %v, %v", enabled, ttl)
	}

	if err := db.SetVanish("c1", false, 0); err != nil {
		t.Fatal(err)
	}
	if enabled, _ := db.Vanish("c1"); enabled {
		t.Error("vanish still enabled after disable")
	}
}

func TestThemeValidation(t *testing.T) {
	db := testDB(t)

	if got := db.Theme(); got != options.DefaultTheme {
		t.Errorf("Theme() = %q with nothing persisted, want %q", got, options.DefaultTheme)
	}
	if err := db.SetTheme("ocean"); err != nil {
		t.Fatal(err)
	}
	if got := db.Theme(); got != "ocean" {
		t.Errorf("Theme() = %q, want ocean", got)
	}
	if err := db.SetTheme("neon-zebra"); err == nil {
		t.Error("SetTheme accepted an unknown theme")
	}
}

func TestUserSnapshot(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.LoadUser(); err != nil || ok {
		t.Fatalf("LoadUser() = ok=%v err=%v on empty db", ok, err)
	}

	u := model.User{ID: "u1", Name: "Ana", Email: "ana@example.com"}
	if err := db.SaveUser(u); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.LoadUser()
	if err != nil || !ok {
		t.Fatalf("LoadUser() = ok=%v err=%v", ok, err)
	}
	if got != u {
		t.Errorf("user = %+v, want %+v", got, u)
	}

	if err := db.ClearUser(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.LoadUser(); ok {
		t.Error("user survives ClearUser")
	}
}
