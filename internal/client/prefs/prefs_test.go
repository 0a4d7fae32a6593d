package prefs

import (
	"path/filepath"
	"testing"
)

func TestFirstRunCreatesIdentity(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}

	p, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if p.ClientID == "" {
		t.Fatalf("first run must mint a client id")
	}
	if p.DisplayName != "Guest" {
		t.Fatalf("expected default display name, got %q", p.DisplayName)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}

	p.DisplayName = "Alice"
	p.MicOn = true
	p.LastRoomID = "standup"
	if err := store.Save(p); err != nil {
		t.Fatal(err)
	}

	// Reopen, as a restarted client would.
	store2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := store2.Load()
	if err != nil {
		t.Fatal(err)
	}
	if p2.ClientID != p.ClientID {
		t.Fatalf("client id must be stable across restarts")
	}
	if p2.DisplayName != "Alice" || !p2.MicOn || p2.CamOn || p2.LastRoomID != "standup" {
		t.Fatalf("unexpected persisted preferences %+v", p2)
	}
}
