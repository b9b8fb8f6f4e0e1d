package remote

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token.json")
	tf := &TokenFile{
		Token:     "abc",
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
		Server:    "http://example.test",
		Username:  "alice",
	}

	if err := SaveToken(path, tf); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %v, want 0600", fi.Mode().Perm())
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.Token != tf.Token || got.Username != tf.Username || !got.ExpiresAt.Equal(tf.ExpiresAt) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestTokenFileExpiry(t *testing.T) {
	tf := &TokenFile{ExpiresAt: time.Now().Add(10 * time.Minute)}
	if tf.IsExpired(0) {
		t.Error("fresh token reported expired")
	}
	if !tf.IsExpired(time.Hour) {
		t.Error("margin past expiry not reported")
	}
}
