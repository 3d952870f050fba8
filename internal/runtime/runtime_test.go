package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/averlane/courier/internal/config"
	pebblestore "github.com/averlane/courier/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestOpenQueueIsCached(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	a := rt.OpenQueue("email")
	b := rt.OpenQueue("email")
	if a != b {
		t.Fatalf("same queue name must yield the same instance")
	}
	if rt.OpenQueue("sms") == a {
		t.Fatalf("distinct queue names must not share an instance")
	}
}

func TestOpenExpiryStore(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.OpenExpiryStore() == nil {
		t.Fatalf("expiry store should be available")
	}
}
