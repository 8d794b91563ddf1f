package runtime

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/mediaflo/internal/config"
	"github.com/rzbill/mediaflo/internal/streamlog"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "never"
	cfg.Storage.SweepInterval = 10 * time.Millisecond
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.EventLog() == nil {
		t.Fatalf("pebble backend should expose the event log")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "cassandra"
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNamingAndCodecFollowConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.KeyPrefix = "rec:"
	cfg.Stream.Compression = "snappy"
	rt, err := Open(context.Background(), Options{Config: cfg, SlowOp: time.Hour})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Naming().QueueKey() != "rec:queue" {
		t.Fatalf("queue key = %q", rt.Naming().QueueKey())
	}
	if rt.Codec().Compression().String() != "snappy" {
		t.Fatalf("compression = %s", rt.Codec().Compression())
	}
}

func TestSweeperRemovesExpiredStreams(t *testing.T) {
	rt, err := Open(context.Background(), Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	ctx := context.Background()
	if _, err := rt.Store().Append(ctx, "k", streamlog.MessageFields([]byte("x")), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := rt.Store().Expire(ctx, "k", time.Millisecond); err != nil {
		t.Fatalf("expire: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := rt.Store().Len(ctx, "k")
		if err != nil {
			t.Fatalf("len: %v", err)
		}
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream not swept")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
