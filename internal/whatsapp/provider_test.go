package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestProviderNewClient(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(dir)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	if got, want := p.SessionPath("sales"), filepath.Join(dir, "auth_sales", "session.db"); got != want {
		t.Errorf("SessionPath() = %q, want %q", got, want)
	}

	ctx := context.Background()
	c, err := p.NewClient(ctx, "sales")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	wc := c.(*Client)
	if wc.cli.EnableAutoReconnect {
		t.Error("auto reconnect must stay disabled")
	}
	if p.HasSession(ctx, "sales") {
		t.Error("fresh device should not report a linked session")
	}
	if p.HasSession(ctx, "unknown") {
		t.Error("unknown account should not report a session")
	}

	// the store is opened once per account
	if _, err := p.NewClient(ctx, "sales"); err != nil {
		t.Fatalf("second NewClient() error = %v", err)
	}
	if n := len(p.containers); n != 1 {
		t.Errorf("open stores = %d, want 1", n)
	}
}

func TestProviderForget(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(dir)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if _, err := p.NewClient(ctx, "sales"); err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := p.Forget(ctx, "sales"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(p.SessionPath("sales"))); !os.IsNotExist(err) {
		t.Errorf("session directory still present: %v", err)
	}
	if n := len(p.containers); n != 0 {
		t.Errorf("open stores = %d, want 0", n)
	}
	if err := p.Forget(ctx, "never"); err != nil {
		t.Errorf("Forget(unknown) error = %v", err)
	}
}
