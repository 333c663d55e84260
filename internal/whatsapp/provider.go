package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// Provider creates whatsmeow backed session clients. Each account keeps its
// device keys in its own sqlite store at <dir>/auth_<accountID>/session.db.
type Provider struct {
	dir string
	log waLog.Logger

	mu         sync.Mutex
	containers map[string]*sqlstore.Container
}

var _ gateway.ClientFactory = (*Provider)(nil)

func NewProvider(dir string) (*Provider, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create auth directory %s", dir)
	}
	return &Provider{
		dir:        dir,
		log:        NewLogger("whatsmeow"),
		containers: make(map[string]*sqlstore.Container),
	}, nil
}

// SessionPath is the sqlite file holding the device of accountID.
func (p *Provider) SessionPath(accountID string) string {
	return filepath.Join(p.dir, "auth_"+accountID, "session.db")
}

func (p *Provider) container(ctx context.Context, accountID string) (*sqlstore.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.containers[accountID]; ok {
		return c, nil
	}

	dbPath := p.SessionPath(accountID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session directory for %s", accountID)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	c, err := sqlstore.New(ctx, "sqlite3", dsn, p.log.Sub("store"))
	if err != nil {
		zap.L().Error("whatsapp: open session store failed",
			zap.String("phone_id", accountID), zap.String("path", dbPath), zap.Error(err))
		return nil, errors.Wrapf(err, "open session store for %s", accountID)
	}
	p.containers[accountID] = c
	return c, nil
}

// NewClient builds an unconnected client for accountID. Auto reconnect is
// left to the gateway manager.
func (p *Provider) NewClient(ctx context.Context, accountID string) (gateway.Client, error) {
	c, err := p.container(ctx, accountID)
	if err != nil {
		return nil, err
	}
	device, err := c.GetFirstDevice(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "load device for %s", accountID)
	}
	cli := whatsmeow.NewClient(device, p.log.Sub(accountID))
	cli.EnableAutoReconnect = false
	return newClient(accountID, cli), nil
}

// HasSession reports whether accountID has a linked device on disk.
func (p *Provider) HasSession(ctx context.Context, accountID string) bool {
	if _, err := os.Stat(p.SessionPath(accountID)); err != nil {
		return false
	}
	c, err := p.container(ctx, accountID)
	if err != nil {
		return false
	}
	device, err := c.GetFirstDevice(ctx)
	return err == nil && device.ID != nil
}

// Close releases every open session store.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for id, c := range p.containers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close session store for %s", id)
		}
		delete(p.containers, id)
	}
	return firstErr
}

// Forget closes the session store of accountID and removes its directory.
func (p *Provider) Forget(ctx context.Context, accountID string) error {
	p.mu.Lock()
	c, ok := p.containers[accountID]
	delete(p.containers, accountID)
	p.mu.Unlock()
	if ok {
		if err := c.Close(); err != nil {
			zap.L().Warn("whatsapp: close session store failed",
				zap.String("phone_id", accountID), zap.Error(err))
		}
	}
	dir := filepath.Dir(p.SessionPath(accountID))
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "remove session directory %s", dir)
	}
	return nil
}
