package app

import (
	"context"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.uber.org/zap"
)

// RestoreSessions reconnects every account that is still linked in the
// ledger, plus the default account when a default phone number is
// configured. It returns the number of connections started.
func (a *Application) RestoreSessions(ctx context.Context, conn Connector) (int, error) {
	targets := make(map[string]string)
	accounts, err := a.accounts.Restorable(ctx)
	if err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		phone := acc.PhoneNumber
		if phone == "" {
			phone = phoneFromJID(acc.Jid)
		}
		targets[acc.PhoneId] = phone
	}
	if phone := a.appConfig.Gateway.DefaultPhone; phone != "" {
		targets[gateway.DefaultAccountID] = phone
	}
	if len(targets) == 0 {
		return 0, nil
	}

	workers := a.appConfig.Gateway.RestoreWorkers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return 0, err
	}
	defer pool.Release()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for id, phone := range targets {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if _, err := conn.Connect(ctx, phone, id); err != nil {
				zap.L().Error("gateway: restore session failed",
					zap.String("phone_id", id), zap.Error(err))
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			zap.L().Error("gateway: restore submit failed",
				zap.String("phone_id", id), zap.Error(err))
		}
	}
	wg.Wait()
	zap.L().Info("gateway: sessions restored",
		zap.Int("started", started), zap.Int("candidates", len(targets)))
	return started, nil
}

// phoneFromJID extracts the user part of a device jid such as
// 6281234567890:3@s.whatsapp.net.
func phoneFromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}
