package app

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionStore removes the device keys of an account.
type SessionStore interface {
	Forget(ctx context.Context, accountID string) error
}

// AccountStore is the persistent ledger of managed accounts. It implements
// gateway.CredentialStore.
type AccountStore struct {
	db       *gorm.DB
	node     *snowflake.Node
	sessions SessionStore
}

var _ gateway.CredentialStore = (*AccountStore)(nil)

func NewAccountStore(db *gorm.DB, node *snowflake.Node) *AccountStore {
	return &AccountStore{db: db, node: node}
}

// WithSessions makes InvalidateCredentials also drop the on-disk session.
func (s *AccountStore) WithSessions(sessions SessionStore) *AccountStore {
	s.sessions = sessions
	return s
}

// ensure loads the row of accountID, creating it on first use.
func (s *AccountStore) ensure(ctx context.Context, accountID string) (*domain.WhatsAppAccount, error) {
	var acc domain.WhatsAppAccount
	err := s.db.WithContext(ctx).
		Where(domain.WhatsAppAccount{PhoneId: accountID}).
		Attrs(domain.WhatsAppAccount{ID: s.node.Generate().Int64()}).
		FirstOrCreate(&acc).Error
	if err == nil {
		return &acc, nil
	}
	// lost a concurrent insert on the unique phone_id
	if err2 := s.db.WithContext(ctx).Where("phone_id = ?", accountID).First(&acc).Error; err2 != nil {
		return nil, errors.Wrapf(err, "ensure account %s", accountID)
	}
	return &acc, nil
}

func (s *AccountStore) Get(ctx context.Context, accountID string) (*domain.WhatsAppAccount, error) {
	var acc domain.WhatsAppAccount
	if err := s.db.WithContext(ctx).Where("phone_id = ?", accountID).First(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *AccountStore) SaveCredentials(ctx context.Context, accountID string, creds gateway.Credentials) error {
	acc, err := s.ensure(ctx, accountID)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"linked": true}
	if creds.JID != "" {
		updates["jid"] = creds.JID
	}
	if creds.PushName != "" {
		updates["push_name"] = creds.PushName
	}
	if creds.Platform != "" {
		updates["platform"] = creds.Platform
	}
	return s.db.WithContext(ctx).Model(acc).Updates(updates).Error
}

func (s *AccountStore) InvalidateCredentials(ctx context.Context, accountID string) error {
	acc, err := s.ensure(ctx, accountID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(acc).Updates(map[string]interface{}{
		"linked": false,
		"jid":    "",
	}).Error
	if err != nil {
		return err
	}
	s.appendLog(ctx, accountID, "credentials_cleared", "")
	if s.sessions != nil {
		return s.sessions.Forget(ctx, accountID)
	}
	return nil
}

// RecordStatus mirrors a registry snapshot into the ledger. A row is added
// to the event log whenever the status or the last error changes.
func (s *AccountStore) RecordStatus(ctx context.Context, snap gateway.Snapshot) error {
	acc, err := s.ensure(ctx, snap.PhoneID)
	if err != nil {
		return err
	}
	status := string(snap.Status)
	changed := acc.Status != status || acc.LastError != snap.LastError

	updates := map[string]interface{}{
		"status":     status,
		"mode":       snap.Mode,
		"last_error": snap.LastError,
	}
	if snap.PhoneNumber != "" {
		updates["phone_number"] = snap.PhoneNumber
	}
	if snap.User != "" {
		updates["jid"] = snap.User
	}
	if snap.Connected && acc.Status != status {
		updates["opened_at"] = snap.UpdatedAt
	}
	if err := s.db.WithContext(ctx).Model(acc).Updates(updates).Error; err != nil {
		return err
	}
	if changed {
		s.appendLog(ctx, snap.PhoneID, status, snap.LastError)
	}
	return nil
}

func (s *AccountStore) appendLog(ctx context.Context, accountID, status, detail string) {
	entry := domain.WhatsAppEventLog{
		ID:        s.node.Generate().Int64(),
		PhoneId:   accountID,
		Status:    status,
		Detail:    detail,
		EventTime: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		zap.L().Warn("ledger: append event log failed",
			zap.String("phone_id", accountID), zap.Error(err))
	}
}

// Restorable lists accounts whose device is still linked.
func (s *AccountStore) Restorable(ctx context.Context) ([]domain.WhatsAppAccount, error) {
	var accounts []domain.WhatsAppAccount
	err := s.db.WithContext(ctx).Where("linked = ?", true).Order("phone_id").Find(&accounts).Error
	return accounts, err
}

// EventLogs returns the most recent lifecycle events of accountID.
func (s *AccountStore) EventLogs(ctx context.Context, accountID string, limit int) ([]domain.WhatsAppEventLog, error) {
	var logs []domain.WhatsAppEventLog
	err := s.db.WithContext(ctx).
		Where("phone_id = ?", accountID).
		Order("event_time desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// PurgeEventLogs deletes event log rows older than before.
func (s *AccountStore) PurgeEventLogs(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("event_time < ?", before).Delete(&domain.WhatsAppEventLog{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "purge event logs")
	}
	return res.RowsAffected, nil
}
