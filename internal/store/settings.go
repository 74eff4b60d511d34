package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
)

// SettingsStore reads and writes the singleton settings row. Writes replace
// whole field groups; concurrent writers from other processes are
// last-write-wins per statement.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

const settingsCols = `id, lang, theme, unit, primary_color,
	oidc_enabled, oidc_discovery_url, oidc_client_id, oidc_client_secret,
	backup_enabled, backup_client_id, backup_client_secret, backup_folder_name,
	backup_frequency_days, backup_time, backup_retention_days,
	backup_last_at, backup_status, backup_credential`

func scanSettings(scanner interface{ Scan(...any) error }) (*model.Settings, error) {
	var s model.Settings
	var lastAt sql.NullTime
	var credential sql.NullString
	err := scanner.Scan(
		&s.ID, &s.Lang, &s.Theme, &s.Unit, &s.PrimaryColor,
		&s.OIDCEnabled, &s.OIDCDiscoveryURL, &s.OIDCClientID, &s.OIDCClientSecret,
		&s.Backup.Enabled, &s.Backup.ClientID, &s.Backup.ClientSecret, &s.Backup.FolderName,
		&s.Backup.FrequencyDays, &s.Backup.TargetTime, &s.Backup.RetentionDays,
		&lastAt, &s.Status.Message, &credential,
	)
	if err != nil {
		return nil, err
	}
	if lastAt.Valid {
		t := lastAt.Time
		s.Status.LastBackupAt = &t
	}
	s.Backup.Credential = credential.String
	return &s, nil
}

// Load returns the settings row, creating it with defaults on first read.
func (s *SettingsStore) Load(ctx context.Context) (*model.Settings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM settings WHERE id = ?`, model.SettingsID)
	settings, err := scanSettings(row)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings (id) VALUES (?)`, model.SettingsID); err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	settings, err = scanSettings(s.db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM settings WHERE id = ?`, model.SettingsID))
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// LoadPolicy returns the backup policy and run status.
func (s *SettingsStore) LoadPolicy(ctx context.Context) (model.BackupPolicy, model.RunStatus, error) {
	settings, err := s.Load(ctx)
	if err != nil {
		return model.BackupPolicy{}, model.RunStatus{}, err
	}
	return settings.Backup, settings.Status, nil
}

// SavePolicy writes the policy fields. The credential and run status are
// left alone; they have their own writers.
func (s *SettingsStore) SavePolicy(ctx context.Context, p model.BackupPolicy) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET backup_enabled = ?, backup_client_id = ?, backup_client_secret = ?,
		 backup_folder_name = ?, backup_frequency_days = ?, backup_time = ?, backup_retention_days = ?
		 WHERE id = ?`,
		p.Enabled, p.ClientID, p.ClientSecret, p.FolderName, p.FrequencyDays, p.TargetTime, p.RetentionDays,
		model.SettingsID,
	)
	if err != nil {
		return fmt.Errorf("save backup policy: %w", err)
	}
	return nil
}

// ApplyPolicyPatch applies a partial policy update and returns the result.
func (s *SettingsStore) ApplyPolicyPatch(ctx context.Context, patch model.PolicyPatch) (model.BackupPolicy, error) {
	policy, _, err := s.LoadPolicy(ctx)
	if err != nil {
		return model.BackupPolicy{}, err
	}
	patch.Apply(&policy)
	if err := s.SavePolicy(ctx, policy); err != nil {
		return model.BackupPolicy{}, err
	}
	return policy, nil
}

// SaveStatus records the outcome of a backup attempt. A nil lastBackupAt
// keeps the stored timestamp, so a failed attempt never moves it.
func (s *SettingsStore) SaveStatus(ctx context.Context, message string, lastBackupAt *time.Time) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	var err error
	if lastBackupAt != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE settings SET backup_status = ?, backup_last_at = ? WHERE id = ?`,
			message, lastBackupAt.UTC(), model.SettingsID,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE settings SET backup_status = ? WHERE id = ?`,
			message, model.SettingsID,
		)
	}
	if err != nil {
		return fmt.Errorf("save backup status: %w", err)
	}
	return nil
}

// SaveCredential replaces the stored credential blob.
func (s *SettingsStore) SaveCredential(ctx context.Context, credential string) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE settings SET backup_credential = ? WHERE id = ?`, credential, model.SettingsID,
	); err != nil {
		return fmt.Errorf("save backup credential: %w", err)
	}
	return nil
}

// Connect stores a fresh credential and enables backups.
func (s *SettingsStore) Connect(ctx context.Context, credential, message string) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE settings SET backup_credential = ?, backup_enabled = 1, backup_status = ? WHERE id = ?`,
		credential, message, model.SettingsID,
	); err != nil {
		return fmt.Errorf("connect backup: %w", err)
	}
	return nil
}

// Disable turns backups off and records why. Calling it twice is harmless.
func (s *SettingsStore) Disable(ctx context.Context, message string) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE settings SET backup_enabled = 0, backup_status = ? WHERE id = ?`, message, model.SettingsID,
	); err != nil {
		return fmt.Errorf("disable backup: %w", err)
	}
	return nil
}

// Disconnect drops the credential and disables backups.
func (s *SettingsStore) Disconnect(ctx context.Context, message string) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE settings SET backup_credential = NULL, backup_enabled = 0, backup_status = ? WHERE id = ?`,
		message, model.SettingsID,
	); err != nil {
		return fmt.Errorf("disconnect backup: %w", err)
	}
	return nil
}

// SavePreferences writes the general (non-backup) settings.
func (s *SettingsStore) SavePreferences(ctx context.Context, settings *model.Settings) error {
	if _, err := s.Load(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET lang = ?, theme = ?, unit = ?, primary_color = ?,
		 oidc_enabled = ?, oidc_discovery_url = ?, oidc_client_id = ?, oidc_client_secret = ?
		 WHERE id = ?`,
		settings.Lang, settings.Theme, settings.Unit, settings.PrimaryColor,
		settings.OIDCEnabled, settings.OIDCDiscoveryURL, settings.OIDCClientID, settings.OIDCClientSecret,
		model.SettingsID,
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Raw returns the settings row exactly as stored, or nil if it was never created.
// Used by the dump, which must not invent a row.
func (s *SettingsStore) Raw(ctx context.Context) (*model.Settings, error) {
	settings, err := scanSettings(s.db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM settings WHERE id = ?`, model.SettingsID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return settings, nil
}
