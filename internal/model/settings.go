package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SettingsID is the primary key of the singleton settings row.
const SettingsID = 1

const (
	DefaultFolderName    = "LocalSpeed_Backup"
	DefaultFrequencyDays = 1
	DefaultRetentionDays = 7
	DefaultBackupTime    = "04:00"
)

// Settings is the whole configuration row: UI preferences, OIDC login
// configuration, and the backup policy plus run status.
type Settings struct {
	ID               int64  `json:"id"`
	Lang             string `json:"lang"`
	Theme            string `json:"theme"`
	Unit             string `json:"unit"`
	PrimaryColor     string `json:"primary_color"`
	OIDCEnabled      bool   `json:"oidc_enabled"`
	OIDCDiscoveryURL string `json:"oidc_discovery_url"`
	OIDCClientID     string `json:"oidc_client_id"`
	OIDCClientSecret string `json:"-"`

	Backup BackupPolicy `json:"backup"`
	Status RunStatus    `json:"backup_status"`
}

// DefaultSettings returns the row written on first read.
func DefaultSettings() Settings {
	return Settings{
		ID:           SettingsID,
		Lang:         "en",
		Theme:        "dark",
		Unit:         "mbps",
		PrimaryColor: "#6200ea",
		Backup: BackupPolicy{
			FolderName:    DefaultFolderName,
			FrequencyDays: DefaultFrequencyDays,
			TargetTime:    DefaultBackupTime,
			RetentionDays: DefaultRetentionDays,
		},
	}
}

// BackupPolicy is the declarative part of the backup configuration.
type BackupPolicy struct {
	Enabled       bool   `json:"enabled"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"-"`
	FolderName    string `json:"folder_name"`
	FrequencyDays int    `json:"frequency_days"`
	TargetTime    string `json:"backup_time"`
	RetentionDays int    `json:"retention_days"`
	// Credential is the opaque remote-store credential blob. Empty means the
	// feature was never authorized.
	Credential string `json:"-"`
}

// HasCredential reports whether a usable-looking credential is stored.
func (p BackupPolicy) HasCredential() bool {
	return len(strings.TrimSpace(p.Credential)) > 10
}

// Frequency returns FrequencyDays clamped to at least one day.
func (p BackupPolicy) Frequency() int {
	if p.FrequencyDays < 1 {
		return DefaultFrequencyDays
	}
	return p.FrequencyDays
}

// ClockTime returns the hour and minute of TargetTime, falling back to 04:00
// when the value cannot be parsed.
func (p BackupPolicy) ClockTime() (hour, minute int) {
	h, m, err := ParseClock(p.TargetTime)
	if err != nil {
		return 4, 0
	}
	return h, m
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q: invalid hour", s)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q: invalid minute", s)
	}
	return hour, minute, nil
}

// RunStatus is written only by the backup executor.
type RunStatus struct {
	// LastBackupAt is the completion time of the last successful backup.
	LastBackupAt *time.Time `json:"last_backup_at"`
	Message      string     `json:"message"`
}

// PolicyPatch is a partial update of BackupPolicy. Nil fields are left unchanged.
type PolicyPatch struct {
	Enabled       *bool   `json:"enabled,omitempty"`
	ClientID      *string `json:"client_id,omitempty"`
	ClientSecret  *string `json:"client_secret,omitempty"`
	FolderName    *string `json:"folder_name,omitempty"`
	FrequencyDays *int    `json:"frequency_days,omitempty"`
	TargetTime    *string `json:"backup_time,omitempty"`
	RetentionDays *int    `json:"retention_days,omitempty"`
}

// Validate checks the fields that are present.
func (p PolicyPatch) Validate() error {
	if p.FrequencyDays != nil && *p.FrequencyDays < 1 {
		return fmt.Errorf("frequency_days must be at least 1")
	}
	if p.RetentionDays != nil && *p.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if p.TargetTime != nil {
		if _, _, err := ParseClock(*p.TargetTime); err != nil {
			return fmt.Errorf("backup_time must be HH:MM format")
		}
	}
	if p.FolderName != nil && strings.TrimSpace(*p.FolderName) == "" {
		return fmt.Errorf("folder_name must not be empty")
	}
	return nil
}

// Apply copies every present field onto policy.
func (p PolicyPatch) Apply(policy *BackupPolicy) {
	if p.Enabled != nil {
		policy.Enabled = *p.Enabled
	}
	if p.ClientID != nil {
		policy.ClientID = strings.TrimSpace(*p.ClientID)
	}
	if p.ClientSecret != nil {
		policy.ClientSecret = strings.TrimSpace(*p.ClientSecret)
	}
	if p.FolderName != nil {
		policy.FolderName = strings.TrimSpace(*p.FolderName)
	}
	if p.FrequencyDays != nil {
		policy.FrequencyDays = *p.FrequencyDays
	}
	if p.TargetTime != nil {
		policy.TargetTime = strings.TrimSpace(*p.TargetTime)
	}
	if p.RetentionDays != nil {
		policy.RetentionDays = *p.RetentionDays
	}
}

// PreferencesPatch is a partial update of the general settings.
type PreferencesPatch struct {
	Lang             *string `json:"lang,omitempty"`
	Theme            *string `json:"theme,omitempty"`
	Unit             *string `json:"unit,omitempty"`
	PrimaryColor     *string `json:"primary_color,omitempty"`
	OIDCEnabled      *bool   `json:"oidc_enabled,omitempty"`
	OIDCDiscoveryURL *string `json:"oidc_discovery_url,omitempty"`
	OIDCClientID     *string `json:"oidc_client_id,omitempty"`
	OIDCClientSecret *string `json:"oidc_client_secret,omitempty"`
}

func (p PreferencesPatch) Apply(s *Settings) {
	if p.Lang != nil {
		s.Lang = *p.Lang
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.Unit != nil {
		s.Unit = *p.Unit
	}
	if p.PrimaryColor != nil {
		s.PrimaryColor = *p.PrimaryColor
	}
	if p.OIDCEnabled != nil {
		s.OIDCEnabled = *p.OIDCEnabled
	}
	if p.OIDCDiscoveryURL != nil {
		s.OIDCDiscoveryURL = *p.OIDCDiscoveryURL
	}
	if p.OIDCClientID != nil {
		s.OIDCClientID = *p.OIDCClientID
	}
	if p.OIDCClientSecret != nil {
		s.OIDCClientSecret = *p.OIDCClientSecret
	}
}
