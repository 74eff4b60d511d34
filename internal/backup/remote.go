package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Object is a stored backup in the remote folder.
type Object struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// RemoteStore is the object store a backup is written to. Implementations
// return *RemoteError so callers can tell credential, quota and network
// failures apart.
type RemoteStore interface {
	// FindFolder looks up a folder by exact, case-sensitive name, ignoring
	// trashed entries.
	FindFolder(ctx context.Context, name string) (id string, found bool, err error)
	CreateFolder(ctx context.Context, name string) (string, error)
	Upload(ctx context.Context, folderID, name string, data []byte) (string, error)
	// ListOlderThan returns objects in the folder created strictly before cutoff.
	ListOlderThan(ctx context.Context, folderID string, cutoff time.Time) ([]Object, error)
	Delete(ctx context.Context, id string) error
}

// Dialer opens a RemoteStore for one backup attempt.
type Dialer interface {
	Dial(ctx context.Context, cred Credential) (RemoteStore, error)
}

// Credential is the decoded credential blob kept in the settings row. OAuth
// providers fill Token; S3 uses static keys.
type Credential struct {
	Token           *oauth2.Token `json:"token,omitempty"`
	AccessKeyID     string        `json:"access_key_id,omitempty"`
	SecretAccessKey string        `json:"secret_access_key,omitempty"`
}

// ParseCredential decodes a stored credential blob.
func ParseCredential(blob string) (Credential, error) {
	var c Credential
	if strings.TrimSpace(blob) == "" {
		return c, fmt.Errorf("credential is empty")
	}
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return c, fmt.Errorf("decode credential: %w", err)
	}
	if c.Token == nil && c.AccessKeyID == "" {
		return c, fmt.Errorf("credential holds neither a token nor access keys")
	}
	return c, nil
}

// Encode serializes the credential for storage.
func (c Credential) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	return string(b), nil
}

// folderCache remembers folder ids for the lifetime of one attempt only.
type folderCache struct {
	remote RemoteStore
	ids    map[string]string
}

func newFolderCache(remote RemoteStore) *folderCache {
	return &folderCache{remote: remote, ids: make(map[string]string)}
}

// Resolve finds the named folder, creating it when absent.
func (c *folderCache) Resolve(ctx context.Context, name string) (string, error) {
	if id, ok := c.ids[name]; ok {
		return id, nil
	}
	id, found, err := c.remote.FindFolder(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		id, err = c.remote.CreateFolder(ctx, name)
		if err != nil {
			return "", err
		}
	}
	c.ids[name] = id
	return id, nil
}

// ObjectName names an uploaded dump after the minute it was taken. Two runs
// within the same minute produce the same name.
func ObjectName(at time.Time, encrypted bool) string {
	name := "localspeed_backup_" + at.Format("2006-01-02_15-04") + ".sql"
	if encrypted {
		name += ".enc"
	}
	return name
}
