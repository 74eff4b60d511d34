package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	dumpMimeType   = "application/sql"
)

// DriveScopes limits access to files this application created.
var DriveScopes = []string{drive.DriveFileScope}

// DriveDialer opens Google Drive stores from an OAuth credential.
type DriveDialer struct {
	Timeout       time.Duration
	UploadTimeout time.Duration
	// Options are appended to the client options; tests point the client at
	// a fake server with them.
	Options []option.ClientOption
}

func (d DriveDialer) Dial(ctx context.Context, cred Credential) (RemoteStore, error) {
	if cred.Token == nil {
		return nil, fmt.Errorf("%w: drive credential has no oauth token", ErrNotConfigured)
	}
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(cred.Token))}, d.Options...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, &LocalError{Op: "create drive client", Err: err}
	}
	return &DriveStore{
		files:         srv.Files,
		timeout:       d.Timeout,
		uploadTimeout: d.UploadTimeout,
	}, nil
}

// DriveStore keeps backups in a Google Drive folder.
type DriveStore struct {
	files         *drive.FilesService
	timeout       time.Duration
	uploadTimeout time.Duration
}

func (s *DriveStore) FindFolder(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, escapeQuery(name))
	list, err := s.files.List().Q(q).Spaces("drive").Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", false, driveError("find folder", err)
	}
	for _, f := range list.Files {
		if f.Name == name {
			return f.Id, true, nil
		}
	}
	return "", false, nil
}

func (s *DriveStore) CreateFolder(ctx context.Context, name string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	f, err := s.files.Create(&drive.File{Name: name, MimeType: folderMimeType}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", driveError("create folder", err)
	}
	return f.Id, nil
}

func (s *DriveStore) Upload(ctx context.Context, folderID, name string, data []byte) (string, error) {
	ctx, cancel := withTimeout(ctx, s.uploadTimeout)
	defer cancel()

	f, err := s.files.Create(&drive.File{Name: name, Parents: []string{folderID}}).
		Media(bytes.NewReader(data), googleapi.ContentType(dumpMimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", driveError("upload", err)
	}
	return f.Id, nil
}

func (s *DriveStore) ListOlderThan(ctx context.Context, folderID string, cutoff time.Time) ([]Object, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	q := fmt.Sprintf("'%s' in parents and trashed=false and createdTime < '%s'",
		escapeQuery(folderID), cutoff.UTC().Format(time.RFC3339))

	var objects []Object
	err := s.files.List().Q(q).Spaces("drive").
		Fields("nextPageToken, files(id, name, createdTime)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				created, err := time.Parse(time.RFC3339, f.CreatedTime)
				if err != nil {
					return fmt.Errorf("parse createdTime of %s: %w", f.Id, err)
				}
				objects = append(objects, Object{ID: f.Id, Name: f.Name, CreatedAt: created})
			}
			return nil
		})
	if err != nil {
		return nil, driveError("list old backups", err)
	}
	return objects, nil
}

func (s *DriveStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.files.Delete(id).Context(ctx).Do(); err != nil {
		return driveError("delete", err)
	}
	return nil
}

// escapeQuery quotes a value for a Drive search query string literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func driveError(op string, err error) error {
	kind := KindOther
	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	switch {
	case errors.As(err, &rerr):
		kind = KindInvalidGrant
	case errors.As(err, &gerr):
		kind = driveErrorKind(gerr)
	case isTransient(err):
		kind = KindNetwork
	}
	return &RemoteError{Kind: kind, Op: op, Err: err}
}

func driveErrorKind(gerr *googleapi.Error) Kind {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "storageQuotaExceeded", "quotaExceeded":
			return KindQuotaExceeded
		case "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return KindRateLimited
		case "authError":
			return KindInvalidGrant
		}
	}
	switch {
	case gerr.Code == http.StatusUnauthorized:
		return KindInvalidGrant
	case gerr.Code == http.StatusNotFound:
		return KindNotFound
	case gerr.Code == http.StatusTooManyRequests:
		return KindRateLimited
	case gerr.Code >= 500:
		return KindNetwork
	}
	return KindOther
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
