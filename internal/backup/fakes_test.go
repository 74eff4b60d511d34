package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
	"golang.org/x/oauth2"
)

// memPolicyStore implements PolicyStore and CredentialSaver in memory.
type memPolicyStore struct {
	mu      sync.Mutex
	policy  model.BackupPolicy
	status  model.RunStatus
	loadErr error
	saveErr error
	writes  int
}

func (m *memPolicyStore) LoadPolicy(context.Context) (model.BackupPolicy, model.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return model.BackupPolicy{}, model.RunStatus{}, m.loadErr
	}
	return m.policy, m.status, nil
}

func (m *memPolicyStore) SaveStatus(_ context.Context, message string, lastBackupAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.status.Message = message
	if lastBackupAt != nil {
		t := *lastBackupAt
		m.status.LastBackupAt = &t
	}
	return nil
}

func (m *memPolicyStore) Disable(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.policy.Enabled = false
	m.status.Message = message
	return nil
}

func (m *memPolicyStore) SaveCredential(_ context.Context, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.Credential = credential
	return nil
}

// fakeRemote is an in-memory RemoteStore.
type fakeRemote struct {
	mu        sync.Mutex
	folders   map[string]string
	objects   []Object
	uploads   map[string][]byte
	deleted   []string
	nextID    int
	findCalls int
	creates   int

	findErr   error
	uploadErr error
	listErr   error
	deleteErr map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		folders:   make(map[string]string),
		uploads:   make(map[string][]byte),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeRemote) id() string {
	f.nextID++
	return fmt.Sprintf("obj-%d", f.nextID)
}

func (f *fakeRemote) FindFolder(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return "", false, f.findErr
	}
	id, ok := f.folders[name]
	return id, ok, nil
}

func (f *fakeRemote) CreateFolder(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	id := f.id()
	f.folders[name] = id
	return id, nil
}

func (f *fakeRemote) Upload(_ context.Context, _, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	id := f.id()
	f.uploads[name] = data
	return id, nil
}

// ListOlderThan is inclusive at the cutoff so Prune's own strict check is exercised.
func (f *fakeRemote) ListOlderThan(_ context.Context, _ string, cutoff time.Time) ([]Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Object
	for _, o := range f.objects {
		if !o.CreatedAt.After(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDialer struct {
	remote *fakeRemote
	err    error
	dials  int
}

func (d *fakeDialer) Dial(context.Context, Credential) (RemoteStore, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.remote, nil
}

type fakeRefresher struct {
	tok   *oauth2.Token
	err   error
	calls int
}

func (r *fakeRefresher) Refresh(context.Context, string, string, string) (*oauth2.Token, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.tok, nil
}

type staticSettings struct {
	settings *model.Settings
	err      error
}

func (s staticSettings) Raw(context.Context) (*model.Settings, error) { return s.settings, s.err }

type staticResults struct {
	results []model.Result
	err     error
}

func (s staticResults) All(context.Context) ([]model.Result, error) { return s.results, s.err }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
