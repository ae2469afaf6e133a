package gate_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/gate"
	"github.com/tunegrab/tunegrab/internal/settings"
)

type memStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemStore() *memStore {
	return &memStore{vals: make(map[string]string)}
}

func (m *memStore) Ping(context.Context) error                  { return nil }
func (m *memStore) AddUser(context.Context, int64) error        { return nil }
func (m *memStore) CountUsers(context.Context) (int64, error)   { return 0, nil }
func (m *memStore) AllUserIDs(context.Context) ([]int64, error) { return nil, nil }
func (m *memStore) RunSQLMaintenance(context.Context) error     { return nil }

func (m *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *memStore) SeedSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; !ok {
		m.vals[key] = value
	}
	return nil
}

type fakeMembers struct {
	member bool
	err    error
	calls  int
}

func (f *fakeMembers) IsChannelMember(_ context.Context, _ string, _ int64) (bool, error) {
	f.calls++
	return f.member, f.err
}

func newGate(t *testing.T, channel string, members *fakeMembers) *gate.Gate {
	t.Helper()
	st, err := settings.NewStore(context.Background(), newMemStore(), config.SettingDefaults{
		UploadMode:      settings.UploadModeDirect,
		ForceSubChannel: channel,
	}, nil)
	if err != nil {
		t.Fatalf("settings.NewStore: %v", err)
	}
	return gate.New(st, members, nil)
}

func TestGate_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		channel   string
		members   *fakeMembers
		want      gate.Status
		wantCalls int
	}{
		{
			name:      "no channel configured passes without lookup",
			channel:   "",
			members:   &fakeMembers{},
			want:      gate.Yes,
			wantCalls: 0,
		},
		{
			name:      "member passes",
			channel:   "@music",
			members:   &fakeMembers{member: true},
			want:      gate.Yes,
			wantCalls: 1,
		},
		{
			name:      "non-member denied",
			channel:   "@music",
			members:   &fakeMembers{member: false},
			want:      gate.No,
			wantCalls: 1,
		},
		{
			name:      "lookup error is unknown, not a pass",
			channel:   "@music",
			members:   &fakeMembers{err: errors.New("bot is not a member of the channel chat")},
			want:      gate.Unknown,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := newGate(t, tt.channel, tt.members)
			if got := g.Check(context.Background(), 42); got != tt.want {
				t.Fatalf("Check = %s, want %s", got, tt.want)
			}
			if tt.members.calls != tt.wantCalls {
				t.Fatalf("member lookups = %d, want %d", tt.members.calls, tt.wantCalls)
			}
		})
	}
}

func TestGate_ChannelFollowsSettings(t *testing.T) {
	t.Parallel()

	st, err := settings.NewStore(context.Background(), newMemStore(), config.SettingDefaults{
		UploadMode: settings.UploadModeDirect,
	}, nil)
	if err != nil {
		t.Fatalf("settings.NewStore: %v", err)
	}
	g := gate.New(st, &fakeMembers{member: true}, nil)

	if got := g.Channel(); got != "" {
		t.Fatalf("Channel = %q, want empty", got)
	}
	if err := st.SetForceSubChannel(context.Background(), "music"); err != nil {
		t.Fatalf("SetForceSubChannel: %v", err)
	}
	if got := g.Channel(); got != "@music" {
		t.Fatalf("Channel = %q, want @music after setting change", got)
	}
}
