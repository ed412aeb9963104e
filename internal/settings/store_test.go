package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	dir  string
	path string
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.path = filepath.Join(s.dir, "settings.yaml")
}

func (s *StoreTestSuite) TestMissingFileUsesDefaults() {
	store, err := Open(s.path, "", nil)
	require.NoError(s.T(), err)

	snap := store.Snapshot()
	assert.True(s.T(), snap.VoiceEnabled)
	assert.False(s.T(), snap.OnboardingCompleted)
	assert.False(s.T(), snap.DefaultAssistantSet)
	assert.Empty(s.T(), store.APIKey())
	assert.False(s.T(), store.HasAPIKey())
}

func (s *StoreTestSuite) TestAPIKeyFallsBackToDefault() {
	store, err := Open(s.path, "build-key", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "build-key", store.APIKey())

	require.NoError(s.T(), store.SetAPIKey(" user-key "))
	assert.Equal(s.T(), "user-key", store.APIKey())

	require.NoError(s.T(), store.SetAPIKey(""))
	assert.Equal(s.T(), "build-key", store.APIKey())
}

func (s *StoreTestSuite) TestSettersPersist() {
	store, err := Open(s.path, "", nil)
	require.NoError(s.T(), err)

	require.NoError(s.T(), store.SetAPIKey("k"))
	require.NoError(s.T(), store.SetVoiceEnabled(false))
	require.NoError(s.T(), store.SetOnboardingCompleted(true))
	require.NoError(s.T(), store.SetDefaultAssistantSet(true))

	reopened, err := Open(s.path, "", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), Settings{
		GeminiAPIKey:        "k",
		VoiceEnabled:        false,
		OnboardingCompleted: true,
		DefaultAssistantSet: true,
	}, reopened.Snapshot())
}

func (s *StoreTestSuite) TestPartialFileKeepsDefaults() {
	require.NoError(s.T(), os.WriteFile(s.path, []byte("onboarding_completed: true\n"), 0o600))

	store, err := Open(s.path, "", nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), store.Snapshot().VoiceEnabled)
	assert.True(s.T(), store.Snapshot().OnboardingCompleted)
}

func (s *StoreTestSuite) TestMalformedFileFails() {
	require.NoError(s.T(), os.WriteFile(s.path, []byte("voice_enabled: [oops"), 0o600))
	_, err := Open(s.path, "", nil)
	assert.Error(s.T(), err)
}

func (s *StoreTestSuite) TestSubscribeSeesChanges() {
	store, err := Open(s.path, "", nil)
	require.NoError(s.T(), err)

	updates, cancel := store.Subscribe()
	defer cancel()
	assert.True(s.T(), (<-updates).VoiceEnabled)

	require.NoError(s.T(), store.SetVoiceEnabled(false))
	assert.False(s.T(), (<-updates).VoiceEnabled)

	require.NoError(s.T(), store.SetVoiceEnabled(false))
	select {
	case v := <-updates:
		s.T().Fatalf("unexpected update for unchanged value: %+v", v)
	default:
	}
}

func (s *StoreTestSuite) TestWatchReloadsExternalEdits() {
	store, err := Open(s.path, "", nil)
	require.NoError(s.T(), err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(s.T(), store.Watch(ctx))
	defer store.Close()

	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()
	<-updates

	require.NoError(s.T(), os.WriteFile(s.path, []byte("gemini_api_key: external\nvoice_enabled: true\n"), 0o600))

	select {
	case got := <-updates:
		assert.Equal(s.T(), "external", got.GeminiAPIKey)
	case <-time.After(5 * time.Second):
		s.T().Fatal("watcher did not pick up the edit")
	}
	assert.Equal(s.T(), "external", store.APIKey())
}
