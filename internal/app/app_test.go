package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identityrecon/internal/config"
	"identityrecon/internal/models"
)

func TestOpenStore(t *testing.T) {
	log, _ := test.NewNullLogger()
	dir := t.TempDir()

	for _, cfg := range []config.StoreConfig{
		{Driver: "memory"},
		{Driver: "file", DSN: filepath.Join(dir, "contacts.json")},
		{Driver: "sqlite3", DSN: filepath.Join(dir, "contacts.db")},
	} {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, err := OpenStore(cfg, log)
			require.NoError(t, err)
			assert.NoError(t, store.Ping(context.Background()))
			assert.NoError(t, store.Close())
		})
	}

	t.Run("unknown driver", func(t *testing.T) {
		_, err := OpenStore(config.StoreConfig{Driver: "mongo"}, log)
		assert.ErrorContains(t, err, "unknown store driver")
	})
}

func TestNewWiresResolver(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "contacts.db")}

	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.Close()

	resp, err := a.Service.Identify(context.Background(), models.IdentifyRequest{Email: models.StringPtr("a@x.com")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, resp.Contact.Emails)

	// Without brokers events go to the log.
	var published bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Event published" {
			published = true
		}
	}
	assert.True(t, published)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "close is idempotent")
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "memory"}
	cfg.Lock.Backend = "redis"
	cfg.Lock.RedisURL = "redis://127.0.0.1:1/0"

	_, err := New(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "connect redis lock")
}

func TestSQLiteBackedMerges(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "contacts.db")}

	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	identify := func(email, phone string) models.ContactResponse {
		t.Helper()
		resp, err := a.Service.Identify(ctx, models.IdentifyRequest{Email: models.StringPtr(email), PhoneNumber: models.StringPtr(phone)})
		require.NoError(t, err)
		return resp.Contact
	}

	first := identify("a@x.com", "111")
	assert.Equal(t, models.ContactResponse{
		PrimaryContactID:    first.PrimaryContactID,
		Emails:              []string{"a@x.com"},
		PhoneNumbers:        []string{"111"},
		SecondaryContactIDs: []int64{},
	}, first)

	t.Run("new phone becomes a secondary", func(t *testing.T) {
		view := identify("a@x.com", "999")
		assert.Equal(t, first.PrimaryContactID, view.PrimaryContactID)
		assert.Equal(t, []string{"111", "999"}, view.PhoneNumbers)
		assert.Len(t, view.SecondaryContactIDs, 1)
	})

	t.Run("bridging request merges two primaries", func(t *testing.T) {
		other := identify("b@x.com", "222")
		require.NotEqual(t, first.PrimaryContactID, other.PrimaryContactID)

		view := identify("a@x.com", "222")
		assert.Equal(t, first.PrimaryContactID, view.PrimaryContactID, "the older primary survives")
		assert.Equal(t, []string{"a@x.com", "b@x.com"}, view.Emails)
		assert.Equal(t, []string{"111", "222", "999"}, view.PhoneNumbers)
		assert.Len(t, view.SecondaryContactIDs, 2)
		assert.Contains(t, view.SecondaryContactIDs, other.PrimaryContactID)
		assert.IsIncreasing(t, view.SecondaryContactIDs)

		members, err := a.Store.FindLinkedContacts(ctx, []int64{view.PrimaryContactID})
		require.NoError(t, err)
		require.Len(t, members, 3)
		for _, c := range members {
			if c.ID == view.PrimaryContactID {
				assert.True(t, c.IsCanonicalPrimary())
				continue
			}
			assert.Equal(t, models.PrecedenceSecondary, c.LinkPrecedence)
			require.NotNil(t, c.LinkedID)
			assert.Equal(t, view.PrimaryContactID, *c.LinkedID)
		}
	})
}
