package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"identityrecon/internal/models"
	"identityrecon/internal/storage"
	"identityrecon/internal/storage/storagetest"
)

func TestMemoryStoreContract(t *testing.T) {
	suite.Run(t, &storagetest.ContractSuite{
		Open: func(t *testing.T) storage.Store {
			return storage.NewMemoryStore()
		},
	})
}

func TestFileStoreContract(t *testing.T) {
	suite.Run(t, &storagetest.ContractSuite{
		Open: func(t *testing.T) storage.Store {
			s, err := storage.NewFileStore(filepath.Join(t.TempDir(), "contacts.json"))
			require.NoError(t, err)
			return s
		},
	})
}

func str(v string) *string { return &v }

func TestMemoryStoreExcludesDeleted(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	deleted := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	s.Seed(&models.Contact{ID: 1, Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary})
	linkedID := int64(1)
	s.Seed(&models.Contact{ID: 2, Email: str("a@x.com"), LinkedID: &linkedID, LinkPrecedence: models.PrecedenceSecondary, DeletedAt: &deleted})

	found, err := s.FindByEmailOrPhone(ctx, str("a@x.com"), nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(1), found[0].ID)

	linked, err := s.FindLinkedContacts(ctx, []int64{1})
	require.NoError(t, err)
	assert.Len(t, linked, 1)

	assert.Len(t, s.All(), 2, "All includes soft-deleted contacts")
}

func TestMemoryStoreOrdersByCreatedAtThenID(t *testing.T) {
	s := storage.NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Seed(&models.Contact{ID: 3, Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary, CreatedAt: base})
	s.Seed(&models.Contact{ID: 1, Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary, CreatedAt: base.Add(time.Second)})
	s.Seed(&models.Contact{ID: 2, Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary, CreatedAt: base})

	found, err := s.FindByEmailOrPhone(context.Background(), str("a@x.com"), nil)
	require.NoError(t, err)

	var got []int64
	for _, c := range found {
		got = append(got, c.ID)
	}
	assert.Equal(t, []int64{2, 3, 1}, got)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	id, err := s.Create(ctx, models.NewContact{Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary})
	require.NoError(t, err)

	found, err := s.FindByEmailOrPhone(ctx, str("a@x.com"), nil)
	require.NoError(t, err)
	*found[0].Email = "mutated@x.com"
	found[0].LinkPrecedence = models.PrecedenceSecondary

	again, err := s.FindLinkedContacts(ctx, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", *again[0].Email)
	assert.Equal(t, models.PrecedencePrimary, again[0].LinkPrecedence)
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.FindByEmailOrPhone(ctx, str("a@x.com"), nil)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), storage.ErrClosed)
	assert.ErrorIs(t, s.RunInTx(ctx, func(storage.ContactStore) error { return nil }), storage.ErrClosed)
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.NewMemoryStore().Create(ctx, models.NewContact{Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "contacts.json")

	s, err := storage.NewFileStore(path)
	require.NoError(t, err)
	first, err := s.Create(ctx, models.NewContact{Email: str("a@x.com"), PhoneNumber: str("111"), LinkPrecedence: models.PrecedencePrimary})
	require.NoError(t, err)
	second, err := s.Create(ctx, models.NewContact{Email: str("b@x.com"), LinkedID: &first, LinkPrecedence: models.PrecedenceSecondary})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := storage.NewFileStore(path)
	require.NoError(t, err)

	linked, err := reopened.FindLinkedContacts(ctx, []int64{first})
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, second, linked[1].ID)
	assert.Equal(t, first, *linked[1].LinkedID)

	third, err := reopened.Create(ctx, models.NewContact{Email: str("c@x.com"), LinkPrecedence: models.PrecedencePrimary})
	require.NoError(t, err)
	assert.Equal(t, second+1, third, "ids continue after the highest id on disk")
}

func TestFileStoreRollbackIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "contacts.json")

	s, err := storage.NewFileStore(path)
	require.NoError(t, err)
	_, err = s.Create(ctx, models.NewContact{Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary})
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.RunInTx(ctx, func(tx storage.ContactStore) error {
		if _, err := tx.Create(ctx, models.NewContact{Email: str("b@x.com"), LinkPrecedence: models.PrecedencePrimary}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := storage.NewFileStore(path)
	assert.ErrorContains(t, err, "decoding contacts file")
}
