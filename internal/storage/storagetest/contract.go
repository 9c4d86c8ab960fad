// Package storagetest holds the behavioural suite every storage.Store implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

// ContractSuite exercises a storage.Store through its public contract only.
// Open is called before every test and must return an empty store.
type ContractSuite struct {
	suite.Suite
	Open  func(t *testing.T) storage.Store
	store storage.Store
	ctx   context.Context
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.Open(s.T())
}

func (s *ContractSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func str(v string) *string { return &v }

func (s *ContractSuite) create(email, phone *string, linkedID *int64, p models.LinkPrecedence) int64 {
	id, err := s.store.Create(s.ctx, models.NewContact{
		Email:          email,
		PhoneNumber:    phone,
		LinkedID:       linkedID,
		LinkPrecedence: p,
	})
	s.Require().NoError(err)
	return id
}

func ids(contacts []*models.Contact) []int64 {
	out := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.ID)
	}
	return out
}

func (s *ContractSuite) byID(id int64) *models.Contact {
	found, err := s.store.FindLinkedContacts(s.ctx, []int64{id})
	s.Require().NoError(err)
	for _, c := range found {
		if c.ID == id {
			return c
		}
	}
	s.FailNow("contact missing", "id %d", id)
	return nil
}

func (s *ContractSuite) TestCreateAssignsIDsAndTimestamps() {
	first := s.create(str("a@x.com"), nil, nil, models.PrecedencePrimary)
	second := s.create(nil, str("111"), &first, models.PrecedenceSecondary)

	s.Greater(second, first)

	c := s.byID(second)
	s.Nil(c.Email)
	s.Equal("111", *c.PhoneNumber)
	s.Equal(first, *c.LinkedID)
	s.Equal(models.PrecedenceSecondary, c.LinkPrecedence)
	s.False(c.CreatedAt.IsZero())
	s.Equal(c.CreatedAt, c.UpdatedAt)
	s.Nil(c.DeletedAt)
}

func (s *ContractSuite) TestCreateRejectsUnknownPrecedence() {
	_, err := s.store.Create(s.ctx, models.NewContact{Email: str("a@x.com"), LinkPrecedence: "tertiary"})
	s.Error(err)
}

func (s *ContractSuite) TestFindByEmailOrPhone() {
	a := s.create(str("a@x.com"), str("111"), nil, models.PrecedencePrimary)
	b := s.create(str("b@x.com"), str("222"), nil, models.PrecedencePrimary)
	c := s.create(str("c@x.com"), str("111"), &a, models.PrecedenceSecondary)

	tests := []struct {
		name         string
		email, phone *string
		want         []int64
	}{
		{"email only", str("b@x.com"), nil, []int64{b}},
		{"phone only", nil, str("111"), []int64{a, c}},
		{"either field matches", str("b@x.com"), str("111"), []int64{a, b, c}},
		{"match is exact", str("A@X.COM"), nil, []int64{}},
		{"no fields", nil, nil, []int64{}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			found, err := s.store.FindByEmailOrPhone(s.ctx, tt.email, tt.phone)
			s.Require().NoError(err)
			s.Equal(tt.want, ids(found))
		})
	}
}

func (s *ContractSuite) TestFindLinkedContacts() {
	a := s.create(str("a@x.com"), nil, nil, models.PrecedencePrimary)
	a1 := s.create(str("a1@x.com"), nil, &a, models.PrecedenceSecondary)
	b := s.create(str("b@x.com"), nil, nil, models.PrecedencePrimary)
	b1 := s.create(str("b1@x.com"), nil, &b, models.PrecedenceSecondary)
	s.create(str("z@x.com"), nil, nil, models.PrecedencePrimary)

	found, err := s.store.FindLinkedContacts(s.ctx, []int64{a, b})
	s.Require().NoError(err)
	s.Equal([]int64{a, a1, b, b1}, ids(found))

	found, err = s.store.FindLinkedContacts(s.ctx, []int64{a1})
	s.Require().NoError(err)
	s.Equal([]int64{a1}, ids(found), "ids match themselves, not their primary")

	found, err = s.store.FindLinkedContacts(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *ContractSuite) TestUpdateToSecondary() {
	a := s.create(str("a@x.com"), nil, nil, models.PrecedencePrimary)
	b := s.create(str("b@x.com"), nil, nil, models.PrecedencePrimary)

	s.Require().NoError(s.store.UpdateToSecondary(s.ctx, b, a))

	c := s.byID(b)
	s.Equal(models.PrecedenceSecondary, c.LinkPrecedence)
	s.Equal(a, *c.LinkedID)
	s.False(c.UpdatedAt.Before(c.CreatedAt))
}

func (s *ContractSuite) TestUpdateLinkedContacts() {
	a := s.create(str("a@x.com"), nil, nil, models.PrecedencePrimary)
	b := s.create(str("b@x.com"), nil, nil, models.PrecedencePrimary)
	b1 := s.create(str("b1@x.com"), nil, &b, models.PrecedenceSecondary)
	b2 := s.create(str("b2@x.com"), nil, &b, models.PrecedenceSecondary)

	s.Require().NoError(s.store.UpdateLinkedContacts(s.ctx, b, a))

	for _, id := range []int64{b1, b2} {
		s.Equal(a, *s.byID(id).LinkedID)
	}
	s.Nil(s.byID(b).LinkedID, "the old primary itself is not touched")
}

func (s *ContractSuite) TestUpdateToPrimary() {
	a := s.create(str("a@x.com"), nil, nil, models.PrecedencePrimary)
	b := s.create(str("b@x.com"), nil, &a, models.PrecedenceSecondary)

	s.Require().NoError(s.store.UpdateToPrimary(s.ctx, b))

	c := s.byID(b)
	s.Equal(models.PrecedencePrimary, c.LinkPrecedence)
	s.Nil(c.LinkedID)
}

func (s *ContractSuite) TestRunInTxCommits() {
	var id int64
	err := s.store.RunInTx(s.ctx, func(tx storage.ContactStore) error {
		var err error
		id, err = tx.Create(s.ctx, models.NewContact{Email: str("a@x.com"), LinkPrecedence: models.PrecedencePrimary})
		if err != nil {
			return err
		}
		found, err := tx.FindByEmailOrPhone(s.ctx, str("a@x.com"), nil)
		if err != nil {
			return err
		}
		s.Equal([]int64{id}, ids(found), "writes are visible inside the transaction")
		return nil
	})
	s.Require().NoError(err)

	found, err := s.store.FindByEmailOrPhone(s.ctx, str("a@x.com"), nil)
	s.Require().NoError(err)
	s.Equal([]int64{id}, ids(found))
}

func (s *ContractSuite) TestRunInTxRollsBack() {
	a := s.create(str("a@x.com"), nil, nil, models.PrecedencePrimary)
	b := s.create(str("b@x.com"), nil, nil, models.PrecedencePrimary)
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, func(tx storage.ContactStore) error {
		if err := tx.UpdateToSecondary(s.ctx, b, a); err != nil {
			return err
		}
		if _, err := tx.Create(s.ctx, models.NewContact{Email: str("c@x.com"), LinkPrecedence: models.PrecedencePrimary}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	s.Equal(models.PrecedencePrimary, s.byID(b).LinkPrecedence)
	found, err := s.store.FindByEmailOrPhone(s.ctx, str("c@x.com"), nil)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *ContractSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}
