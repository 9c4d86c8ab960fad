package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"identityrecon/internal/models"
)

// NewFileStore returns a MemoryStore backed by a JSON file. The file is read once on open
// and rewritten after every committed mutation. Ids continue from the highest id on disk.
func NewFileStore(path string, opts ...MemoryOption) (*MemoryStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating contacts directory: %w", err)
		}
	}

	contacts, err := loadContacts(path)
	if err != nil {
		return nil, err
	}

	s := NewMemoryStore(opts...)
	for _, c := range contacts {
		s.Seed(c)
	}
	s.persist = func(all []*models.Contact) error {
		return saveContacts(path, all)
	}
	return s, nil
}

func loadContacts(path string) ([]*models.Contact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading contacts file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var contacts []*models.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("decoding contacts file: %w", err)
	}
	return contacts, nil
}

// saveContacts writes through a temp file and rename so readers never see a partial file.
func saveContacts(path string, contacts []*models.Contact) error {
	data, err := json.MarshalIndent(contacts, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding contacts: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".contacts-*.json")
	if err != nil {
		return fmt.Errorf("creating temp contacts file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing contacts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing contacts file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing contacts file: %w", err)
	}
	return nil
}
