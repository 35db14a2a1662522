// Package pantry reads a user's pantry and picks the ingredients discovery
// should cook with first.
package pantry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/larder-app/larder/pkg/models"
)

// DefaultPriority is the number of ingredients searched for a pantry query.
const DefaultPriority = 3

// Store lists the pantry items owned by a user.
type Store interface {
	ListItems(ctx context.Context, userID string) ([]models.PantryItem, error)
}

// FileStore serves pantries from a YAML document keyed by user id:
//
//	users:
//	  alice:
//	    - name: milk
//	      quantity: 1
//	      expiration_date: 2025-01-01T00:00:00Z
//
// The file is re-read when its modification time changes.
type FileStore struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	users   map[string][]models.PantryItem
}

type pantryFile struct {
	Users map[string][]models.PantryItem `yaml:"users"`
}

// NewFileStore creates a FileStore and loads path once to validate it.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile reads a pantry document without keeping it open for reloads.
func LoadFile(path string) (map[string][]models.PantryItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pantry: %w", err)
	}
	var f pantryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pantry: %w", err)
	}
	if f.Users == nil {
		f.Users = map[string][]models.PantryItem{}
	}
	return f.Users, nil
}

func (s *FileStore) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat pantry: %w", err)
	}
	if s.users != nil && info.ModTime().Equal(s.modTime) {
		return nil
	}
	users, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.users = users
	s.modTime = info.ModTime()
	return nil
}

// ListItems returns userID's items. Unknown users have an empty pantry.
func (s *FileStore) ListItems(_ context.Context, userID string) ([]models.PantryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reload(); err != nil {
		return nil, err
	}
	items := s.users[userID]
	out := make([]models.PantryItem, len(items))
	copy(out, items)
	return out, nil
}

// PriorityIngredients returns up to n distinct ingredient names, soonest
// expiring first. Expired items and negative quantities are skipped. Items without an
// expiration date sort after dated ones, then by name.
func PriorityIngredients(items []models.PantryItem, now time.Time, n int) []string {
	if n <= 0 {
		n = DefaultPriority
	}

	usable := make([]models.PantryItem, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" || it.Quantity < 0 {
			continue
		}
		if it.ExpirationDate != nil && it.ExpirationDate.Before(now) {
			continue
		}
		usable = append(usable, it)
	}

	sort.SliceStable(usable, func(i, j int) bool {
		a, b := usable[i].ExpirationDate, usable[j].ExpirationDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return models.NormalizeTerm(usable[i].Name) < models.NormalizeTerm(usable[j].Name)
	})

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for _, it := range usable {
		name := models.NormalizeTerm(it.Name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		if len(out) == n {
			break
		}
	}
	return out
}
