package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a ref does not resolve to a stored entity.
var ErrNotFound = errors.New("world: entity not found")

// Store is the canonical file store for world entities under one data slot.
//
// Layout, relative to the slot root:
//
//	npcs/<id>.jsonc  actors/<id>.jsonc  items/<id>.jsonc  places/<id>.jsonc
//	world/world.jsonc  game_time.jsonc
//
// Every write replaces the whole entity file via temp-and-rename, matching
// the queue files' atomicity contract. A single mutex serialises writers;
// entity files are small enough that coarse locking is not a bottleneck.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore returns a store rooted at dir (the data slot directory).
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the slot root directory.
func (s *Store) Root() string { return s.root }

// kindDirs maps ref kinds to their subdirectories.
var kindDirs = map[string]string{
	KindActor: "actors",
	KindNPC:   "npcs",
	KindItem:  "items",
	KindPlace: "places",
}

// entityPath resolves the file path for a kind and id.
func (s *Store) entityPath(kind, id string) (string, error) {
	dir, ok := kindDirs[kind]
	if !ok {
		return "", fmt.Errorf("world: unknown entity kind %q", kind)
	}
	// Ids come from refs in effect commands; keep them inside the slot.
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", fmt.Errorf("world: invalid entity id %q", id)
	}
	return filepath.Join(s.root, dir, id+".jsonc"), nil
}

// load reads and decodes one entity file into out.
func (s *Store) load(kind, id string, out any) error {
	path, err := s.entityPath(kind, id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s.%s", ErrNotFound, kind, id)
	}
	if err != nil {
		return fmt.Errorf("world: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("world: decode %q: %w", path, err)
	}
	return nil
}

// save encodes v and atomically replaces the entity file.
func (s *Store) save(kind, id string, v any) error {
	path, err := s.entityPath(kind, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("world: encode %s.%s: %w", kind, id, err)
	}
	return atomicWrite(path, data)
}

// GetCreature loads an actor or NPC by ref kind and id.
func (s *Store) GetCreature(kind, id string) (*Creature, error) {
	if kind != KindActor && kind != KindNPC {
		return nil, fmt.Errorf("world: %q is not a creature kind", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Creature
	if err := s.load(kind, id, &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = id
	}
	return &c, nil
}

// GetCreatureByRef loads a creature from a canonical ref string.
func (s *Store) GetCreatureByRef(ref string) (*Creature, error) {
	kind, id, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}
	return s.GetCreature(kind, id)
}

// PutCreature persists a creature under the given kind.
func (s *Store) PutCreature(kind string, c *Creature) error {
	if kind != KindActor && kind != KindNPC {
		return fmt.Errorf("world: %q is not a creature kind", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(kind, c.ID, c)
}

// GetItem loads an item by id.
func (s *Store) GetItem(id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var it Item
	if err := s.load(KindItem, id, &it); err != nil {
		return nil, err
	}
	if it.ID == "" {
		it.ID = id
	}
	return &it, nil
}

// PutItem persists an item.
func (s *Store) PutItem(it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(KindItem, it.ID, it)
}

// GetPlace loads a place by id.
func (s *Store) GetPlace(id string) (*Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Place
	if err := s.load(KindPlace, id, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// PutPlace persists a place.
func (s *Store) PutPlace(p *Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(KindPlace, p.ID, p)
}

// ListPlaces returns the ids of all stored places.
func (s *Store) ListPlaces() ([]string, error) {
	return s.listIDs("places")
}

// ListCreatures returns the ids of all stored creatures of the given kind.
func (s *Store) ListCreatures(kind string) ([]string, error) {
	dir, ok := kindDirs[kind]
	if !ok || (kind != KindActor && kind != KindNPC) {
		return nil, fmt.Errorf("world: %q is not a creature kind", kind)
	}
	return s.listIDs(dir)
}

func (s *Store) listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("world: list %q: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonc") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonc"))
	}
	return ids, nil
}

// atomicWrite replaces path with data via a sibling temp file and rename.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("world: mkdir for %q: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("world: temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("world: write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("world: sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("world: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("world: rename %q: %w", path, err)
	}
	return nil
}
