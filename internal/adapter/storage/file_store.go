package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/port"
)

// FileStore keeps the inventory in memory and mirrors it to a JSON snapshot
// (an object of item name to quantity, in insertion order).
//
// Every mutation builds the next state, writes it to disk and only then
// swaps it in, so a failed write leaves memory exactly as it was on disk.
type FileStore struct {
	mu    sync.Mutex
	path  string
	names []string
	stock map[string]int
	log   zerolog.Logger

	writeFile func(path string, data []byte) error
}

// OpenFileStore loads the snapshot at path. A missing file starts an empty
// inventory; a malformed one is an error.
func OpenFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		stock:     make(map[string]int),
		log:       log.With().Str("component", "file_store").Str("path", path).Logger(),
		writeFile: writeFileAtomic,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Msg("snapshot not found, starting with empty inventory")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	names, stock, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	s.names, s.stock = names, stock
	s.log.Info().Int("items", len(names)).Msg("inventory loaded")
	return s, nil
}

func (s *FileStore) Reserve(ctx context.Context, name string, quantity int) error {
	if quantity <= 0 {
		return port.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.stock[name]
	if !ok {
		return port.ErrItemNotFound
	}
	if current < quantity {
		return port.ErrInsufficientStock
	}

	names, stock := s.cloneLocked()
	stock[name] = current - quantity
	return s.commitLocked(names, stock)
}

func (s *FileStore) Rename(ctx context.Context, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quantity, ok := s.stock[oldName]
	if !ok {
		return port.ErrItemNotFound
	}
	if oldName == newName {
		return nil
	}
	if _, exists := s.stock[newName]; exists {
		return port.ErrNameCollision
	}

	names, stock := s.cloneLocked()
	names = removeName(names, oldName)
	delete(stock, oldName)
	names = append(names, newName)
	stock[newName] = quantity
	return s.commitLocked(names, stock)
}

func (s *FileStore) Upsert(ctx context.Context, name string, quantity int) error {
	if quantity < 0 {
		return port.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, stock := s.cloneLocked()
	if _, exists := stock[name]; !exists {
		names = append(names, name)
	}
	stock[name] = quantity
	return s.commitLocked(names, stock)
}

func (s *FileStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stock[name]; !ok {
		return port.ErrItemNotFound
	}

	names, stock := s.cloneLocked()
	names = removeName(names, name)
	delete(stock, name)
	return s.commitLocked(names, stock)
}

func (s *FileStore) Get(ctx context.Context, name string) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quantity, ok := s.stock[name]
	if !ok {
		return domain.Item{}, port.ErrItemNotFound
	}
	return domain.Item{Name: name, Quantity: quantity}, nil
}

func (s *FileStore) List(ctx context.Context) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.Item, 0, len(s.names))
	for _, name := range s.names {
		items = append(items, domain.Item{Name: name, Quantity: s.stock[name]})
	}
	return items, nil
}

// Ping checks that the snapshot directory is still reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *FileStore) cloneLocked() ([]string, map[string]int) {
	names := append([]string(nil), s.names...)
	stock := make(map[string]int, len(s.stock))
	for k, v := range s.stock {
		stock[k] = v
	}
	return names, stock
}

func (s *FileStore) commitLocked(names []string, stock map[string]int) error {
	data, err := encodeSnapshot(names, stock)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", port.ErrPersistence, err)
	}
	if err := s.writeFile(s.path, data); err != nil {
		s.log.Error().Err(err).Msg("snapshot write failed, mutation discarded")
		return fmt.Errorf("%w: %v", port.ErrPersistence, err)
	}
	s.names, s.stock = names, stock
	return nil
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}

func encodeSnapshot(names []string, stock map[string]int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteString(", ")
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ": %d", stock[name])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) ([]string, map[string]int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, errors.New("snapshot must be a JSON object")
	}

	var names []string
	stock := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name := tok.(string)

		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, nil, fmt.Errorf("item %q: %w", name, err)
		}
		quantity, err := n.Int64()
		if err != nil || quantity < 0 {
			return nil, nil, fmt.Errorf("item %q: invalid quantity %s", name, n)
		}
		if _, dup := stock[name]; !dup {
			names = append(names, name)
		}
		stock[name] = int(quantity)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, errors.New("trailing data after snapshot object")
	}
	return names, stock, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
