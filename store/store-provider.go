package store

import (
	"database/sql"
	"errors"
	"sort"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// Provider is an interface for a named snapshot store.
// It stores and retrieves []byte values, which represent HTTP responses,
// grouped into named stores so that whole cache generations can be
// enumerated and deleted by name.
// Writes are idempotent overwrites keyed by request identity: the later
// write simply wins.
//
// Implementations must be thread-safe!
type Provider interface {
	// Open creates the named store if it does not exist yet.
	// Opening an existing store is a no-op and keeps its entries.
	Open(name string) error
	// Get returns the stored snapshot for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// A missing store or a missing key is a miss, not an error.
	Get(name, key string) ([]byte, bool, error)
	// Put stores the given snapshot under the given key,
	// replacing any previous snapshot for that key.
	// The named store is created on first write if needed.
	Put(name, key string, bytes []byte) error
	// Names returns the names of all existing stores, sorted.
	Names() ([]string, error)
	// Delete removes the named store and all of its entries.
	// Deleting a store that does not exist is a no-op.
	Delete(name string) error
}

type MemStore struct {
	mutex  *sync.RWMutex
	stores map[string]map[string][]byte
}

func NewMemStore() MemStore {
	return MemStore{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]map[string][]byte),
	}
}

func (m MemStore) Open(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = make(map[string][]byte)
	}
	return nil
}

func (m MemStore) Get(name, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries, ok := m.stores[name]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := entries[key]
	return bytes, ok, nil
}

func (m MemStore) Put(name, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.stores[name]
	if !ok {
		entries = make(map[string][]byte)
		m.stores[name] = entries
	}
	entries[key] = bytes
	return nil
}

func (m MemStore) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStore) Delete(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.stores, name)
	return nil
}

// Len returns the number of entries in the named store.
// It is a utility method that is not used by the engine.
func (m MemStore) Len(name string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.stores[name])
}

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore creates a new store with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) SQLiteStore {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS stores (name TEXT PRIMARY KEY)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		store TEXT,
		key TEXT,
		bytes BLOB,
		PRIMARY KEY (store, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteStore) Open(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO stores (name) VALUES (?)", name)
	return err
}

func (s SQLiteStore) Get(name, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM entries WHERE store = ? AND key = ?", name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteStore) Put(name, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("INSERT OR IGNORE INTO stores (name) VALUES (?)", name); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO entries (store, key, bytes) VALUES (?, ?, ?)", name, key, bytes)
	return err
}

func (s SQLiteStore) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStore) Delete(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM stores WHERE name = ?", name)
	return err
}
