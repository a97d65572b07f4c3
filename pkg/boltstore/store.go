// Package boltstore persists world objects, scheduler bookkeeping and
// script state in a bbolt file, fronted by an in-memory cache.
package boltstore

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	bbolt "go.etcd.io/bbolt"
)

// lockTimeout bounds the wait for a file another process holds open.
const lockTimeout = 2 * time.Second

// ErrLocked is returned by Open when another process has the file.
var ErrLocked = errors.New("boltstore: database is in use by another process")

// Store is a write-through cache: the game reads DB(), and every change
// is written back with PutCharacter or PutRoom.
type Store struct {
	bolt  *bbolt.DB
	cache *gamedb.Database
}

// Open opens or creates a bbolt file and makes sure its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(initBuckets); err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init %s: %w", path, err)
	}
	return &Store{bolt: db, cache: gamedb.NewDatabase()}, nil
}

func initBuckets(tx *bbolt.Tx) error {
	for _, name := range allBuckets {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	meta := tx.Bucket(bucketMeta)
	if meta.Get(keyVersion) != nil {
		return nil
	}
	return meta.Put(keyVersion, intToKey(schemaVersion))
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.bolt.Close()
}

// DB returns the in-memory world.
func (s *Store) DB() *gamedb.Database {
	return s.cache
}

// Path returns the filesystem path of the bbolt file.
func (s *Store) Path() string {
	return s.bolt.Path()
}

// Version returns the schema version recorded in the file.
func (s *Store) Version() int {
	v := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketMeta).Get(keyVersion); b != nil {
			v = keyToInt(b)
		}
		return nil
	})
	return v
}

// put encodes v and stores it under key in its own transaction.
func put[T any](s *Store, bucket, key []byte, v *T) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

// each decodes every record in a bucket.
func each[T any](b *bbolt.Bucket, fn func(k []byte, v *T)) error {
	return b.ForEach(func(k, data []byte) error {
		v, err := decode[T](data)
		if err != nil {
			return fmt.Errorf("decode key %q: %w", k, err)
		}
		fn(k, v)
		return nil
	})
}

// PutCharacter writes one character through to disk.
func (s *Store) PutCharacter(c *gamedb.Character) error {
	if err := put(s, bucketCharacters, refToKey(c.Ref), c); err != nil {
		return fmt.Errorf("boltstore: put character #%d: %w", c.Ref, err)
	}
	return nil
}

// PutRoom writes one room through to disk.
func (s *Store) PutRoom(r *gamedb.Room) error {
	if err := put(s, bucketRooms, refToKey(r.Ref), r); err != nil {
		return fmt.Errorf("boltstore: put room #%d: %w", r.Ref, err)
	}
	return nil
}

// ImportFromDatabase writes a whole world in one transaction and adopts
// it as the cache.
func (s *Store) ImportFromDatabase(db *gamedb.Database) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		rooms, chars := tx.Bucket(bucketRooms), tx.Bucket(bucketCharacters)
		for ref, r := range db.Rooms {
			data, err := encode(r)
			if err != nil {
				return fmt.Errorf("room #%d: %w", ref, err)
			}
			if err := rooms.Put(refToKey(ref), data); err != nil {
				return err
			}
		}
		for ref, c := range db.Characters {
			data, err := encode(c)
			if err != nil {
				return fmt.Errorf("character #%d: %w", ref, err)
			}
			if err := chars.Put(refToKey(ref), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: import: %w", err)
	}
	s.cache = db
	log.Printf("boltstore: imported %d rooms, %d characters", len(db.Rooms), len(db.Characters))
	return nil
}

// LoadAll reads rooms and characters into the cache.
func (s *Store) LoadAll() error {
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		err := each(tx.Bucket(bucketRooms), func(_ []byte, r *gamedb.Room) {
			s.cache.Rooms[r.Ref] = r
		})
		if err != nil {
			return err
		}
		return each(tx.Bucket(bucketCharacters), func(_ []byte, c *gamedb.Character) {
			s.cache.Characters[c.Ref] = c
		})
	})
	if err != nil {
		return fmt.Errorf("boltstore: load: %w", err)
	}
	log.Printf("boltstore: loaded %d rooms, %d characters", len(s.cache.Rooms), len(s.cache.Characters))
	return nil
}

// HasData reports whether any room has been stored.
func (s *Store) HasData() bool {
	found := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(bucketRooms).Cursor().First()
		found = k != nil
		return nil
	})
	return found
}

// Backup writes a consistent copy of the file to path while the store
// stays open for writes.
func (s *Store) Backup(path string) error {
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0o600)
	})
	if err != nil {
		return fmt.Errorf("boltstore: backup to %s: %w", path, err)
	}
	return nil
}
