// Package store is the dual-store layer: an object body store holding opaque
// ciphertext and a separate fast-lookup metadata store with its own TTL.
// The two are written sequentially, not transactionally; the metadata record
// is authoritative for existence and expiry, the body for content, and any
// inconsistency between them is resolved lazily on read and swept eventually
// by the reconciler.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/cipherdrop/cipherdrop/internal/config"
	"github.com/cipherdrop/cipherdrop/internal/models"
)

const (
	chunkSize = 1024 * 1024 // badger value ceiling, same chunking as upstream stores

	bodyIndexPrefix = "bodyidx::"

	// Metadata records outlive their logical expiry by this much so a read
	// inside the grace window can distinguish "expired" from "never
	// existed". The reconciler removes the body well after this window.
	metaTTLGrace = time.Hour
)

type Config struct {
	Logger    *slog.Logger
	Directory string

	// Now is the clock; tests substitute it to force expiry. Nil means
	// time.Now.
	Now func() time.Time
}

// bodyManifest is the side record stored with every body. ExpiresAt is the
// side-carried expiry the reconciler reads; bodies written before expiry
// tagging have none and are swept by age instead.
type bodyManifest struct {
	SizeBytes int        `json:"size_bytes"`
	Chunks    int        `json:"chunks"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ChunkKeys []string   `json:"chunk_keys"`
}

// BodyInfo is one page entry of a body-store scan.
type BodyInfo struct {
	ID        string
	SizeBytes int
	CreatedAt time.Time
	ExpiresAt *time.Time
}

type Store struct {
	logger *slog.Logger
	bodies *badger.DB
	meta   *badger.DB
	now    func() time.Time
}

func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	bodiesDir := filepath.Join(cfg.Directory, config.BadgerBodiesDirName)
	metaDir := filepath.Join(cfg.Directory, config.BadgerMetaDirName)

	if err := os.MkdirAll(bodiesDir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	bodies, err := badger.Open(badger.DefaultOptions(bodiesDir).WithLogger(newLogger(cfg.Logger.WithGroup("bodies"))))
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	meta, err := badger.Open(badger.DefaultOptions(metaDir).WithLogger(newLogger(cfg.Logger.WithGroup("meta"))))
	if err != nil {
		bodies.Close()
		return nil, &ErrInternal{Err: err}
	}

	return &Store{
		logger: cfg.Logger.WithGroup("store"),
		bodies: bodies,
		meta:   meta,
		now:    cfg.Now,
	}, nil
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.meta.Close(); err != nil {
		s.logger.Error("error closing meta db", "error", err)
		firstErr = &ErrInternal{Err: err}
	}
	if err := s.bodies.Close(); err != nil {
		s.logger.Error("error closing bodies db", "error", err)
		if firstErr == nil {
			firstErr = &ErrInternal{Err: err}
		}
	}
	return firstErr
}

// Put writes the body first, then the metadata record. A metadata write
// failure after a successful body write leaves an orphan body; that is the
// accepted inconsistency window the reconciler exists for.
func (s *Store) Put(id string, ciphertext []byte, meta models.BlobMeta) error {
	if err := s.putBody(id, ciphertext, meta); err != nil {
		return err
	}

	ttl := meta.ExpiresAt.Sub(s.now()) + metaTTLGrace
	if ttl <= 0 {
		ttl = metaTTLGrace
	}

	value, err := json.Marshal(&meta)
	if err != nil {
		return &ErrInternal{Err: fmt.Errorf("could not marshal metadata for %s: %w", id, err)}
	}

	err = s.meta.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(id), value).WithTTL(ttl))
	})
	if err != nil {
		s.logger.Error("metadata write failed after body write, body is orphaned until sweep", "id", id, "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

// Get always consults metadata first. Absent metadata means not found no
// matter what the body store holds; a passed expiry deletes both records and
// reports expired; a missing body under live metadata deletes the stale
// metadata and reports not found instead of surfacing an internal error.
func (s *Store) Get(id string) ([]byte, models.BlobMeta, error) {
	var meta models.BlobMeta

	err := s.meta.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrNotFound{ID: id}
			}
			return &ErrInternal{Err: err}
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		if err := json.Unmarshal(value, &meta); err != nil {
			return &ErrInternal{Err: fmt.Errorf("could not unmarshal metadata for %s: %w", id, err)}
		}
		return nil
	})
	if err != nil {
		return nil, models.BlobMeta{}, err
	}

	if meta.Expired(s.now()) {
		s.logger.Debug("read hit an expired blob, deleting", "id", id, "expired_at", meta.ExpiresAt)
		s.Delete(id)
		return nil, models.BlobMeta{}, &ErrExpired{ID: id}
	}

	body, err := s.getBody(id)
	if err != nil {
		// Metadata without a body is a store inconsistency; self-heal by
		// dropping the stale record.
		s.logger.Warn("metadata present but body unreadable, deleting stale metadata", "id", id, "error", err)
		s.Delete(id)
		return nil, models.BlobMeta{}, &ErrNotFound{ID: id}
	}
	return body, meta, nil
}

// Exists probes the metadata store only. Used by the identifier issuer's
// collision check.
func (s *Store) Exists(id string) (bool, error) {
	found := false
	err := s.meta.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return &ErrInternal{Err: err}
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Delete removes both records. Idempotent; missing records are not errors.
func (s *Store) Delete(id string) error {
	err := s.meta.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error("could not delete metadata record", "id", id, "error", err)
		return &ErrInternal{Err: err}
	}
	return s.deleteBody(id)
}

// ListBodies pages over the body store by index key. cursor is the last id
// of the previous page ("" starts from the beginning); the returned cursor
// is "" once the scan is complete. Each page is independent, so an
// interrupted sweep resumes cleanly.
func (s *Store) ListBodies(cursor string, limit int) ([]BodyInfo, string, error) {
	var page []BodyInfo

	err := s.bodies.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(bodyIndexPrefix)
		seek := prefix
		if cursor != "" {
			seek = []byte(bodyIndexPrefix + cursor)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id := string(bytes.TrimPrefix(it.Item().Key(), prefix))
			if cursor != "" && id == cursor {
				continue
			}
			if limit > 0 && len(page) >= limit {
				break
			}

			info := BodyInfo{ID: id}
			item, err := txn.Get([]byte(id))
			if err != nil {
				// Index key without a manifest: surface it with zero
				// info so the sweep can clean it up by age.
				s.logger.Warn("body index entry has no manifest", "id", id)
				page = append(page, info)
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			var manifest bodyManifest
			if err := json.Unmarshal(value, &manifest); err != nil {
				s.logger.Warn("body manifest is unreadable", "id", id, "error", err)
				page = append(page, info)
				continue
			}
			info.SizeBytes = manifest.SizeBytes
			info.CreatedAt = manifest.CreatedAt
			info.ExpiresAt = manifest.ExpiresAt
			page = append(page, info)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if limit > 0 && len(page) == limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

// -------------------------- body store internals

func chunkKey(id string, i int) string {
	return fmt.Sprintf("%s:chunk:%d", id, i)
}

func (s *Store) putBody(id string, data []byte, meta models.BlobMeta) error {
	expiresAt := meta.ExpiresAt
	manifest := bodyManifest{
		SizeBytes: len(data),
		CreatedAt: meta.CreatedAt,
		ExpiresAt: &expiresAt,
	}

	numChunks := (len(data) + chunkSize - 1) / chunkSize
	manifest.Chunks = numChunks
	manifest.ChunkKeys = make([]string, numChunks)

	// One transaction per chunk: a single transaction holding the whole
	// body would exceed badger's batch ceiling at the larger blob sizes.
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		key := chunkKey(id, i)
		manifest.ChunkKeys[i] = key

		err := s.bodies.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), data[start:end])
		})
		if err != nil {
			s.logger.Error("chunk write failed, rolling back body", "id", id, "chunk", i, "error", err)
			s.deleteBody(id)
			return &ErrInternal{Err: fmt.Errorf("could not write chunk %s: %w", key, err)}
		}
	}

	manifestBytes, err := json.Marshal(&manifest)
	if err != nil {
		s.deleteBody(id)
		return &ErrInternal{Err: fmt.Errorf("could not marshal body manifest for %s: %w", id, err)}
	}

	err = s.bodies.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(id), manifestBytes); err != nil {
			return err
		}
		return txn.Set([]byte(bodyIndexPrefix+id), []byte{})
	})
	if err != nil {
		s.logger.Error("manifest write failed, rolling back body", "id", id, "error", err)
		s.deleteBody(id)
		return &ErrInternal{Err: err}
	}
	return nil
}

func (s *Store) getBody(id string) ([]byte, error) {
	var assembled []byte
	err := s.bodies.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrNotFound{ID: id}
			}
			return &ErrInternal{Err: err}
		}
		manifestBytes, err := item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}

		var manifest bodyManifest
		if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
			return &ErrInternal{Err: fmt.Errorf("could not unmarshal body manifest for %s: %w", id, err)}
		}

		var buffer bytes.Buffer
		buffer.Grow(manifest.SizeBytes)
		for _, key := range manifest.ChunkKeys {
			chunkItem, err := txn.Get([]byte(key))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return &ErrNotFound{ID: id}
				}
				return &ErrInternal{Err: err}
			}
			chunk, err := chunkItem.ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			buffer.Write(chunk)
		}

		if buffer.Len() != manifest.SizeBytes {
			return &ErrInternal{Err: fmt.Errorf("body for %s reassembled to %d bytes, manifest says %d", id, buffer.Len(), manifest.SizeBytes)}
		}
		assembled = buffer.Bytes()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assembled, nil
}

func (s *Store) deleteBody(id string) error {
	err := s.bodies.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				// No manifest. Best effort on the index key, then done.
				if err := txn.Delete([]byte(bodyIndexPrefix + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				return nil
			}
			return err
		}

		manifestBytes, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var manifest bodyManifest
		if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
			s.logger.Error("body manifest unreadable during delete, chunks may be orphaned", "id", id, "error", err)
		} else {
			for _, key := range manifest.ChunkKeys {
				if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					s.logger.Error("could not delete chunk", "id", id, "chunk_key", key, "error", err)
				}
			}
		}

		if err := txn.Delete([]byte(bodyIndexPrefix + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Error("could not delete body index key", "id", id, "error", err)
		}
		return txn.Delete([]byte(id))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

// WriteLegacyBody plants a body with no side-carried expiry, the shape of
// objects written before expiry tagging. Only the reconciler's age rule can
// remove these.
func (s *Store) WriteLegacyBody(id string, data []byte, createdAt time.Time) error {
	meta := models.BlobMeta{CreatedAt: createdAt}
	if err := s.putBody(id, data, meta); err != nil {
		return err
	}
	// Rewrite the manifest without the expiry field.
	return s.bodies.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var manifest bodyManifest
		if err := json.Unmarshal(value, &manifest); err != nil {
			return err
		}
		manifest.ExpiresAt = nil
		rewritten, err := json.Marshal(&manifest)
		if err != nil {
			return err
		}
		return txn.Set([]byte(id), rewritten)
	})
}

// ForceExpire rewrites a blob's metadata record with an expiry in the past,
// preserving the TTL grace so the next read surfaces the expired state. It
// exists for operational repair and for exercising the expiry path.
func (s *Store) ForceExpire(id string) error {
	var meta models.BlobMeta
	err := s.meta.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrNotFound{ID: id}
			}
			return &ErrInternal{Err: err}
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return json.Unmarshal(value, &meta)
	})
	if err != nil {
		return err
	}

	meta.ExpiresAt = s.now().Add(-time.Second)
	value, err := json.Marshal(&meta)
	if err != nil {
		return &ErrInternal{Err: err}
	}
	err = s.meta.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(id), value).WithTTL(metaTTLGrace))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}
