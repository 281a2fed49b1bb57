package credentials

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const (
	bucketName = "credentials"

	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiresAt    = "expires_at"
	keyRememberedAt = "remembered_email"
)

var _ Store = (*BoltStore)(nil)

// BoltStore persists credentials in a bbolt database so a session survives
// process restarts. All writes happen inside a single update transaction,
// which gives the atomic-replacement guarantee readers rely on.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (creating if needed) the credentials database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewBoltStore] mkdir")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "[NewBoltStore] bbolt.Open")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[NewBoltStore] create bucket")
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load() (TokenPair, bool, error) {
	var pair TokenPair
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		pair.AccessToken = string(b.Get([]byte(keyAccessToken)))
		pair.RefreshToken = string(b.Get([]byte(keyRefreshToken)))
		if raw := b.Get([]byte(keyExpiresAt)); len(raw) > 0 {
			if t, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
				pair.ExpiresAt = t
			}
		}
		return nil
	})
	if err != nil {
		return TokenPair{}, false, errors.Wrap(err, "[BoltStore.Load] db.View")
	}
	if !pair.Valid() {
		// A half-written pair never reaches disk, but treat any partial
		// content as absent anyway.
		return TokenPair{}, false, nil
	}
	return pair, true, nil
}

func (s *BoltStore) Save(pair TokenPair) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if err := b.Put([]byte(keyAccessToken), []byte(pair.AccessToken)); err != nil {
			return err
		}
		if err := b.Put([]byte(keyRefreshToken), []byte(pair.RefreshToken)); err != nil {
			return err
		}
		var expires []byte
		if !pair.ExpiresAt.IsZero() {
			expires = []byte(pair.ExpiresAt.Format(time.RFC3339Nano))
		}
		return b.Put([]byte(keyExpiresAt), expires)
	})
	return errors.Wrap(err, "[BoltStore.Save] db.Update")
}

func (s *BoltStore) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		for _, key := range []string{keyAccessToken, keyRefreshToken, keyExpiresAt} {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "[BoltStore.Clear] db.Update")
}

func (s *BoltStore) RememberEmail(email string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if email == "" {
			return b.Delete([]byte(keyRememberedAt))
		}
		return b.Put([]byte(keyRememberedAt), []byte(email))
	})
	return errors.Wrap(err, "[BoltStore.RememberEmail] db.Update")
}

func (s *BoltStore) RememberedEmail() (string, error) {
	var email string
	err := s.db.View(func(tx *bbolt.Tx) error {
		email = string(tx.Bucket([]byte(bucketName)).Get([]byte(keyRememberedAt)))
		return nil
	})
	return email, errors.Wrap(err, "[BoltStore.RememberedEmail] db.View")
}
