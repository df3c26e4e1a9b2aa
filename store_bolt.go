package treetank

import "time"
import "encoding/binary"

import "go.etcd.io/bbolt"
import "golang.org/x/xerrors"

var (
	boltBucketsName = []byte("buckets")
	boltMetaName    = []byte("meta")
	boltUberKey     = []byte("uber")
)

// BoltStore is a Backend on top of a bbolt file, every Commit is one bbolt transaction
type BoltStore struct {
	db *bbolt.DB
}

// BoltOptions tune the bbolt file, the zero value is suitable for production use
type BoltOptions struct {
	NoSync   bool // for tests, commits are not fsynced
	MmapSize int
}

func NewBoltStore(path string, opt BoltOptions) (*BoltStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.FreelistType = bbolt.FreelistMapType
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	db, err := bbolt.Open(path, 0600, bopt)
	if err != nil {
		return nil, xerrors.Errorf("opening bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltBucketsName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltMetaName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("preparing bolt store %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func boltKey(key uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return buf[:]
}

func (s *BoltStore) Get(key uint64) (data []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltBucketsName).Get(boltKey(key))
		if v == nil {
			return xerrors.Errorf("%w: bucket %d is not stored", ErrCorruption, key)
		}
		data = append([]byte(nil), v...) // bolt memory is only valid inside the transaction
		return nil
	})
	if err == bbolt.ErrDatabaseNotOpen {
		err = xerrors.Errorf("%w: store", ErrClosed)
	}
	return
}

func (s *BoltStore) Commit(buckets []BucketData, uber []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucketsName)
		for _, bd := range buckets {
			if bd.Key == NULL_BUCKET {
				return xerrors.Errorf("%w: bucket key %d is reserved", ErrInvalidArgument, bd.Key)
			}
			if err := b.Put(boltKey(bd.Key), bd.Data); err != nil {
				return err
			}
		}
		return tx.Bucket(boltMetaName).Put(boltUberKey, uber)
	})
	if err == bbolt.ErrDatabaseNotOpen {
		err = xerrors.Errorf("%w: store", ErrClosed)
	}
	return err
}

func (s *BoltStore) Uber() (uber []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltMetaName).Get(boltUberKey); v != nil {
			uber = append([]byte(nil), v...)
		}
		return nil
	})
	if err == bbolt.ErrDatabaseNotOpen {
		err = xerrors.Errorf("%w: store", ErrClosed)
	}
	return
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
