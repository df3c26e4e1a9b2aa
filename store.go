package treetank

import "io"
import "os"
import "fmt"
import "path/filepath"
import "sync"
import "log/slog"

import "encoding/binary"

import "github.com/cespare/xxhash/v2"
import "golang.org/x/xerrors"

// BucketData is one serialized bucket as handed to a backend
type BucketData struct {
	Key  uint64
	Data []byte
}

// Backend maps bucket keys to stored bytes. Commit must be atomic with respect to Uber: either
// the new uber and every bucket it can reach are durable, or the previous uber is still returned.
// Get and Uber may be called concurrently with Commit.
type Backend interface {
	Get(key uint64) ([]byte, error)
	Commit(buckets []BucketData, uber []byte) error
	Uber() ([]byte, error) // nil when nothing was committed yet
	Close() error
}

// all file operations will go through this
// If this is implemented through an interface, it will trigger memory allocations on heap
// this crude implementation serves the purpose and also allows to implement arbitary storage backends
type file struct {
	diskfile   *os.File // used for disk backend
	memoryfile []byte   // used for memory backend
	size       uint32
}

type storage_layer_type int8

const (
	unknown_layer storage_layer_type = iota // default is unknown layer
	disk
	memory
)

const record_header_size = 20 // bucket key, payload length, checksum

// where a bucket record lives
type location struct {
	findex, fpos uint32
	size         uint32 // payload size
}

// Store is an append only Backend which stores bucket records to disk or memory.
// The data is stored in files in split format and total number of files can be 4 billion.
// each file is upto 2 GB in size, this limit has been placed to support FAT32 which restricts files to 4GB
// Every record is [bucket key][length][xxhash][payload], the index is rebuilt by scanning on open.
type Store struct {
	storage_layer storage_layer_type // identify storage layer

	base_directory string
	logger         *slog.Logger

	files  map[uint32]*file
	findex uint32
	index  map[uint64]location

	uberfile *file // ring of the most recent uber buckets

	uber_index int // slot of the newest uber
	uber_seq   uint64
	uber_data  [internal_UBER_SLOTS * internal_UBER_SLOT_SIZE]byte
	closed     bool

	commitsync sync.RWMutex // guards files, index and memory contents against readers
	discsync   sync.Mutex   // used to syncronise disc writes, one commit at a time
}

// start a  new memory backed store which may be useful for testing and other temporaray use cases.
func NewMemStore() (*Store, error) {
	s := &Store{storage_layer: memory, files: map[uint32]*file{}, index: map[uint64]location{}, logger: slog.Default()}
	return s.init()
}

// open/create a disk based store, if the directory pre-exists, it is used as is. Since we are an append only
// store, we do not delete any data.
func NewDiskStore(basepath string) (*Store, error) {
	return OpenDiskStore(basepath, nil)
}

// OpenDiskStore is NewDiskStore reporting recovery through logger
func OpenDiskStore(basepath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basepath, 0700); err != nil {
		return nil, fmt.Errorf("directory creation err %s  dirpath %s", err, basepath)
	}
	s := &Store{storage_layer: disk, base_directory: basepath, files: map[uint32]*file{}, index: map[uint64]location{}, logger: logger}
	return s.init()
}

func (s *Store) Close() error {
	s.discsync.Lock()
	defer s.discsync.Unlock()
	s.commitsync.Lock()
	defer s.commitsync.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	switch s.storage_layer {
	case disk:
		var err error
		for _, f := range s.files {
			if cerr := f.diskfile.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if cerr := s.uberfile.diskfile.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err

	case memory:
		for _, f := range s.files {
			f.memoryfile = nil
		}
		return nil
	default:
		panic("unknown storage layer")
	}
}

// init and load some items from the store
func (s *Store) init() (*Store, error) {
	if err := s.loadfiles(); err != nil {
		return nil, err
	}
	if err := s.loaduberring(); err != nil {
		return nil, err
	}
	return s, nil
}

// 4 billion files  each of 2 GB seems to be enough for quite some time, we will run out of handles much earlier
// note that the structure is independant of these pointers and can thus be extended at any point in time in future
func (s *Store) uint_to_filename(n uint32) string {
	switch s.storage_layer {
	case disk:
		d, c, b, a := n>>24, ((n >> 16) & 0xff), ((n >> 8) & 0xff), n
		return filepath.Join(s.base_directory, fmt.Sprintf("%d", d), fmt.Sprintf("%d", c), fmt.Sprintf("%d", b), fmt.Sprintf("%d", a)+".dfs")

	case memory:
		fallthrough
	default:
		panic("unknown storage layer")
	}

}

// load all files from the disk and index their records
// we may need to increase file handles
func (s *Store) loadfiles() error {

	if s.storage_layer == disk {
		if file_handle, err := os.OpenFile(filepath.Join(s.base_directory, "uber.bin"), os.O_CREATE|os.O_RDWR, 0600); err != nil {
			return xerrors.Errorf("%w: uber file in %s", err, s.base_directory)
		} else {
			s.uberfile = &file{diskfile: file_handle}
		}
	} else if s.storage_layer == memory {
		s.uberfile = &file{memoryfile: []byte{}, size: uint32(0)}
	} else {
		return fmt.Errorf("unknown storage layer")
	}

	for i := uint32(0); i < (4*1024*1024*1024)-1; i++ {

		if s.storage_layer == disk {

			filename := s.uint_to_filename(uint32(i))

			finfo, err := os.Stat(filename)
			if os.IsNotExist(err) { // path/to/whatever does not exist
				break
			}

			if finfo != nil && finfo.IsDir() {
				return fmt.Errorf("expected file but found directory at path %s", filename)
			}

			file_handle, err := os.OpenFile(filename, os.O_RDWR, 0600)
			if err != nil {
				return fmt.Errorf("%s: filename:%s", err, filename)
			}

			f := &file{diskfile: file_handle, size: uint32(finfo.Size())}
			s.files[i] = f
			s.findex = i
			if err = s.scanfile(i, f); err != nil {
				return err
			}

		} else if s.storage_layer == memory {
			// nothing to do memory always starts afresh
			break
		}

	}

	if len(s.files) == 0 {
		return s.create_first_file()
	}

	return nil
}

// scanfile indexes every record of a data file. A record which does not verify says nothing
// reliable about its own length, the scan resumes at the next offset holding a record which does.
// Only an unverifiable tail is cut off, it is the remains of a commit which never published its
// uber and is overwritten by the next commit.
func (s *Store) scanfile(findex uint32, f *file) error {
	var payload []byte

	// verify reads the record at pos, ok is false for anything which does not check out
	verify := func(pos uint32) (key uint64, size uint32, ok bool, err error) {
		var header [record_header_size]byte
		if uint64(pos)+record_header_size > uint64(f.size) {
			return 0, 0, false, nil
		}
		if _, err = f.diskfile.ReadAt(header[:], int64(pos)); err != nil {
			return 0, 0, false, err
		}
		key = binary.BigEndian.Uint64(header[0:])
		size = binary.BigEndian.Uint32(header[8:])
		if key == NULL_BUCKET || uint64(pos)+record_header_size+uint64(size) > uint64(f.size) {
			return 0, 0, false, nil
		}
		if cap(payload) < int(size) {
			payload = make([]byte, size)
		}
		payload = payload[:size]
		if _, err = f.diskfile.ReadAt(payload, int64(pos)+record_header_size); err != nil {
			return 0, 0, false, err
		}
		return key, size, record_checksum(header[:12], payload) == binary.BigEndian.Uint64(header[12:]), nil
	}

	// resync finds the first verifiable record after the damaged one at pos, trying the end it
	// claims before searching byte by byte
	resync := func(pos uint32) (uint32, bool, error) {
		var header [record_header_size]byte
		if _, err := f.diskfile.ReadAt(header[:], int64(pos)); err == nil {
			claimed := uint64(pos) + record_header_size + uint64(binary.BigEndian.Uint32(header[8:]))
			if claimed < uint64(f.size) {
				if _, _, ok, err := verify(uint32(claimed)); err != nil {
					return 0, false, err
				} else if ok {
					return uint32(claimed), true, nil
				}
			}
		}
		for next := pos + 1; uint64(next)+record_header_size <= uint64(f.size); next++ {
			if _, _, ok, err := verify(next); err != nil {
				return 0, false, err
			} else if ok {
				return next, true, nil
			}
		}
		return 0, false, nil
	}

	pos := uint32(0)
	for pos < f.size {
		key, size, ok, err := verify(pos)
		if err != nil {
			return xerrors.Errorf("%w: reading record at %d:%d", err, findex, pos)
		}
		if ok {
			s.index[key] = location{findex: findex, fpos: pos, size: size} // last record of a key wins
			pos += record_header_size + size
			continue
		}

		next, found, err := resync(pos)
		if err != nil {
			return xerrors.Errorf("%w: searching past corrupted record at %d:%d", err, findex, pos)
		}
		if !found {
			break
		}
		// buckets of the skipped bytes report corruption when reached
		s.logger.Warn("skipping corrupted record", "file", s.uint_to_filename(findex), "offset", pos, "bytes", next-pos)
		pos = next
	}

	if pos != f.size {
		s.logger.Warn("ignoring unverifiable tail of data file", "file", s.uint_to_filename(findex), "offset", pos, "bytes", f.size-pos)
		f.size = pos
	}
	return nil
}

func (s *Store) create_first_file() error {

	if s.storage_layer == disk {

		err := os.MkdirAll(filepath.Dir(s.uint_to_filename(0)), 0700)
		if err != nil {
			return fmt.Errorf("directory creation err %s  filename %s", err, s.uint_to_filename(0))
		}
		if file_handle, err := os.OpenFile(s.uint_to_filename(0), os.O_CREATE|os.O_RDWR, 0600); err != nil {
			return xerrors.Errorf("%w:  index %d, filename %s", err, 0, s.uint_to_filename(uint32(0)))
		} else {
			s.findex = 0
			s.files[s.findex] = &file{diskfile: file_handle}
		}
	} else if s.storage_layer == memory {
		s.findex = 0
		s.files[s.findex] = &file{memoryfile: []byte{}}
	}
	return nil
}

func record_checksum(header []byte, payload []byte) uint64 {
	d := xxhash.New()
	d.Write(header)
	d.Write(payload)
	return d.Sum64()
}

// we are here means we have a currently open file
// this function is single threaded, the caller holds discsync
func (s *Store) write(buf []byte) (uint32, uint32, error) {
	var done int
	var err error

	cfile, ok := s.files[s.findex]

	if !ok || len(s.files) < 1 {
		return 0, 0, fmt.Errorf("invalid file structures")
	}

	// check whether we need to open a new file or overflowing
	if uint64(cfile.size)+uint64(len(buf)) > MAX_FILE_SIZE {
		findex := s.findex + 1

		var nfile *file
		if s.storage_layer == disk {
			err := os.MkdirAll(filepath.Dir(s.uint_to_filename(findex)), 0700)
			if err != nil {
				return 0, 0, fmt.Errorf("directory creation err %s  filename %s", err, s.uint_to_filename(findex))
			}
			if file_handle, err := os.OpenFile(s.uint_to_filename(findex), os.O_CREATE|os.O_RDWR, 0600); err != nil {
				return 0, 0, xerrors.Errorf("%w:  index %d, filename %s", err, findex, s.uint_to_filename(findex))
			} else {
				nfile = &file{diskfile: file_handle}
			}
		} else if s.storage_layer == memory {
			nfile = &file{memoryfile: []byte{}}
		} else {
			return 0, 0, fmt.Errorf("unknown storage layer")
		}

		s.commitsync.Lock()
		s.files[findex] = nfile
		s.findex = findex
		s.commitsync.Unlock()
		cfile = nfile
	}

	pos := cfile.size

	if s.storage_layer == disk {
		done, err = cfile.diskfile.WriteAt(buf, int64(cfile.size))
	} else if s.storage_layer == memory {
		s.commitsync.Lock()
		if int64(len(cfile.memoryfile)) != int64(cfile.size) {
			s.commitsync.Unlock()
			return 0, 0, fmt.Errorf("probable store is closed")
		}
		cfile.memoryfile = append(cfile.memoryfile, buf...)
		s.commitsync.Unlock()
		done += len(buf)
	}

	cfile.size += uint32(done)
	return s.findex, pos, err

}

// caller holds commitsync for reading
func (s *Store) read(findex, fpos uint32, buf []byte) (int, error) {
	if cfile, ok := s.files[findex]; !ok {
		return 0, xerrors.Errorf("data file (indexed at %d) is NOT available", findex)
	} else {

		if s.storage_layer == disk {
			c, err := cfile.diskfile.ReadAt(buf, int64(fpos))
			return c, err

		} else if s.storage_layer == memory {

			if fpos < uint32(len(cfile.memoryfile)) {
				c := copy(buf, cfile.memoryfile[fpos:])
				return c, nil
			} else if fpos == uint32(len(cfile.memoryfile)) {
				return 0, io.EOF
			} else {
				return 0, fmt.Errorf("out of range")
			}

		} else {
			return 0, fmt.Errorf("unknown storage layer")
		}
	}

}

// Get returns the payload of a stored bucket. A key which is not stored, or a record which does not
// verify, is corruption since buckets are only ever looked up through references.
func (s *Store) Get(key uint64) ([]byte, error) {
	s.commitsync.RLock()
	defer s.commitsync.RUnlock()

	if s.closed {
		return nil, xerrors.Errorf("%w: store", ErrClosed)
	}

	loc, ok := s.index[key]
	if !ok {
		return nil, xerrors.Errorf("%w: bucket %d is not stored", ErrCorruption, key)
	}

	buf := make([]byte, record_header_size+loc.size)
	if count, err := s.read(loc.findex, loc.fpos, buf); err != nil && !(err == io.EOF && count == len(buf)) {
		return nil, xerrors.Errorf("%w: reading bucket %d: %s", ErrCorruption, key, err)
	} else if count != len(buf) {
		return nil, xerrors.Errorf("%w: short read of bucket %d", ErrCorruption, key)
	}

	if binary.BigEndian.Uint64(buf[0:]) != key || record_checksum(buf[:12], buf[record_header_size:]) != binary.BigEndian.Uint64(buf[12:]) {
		return nil, xerrors.Errorf("%w: checksum mismatch for bucket %d at %d:%d", ErrCorruption, key, loc.findex, loc.fpos)
	}
	return buf[record_header_size:], nil
}

// Commit appends all buckets, makes them durable and only then writes the uber into the next ring slot
func (s *Store) Commit(buckets []BucketData, uber []byte) error {
	s.discsync.Lock()
	defer s.discsync.Unlock()

	if s.closed {
		return xerrors.Errorf("%w: store", ErrClosed)
	}
	if len(uber) > internal_UBER_SLOT_SIZE-record_header_size {
		return xerrors.Errorf("%w: uber of %d bytes does not fit a slot", ErrInvalidArgument, len(uber))
	}

	locations := make([]location, len(buckets))
	touched := map[uint32]bool{}
	var frame []byte
	for i, b := range buckets {
		if b.Key == NULL_BUCKET {
			return xerrors.Errorf("%w: bucket key %d is reserved", ErrInvalidArgument, b.Key)
		}
		frame = append(frame[:0], make([]byte, record_header_size)...)
		binary.BigEndian.PutUint64(frame[0:], b.Key)
		binary.BigEndian.PutUint32(frame[8:], uint32(len(b.Data)))
		binary.BigEndian.PutUint64(frame[12:], record_checksum(frame[:12], b.Data))
		frame = append(frame, b.Data...)

		findex, fpos, err := s.write(frame)
		if err != nil {
			return err
		}
		locations[i] = location{findex: findex, fpos: fpos, size: uint32(len(b.Data))}
		touched[findex] = true
	}

	if s.storage_layer == disk {
		for findex := range touched {
			if err := s.files[findex].diskfile.Sync(); err != nil {
				return err
			}
		}
	}

	s.commitsync.Lock()
	for i, b := range buckets {
		s.index[b.Key] = locations[i]
	}
	s.commitsync.Unlock()

	return s.writeUberData(uber)
}

// writeUberData rotates through the ring, so a torn slot write leaves the previous uber valid
func (s *Store) writeUberData(uber []byte) error {
	var slot [internal_UBER_SLOT_SIZE]byte

	index := (s.uber_index + 1) % internal_UBER_SLOTS
	seq := s.uber_seq + 1
	binary.BigEndian.PutUint64(slot[0:], seq)
	binary.BigEndian.PutUint32(slot[8:], uint32(len(uber)))
	copy(slot[record_header_size:], uber)
	binary.BigEndian.PutUint64(slot[12:], record_checksum(slot[:12], uber))

	if s.storage_layer == disk {
		if _, err := s.uberfile.diskfile.WriteAt(slot[:], int64(index*internal_UBER_SLOT_SIZE)); err != nil {
			return err
		}
		if err := s.uberfile.diskfile.Sync(); err != nil {
			return err
		}
	} else if s.storage_layer == memory {
		// no one reads the memory ring directly, uber_data is the source of truth
	} else {
		return fmt.Errorf("unknown storage layer")
	}

	s.commitsync.Lock()
	copy(s.uber_data[index*internal_UBER_SLOT_SIZE:], slot[:])
	s.uber_index = index
	s.uber_seq = seq
	s.commitsync.Unlock()
	return nil
}

// load the uber ring to ram and locate the newest valid slot
func (s *Store) loaduberring() error {
	if s.storage_layer != disk {
		return nil
	}

	count, err := s.uberfile.diskfile.ReadAt(s.uber_data[:], 0)
	if err != nil && err != io.EOF {
		return err
	}
	if count != 0 && count != len(s.uber_data) {
		s.logger.Warn("uber file is truncated", "file", s.uberfile.diskfile.Name(), "bytes", count)
	}

	s.uber_index, s.uber_seq, _ = s.findhighestuberinram()
	return nil
}

func (s *Store) findhighestuberinram() (index int, seq uint64, payload []byte) {
	index = internal_UBER_SLOTS - 1 // so that the first commit uses slot 0
	for i := 0; i < internal_UBER_SLOTS; i++ {
		slot := s.uber_data[i*internal_UBER_SLOT_SIZE : (i+1)*internal_UBER_SLOT_SIZE]
		slot_seq := binary.BigEndian.Uint64(slot[0:])
		size := binary.BigEndian.Uint32(slot[8:])
		if slot_seq <= seq || size > internal_UBER_SLOT_SIZE-record_header_size {
			continue
		}
		data := slot[record_header_size : record_header_size+size]
		if record_checksum(slot[:12], data) != binary.BigEndian.Uint64(slot[12:]) {
			continue
		}
		index, seq, payload = i, slot_seq, data
	}
	return
}

// Uber returns the most recently committed uber bucket, nil if the store is empty
func (s *Store) Uber() ([]byte, error) {
	s.commitsync.RLock()
	defer s.commitsync.RUnlock()

	if s.closed {
		return nil, xerrors.Errorf("%w: store", ErrClosed)
	}
	_, seq, payload := s.findhighestuberinram()
	if seq == 0 {
		return nil, nil
	}
	return append([]byte(nil), payload...), nil
}
