package treetank

import "sync"
import "sync/atomic"
import "log/slog"

import "github.com/prometheus/client_golang/prometheus"
import "golang.org/x/xerrors"

// Options configure a resource. ItemFactory and MetaFactory are required.
type Options struct {
	ItemFactory ItemFactory
	MetaFactory MetaEntryFactory

	Revisioning  Revisioning // new resources default to Incremental{MaxChain: DEFAULT_MAX_CHAIN}, existing ones use the stored strategy
	VerifyHashes bool        // check reference hashes of every bucket read
	Compression  Compression // applies to buckets written from now on
	CacheSize    int         // merged leaves cached per read transaction, 0 selects the default, negative disables

	Logger     *slog.Logger          // defaults to slog.Default()
	Registerer prometheus.Registerer // metrics are registered here when set
}

const DEFAULT_CACHE_SIZE = 256

// the two indirect trees of a resource
type tree uint8

const (
	itemTree     tree = iota // addressed by item key, rooted at the revision root
	revisionTree             // addressed by revision, rooted at the uber bucket
)

func (t tree) String() string {
	if t == revisionTree {
		return "revisions"
	}
	return "items"
}

// Resource is one versioned item store on top of a Backend. It hands out any number of read
// transactions and at most one write transaction at a time.
type Resource struct {
	backend Backend
	opt     Options
	logger  *slog.Logger
	metrics *Metrics

	factories [2]*BucketFactory // per tree

	uber atomic.Pointer[UberBucket] // most recently published uber

	mu      sync.Mutex // guards the fields below
	writer  *WriteTrx
	readers map[*ReadTrx]struct{}
	closed  bool
}

// Open a resource on backend. An empty backend is bootstrapped with the empty revision 0.
func Open(backend Backend, opt Options) (*Resource, error) {
	if opt.ItemFactory == nil || opt.MetaFactory == nil {
		return nil, xerrors.Errorf("%w: item and meta factories are required", ErrInvalidArgument)
	}
	requested := opt.Revisioning
	if requested != nil {
		if err := checkRevisioning(requested); err != nil {
			return nil, err
		}
	}
	if opt.CacheSize == 0 {
		opt.CacheSize = DEFAULT_CACHE_SIZE
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	metrics, err := newMetrics(opt.Registerer)
	if err != nil {
		return nil, xerrors.Errorf("registering metrics: %w", err)
	}

	r := &Resource{
		backend: backend,
		opt:     opt,
		logger:  opt.Logger,
		metrics: metrics,
		readers: map[*ReadTrx]struct{}{},
	}
	r.factories[itemTree] = NewBucketFactory(opt.ItemFactory, opt.MetaFactory)
	r.factories[revisionTree] = NewBucketFactory(revisionEntryFactory{}, opt.MetaFactory)

	data, err := backend.Uber()
	if err != nil {
		return nil, err
	}

	if data == nil {
		if requested == nil {
			r.opt.Revisioning = Incremental{MaxChain: DEFAULT_MAX_CHAIN}
		}
		w := newWriteTrx(r, &UberBucket{revisioning: r.opt.Revisioning}, newRevisionRootBucket(NULL_BUCKET, 0, 0))
		if _, err = w.Commit(); err != nil {
			return nil, xerrors.Errorf("bootstrapping resource: %w", err)
		}
		w.Close()
		r.logger.Info("bootstrapped resource", "revisioning", r.opt.Revisioning.String(), "compression", opt.Compression.String())
		return r, nil
	}

	b, err := r.factories[itemTree].Deserialize(data)
	if err != nil {
		return nil, xerrors.Errorf("loading uber bucket: %w", err)
	}
	uber, ok := b.(*UberBucket)
	if !ok {
		return nil, xerrors.Errorf("%w: expected uber bucket, found %s", ErrCorruption, kindName(b.Kind()))
	}
	if requested != nil && requested != uber.revisioning {
		return nil, xerrors.Errorf("%w: resource was created with revisioning %s, %s requested", ErrInvalidArgument, uber.revisioning, requested)
	}
	r.opt.Revisioning = uber.revisioning
	r.uber.Store(uber)
	r.logger.Info("opened resource", "revision", uber.revision_count, "buckets", uber.bucket_counter, "revisioning", uber.revisioning.String())
	return r, nil
}

// LatestRevision is the newest committed revision
func (r *Resource) LatestRevision() uint64 {
	return r.uber.Load().revision_count
}

// Uber returns a copy of the currently published uber bucket
func (r *Resource) Uber() UberBucket {
	return *r.uber.Load()
}

func (r *Resource) Metrics() *Metrics {
	return r.metrics
}

func (r *Resource) Options() Options {
	return r.opt
}

// BeginRead pins a read transaction to revision, which must already be committed
func (r *Resource) BeginRead(revision uint64) (*ReadTrx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, xerrors.Errorf("%w: resource", ErrClosed)
	}

	uber := r.uber.Load()
	if revision > uber.revision_count {
		return nil, xerrors.Errorf("%w: revision %d requested, newest is %d", ErrInvalidRevision, revision, uber.revision_count)
	}

	root, err := r.loadRevisionRoot(uber, revision)
	if err != nil {
		return nil, err
	}
	t := &ReadTrx{res: r, root: root, cache: newLeafCache(r.opt.CacheSize)}
	r.readers[t] = struct{}{}
	return t, nil
}

// BeginWrite starts the single write transaction on top of the newest revision
func (r *Resource) BeginWrite() (*WriteTrx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, xerrors.Errorf("%w: resource", ErrClosed)
	}
	if r.writer != nil {
		return nil, ErrWriterActive
	}

	uber := *r.uber.Load()
	base, err := r.loadRevisionRoot(&uber, uber.revision_count)
	if err != nil {
		return nil, err
	}
	root := newRevisionRootBucket(NULL_BUCKET, uber.revision_count+1, base.next_item_key)
	root.keys = base.keys
	w := newWriteTrx(r, &uber, root)
	r.writer = w
	return w, nil
}

// Close closes all open transactions, uncommitted changes are discarded, and then the backend
func (r *Resource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	writer := r.writer
	readers := make([]*ReadTrx, 0, len(r.readers))
	for t := range r.readers {
		readers = append(readers, t)
	}
	r.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
	for _, t := range readers {
		t.Close()
	}
	r.logger.Info("closed resource", "revision", r.LatestRevision())
	return r.backend.Close()
}

func (r *Resource) releaseReader(t *ReadTrx) {
	r.mu.Lock()
	delete(r.readers, t)
	r.mu.Unlock()
}

func (r *Resource) releaseWriter(w *WriteTrx) {
	r.mu.Lock()
	if r.writer == w {
		r.writer = nil
	}
	r.mu.Unlock()
}

func (r *Resource) publish(uber *UberBucket) {
	r.uber.Store(uber)
}

// load fetches and decodes a bucket of the expected kind
func (r *Resource) load(t tree, key uint64, kind int32) (Bucket, error) {
	data, err := r.backend.Get(key)
	if err != nil {
		return nil, err
	}
	raw, err := decompress(data)
	if err == nil {
		var b Bucket
		if b, err = r.factories[t].Deserialize(raw); err == nil {
			if b.Kind() != kind || b.BucketKey() != key {
				err = xerrors.Errorf("%w: bucket %d holds %s %d, expected %s", ErrCorruption, key, kindName(b.Kind()), b.BucketKey(), kindName(kind))
			} else {
				r.metrics.BucketsRead.Inc()
				return b, nil
			}
		}
	}
	r.metrics.Corruptions.Inc()
	return nil, err
}

// verify compares a reference hash with the hash of the loaded bucket, nil hashes are not checked
func (r *Resource) verify(key uint64, expected []byte, b hashedBucket) error {
	if !r.opt.VerifyHashes || expected == nil {
		return nil
	}
	if actual := b.hash(); string(expected) != string(actual) {
		r.metrics.Corruptions.Inc()
		return xerrors.Errorf("%w: hash mismatch for bucket %d, expected %x actual %x", ErrCorruption, key, expected, actual)
	}
	return nil
}

func (r *Resource) loadIndirect(t tree, key uint64, hash []byte) (*IndirectBucket, error) {
	b, err := r.load(t, key, kindIndirect)
	if err != nil {
		return nil, err
	}
	in := b.(*IndirectBucket)
	if err = r.verify(key, hash, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (r *Resource) loadLeaf(t tree, key uint64) (*LeafBucket, error) {
	b, err := r.load(t, key, kindLeaf)
	if err != nil {
		return nil, err
	}
	return b.(*LeafBucket), nil
}

func (r *Resource) loadMeta(key uint64) (*MetaBucket, error) {
	if key == NULL_BUCKET {
		return newMetaBucket(NULL_BUCKET), nil
	}
	b, err := r.load(itemTree, key, kindMeta)
	if err != nil {
		return nil, err
	}
	return b.(*MetaBucket), nil
}

func (r *Resource) strategy(t tree) Revisioning {
	if t == revisionTree {
		return wholeLeaves{}
	}
	return r.opt.Revisioning
}

// findLeaf follows the indirect path for seq down from root. It returns the bucket key of the
// newest version of the leaf and the hash its parent stores, or NULL_BUCKET if the path ends early.
func (r *Resource) findLeaf(t tree, root uint64, seq uint64) (key uint64, hash []byte, err error) {
	key = root
	for _, offset := range levelOffsets(seq) {
		if key == NULL_BUCKET {
			return NULL_BUCKET, nil, nil
		}
		var in *IndirectBucket
		if in, err = r.loadIndirect(t, key, hash); err != nil {
			return NULL_BUCKET, nil, err
		}
		key, hash = in.keys[offset], in.hashes[offset]
	}
	return
}

// readChain walks the physical versions of the leaf at key and verifies the newest against hash
func (r *Resource) readChain(t tree, key uint64, hash []byte) ([]*LeafBucket, error) {
	chain, err := walkChain(func(k uint64) (*LeafBucket, error) {
		return r.loadLeaf(t, k)
	}, key, r.strategy(t).ReadDepth())
	if err != nil {
		return nil, err
	}
	if len(chain) > 0 {
		if err = r.verify(key, hash, chain[0]); err != nil {
			return nil, err
		}
		r.metrics.ChainLength.Observe(float64(len(chain)))
	}
	return chain, nil
}

// loadRevisionRoot resolves a committed revision through the revision tree of uber
func (r *Resource) loadRevisionRoot(uber *UberBucket, revision uint64) (*RevisionRootBucket, error) {
	if err := checkItemKey(revision); err != nil {
		return nil, err
	}
	key, hash, err := r.findLeaf(revisionTree, uber.revision_tree, leafSequence(revision))
	if err != nil {
		return nil, err
	}
	if key == NULL_BUCKET {
		return nil, xerrors.Errorf("%w: revision %d is not in the revision tree", ErrCorruption, revision)
	}
	chain, err := r.readChain(revisionTree, key, hash)
	if err != nil {
		return nil, err
	}
	entry, ok := merged(chain).Slot(dataBucketOffset(revision)).(*revisionEntry)
	if !ok || entry.revision != revision {
		return nil, xerrors.Errorf("%w: revision %d is not in the revision tree", ErrCorruption, revision)
	}

	b, err := r.load(itemTree, entry.root, kindRevisionRoot)
	if err != nil {
		return nil, err
	}
	root := b.(*RevisionRootBucket)
	if err = r.verify(entry.root, entry.hash, root); err != nil {
		return nil, err
	}
	if root.revision != revision {
		return nil, xerrors.Errorf("%w: revision root %d belongs to revision %d, expected %d", ErrCorruption, entry.root, root.revision, revision)
	}
	return root, nil
}
