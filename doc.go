/*
Treetank is an embedded, versioned bucket store.

Every commit appends an immutable revision of a keyed item set. Any item can be read by its 64 bit key
at any committed revision, old revisions stay readable forever since nothing is ever changed in place.

	Treetank is an item store having
		1) append only storage, buckets are written once under a never reused bucket key
		2) versioning, every commit is a revision which can be visited at any point in time
		3) copy on write, a commit only writes the changed leaves and their indirect path
		4) configurable revisioning of leaves (full dump, incremental, sliding snapshot)
		5) integrity hashes (blake2s) on all references, optionally verified on every read


	Features

		* Fixed fan-out (128) and fixed depth (5) indirect trees, 2^42 items per resource
		* Structural sharing, untouched subtrees are referenced by all later revisions
		* Delta leaves merged on read, bounded by a forced full leaf after a configurable chain length
		* Tombstones so deleted items never resurface from older leaf versions
		* Per revision meta bucket for consumer key/value metadata
		* Any number of concurrent readers, one writer, readers never see uncommitted data
		* Pluggable item and meta serialization, ready made blob, string and msgpack records
		* Disk (split files), memory and bbolt backends, optional snappy or zstd compression
		* Prometheus metrics, slog logging, yaml configuration


Eg. Minimal code, to write and read back a value (error checking is skipped)
	store, _ := NewDiskStore("/tmp/testdb")   // create a new testdb in "/tmp/testdb"
	res, _ := Open(store, Options{ItemFactory: BlobFactory{}, MetaFactory: StringEntryFactory{}})
	wtx, _ := res.BeginWrite()               // the single writer
	wtx.SetItem(&BlobItem{Key: 1, Value: []byte("value")})
	revision, _ := wtx.Commit()              // publish the revision
	rtx, _ := res.BeginRead(revision)        // read any committed revision
	item, found, _ := rtx.Item(1)



Eg, Revisions, see examples/snapshot_example/snapshot_example.go

*/
package treetank
