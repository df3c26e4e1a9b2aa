package treetank

import "bytes"
import "sort"
import "fmt"

type metaPair struct {
	key, value MetaEntry
}

// MetaBucket is the per revision key/value store for engine and consumer metadata.
// It is copied as a whole on first change within a revision, there is no chain.
type MetaBucket struct {
	bucket_key uint64
	entries    map[string]metaPair // indexed by the serialized key
}

func newMetaBucket(key uint64) *MetaBucket {
	return &MetaBucket{bucket_key: key, entries: map[string]metaPair{}}
}

func (m *MetaBucket) BucketKey() uint64 {
	return m.bucket_key
}

func (m *MetaBucket) Kind() int32 {
	return kindMeta
}

func metaIdentity(key MetaEntry) (string, error) {
	var buf bytes.Buffer
	if err := key.Serialize(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *MetaBucket) put(key, value MetaEntry) error {
	id, err := metaIdentity(key)
	if err != nil {
		return err
	}
	m.entries[id] = metaPair{key: key, value: value}
	return nil
}

func (m *MetaBucket) get(key MetaEntry) (MetaEntry, bool, error) {
	id, err := metaIdentity(key)
	if err != nil {
		return nil, false, err
	}
	p, ok := m.entries[id]
	return p.value, ok, nil
}

// remove returns the removed value, absent keys are not an error
func (m *MetaBucket) remove(key MetaEntry) (MetaEntry, bool, error) {
	id, err := metaIdentity(key)
	if err != nil {
		return nil, false, err
	}
	p, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	return p.value, ok, nil
}

func (m *MetaBucket) Size() int {
	return len(m.entries)
}

// each visits the entries ordered by serialized key, so serialization is deterministic
func (m *MetaBucket) each(fn func(key, value MetaEntry) bool) {
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := m.entries[id]
		if !fn(p.key, p.value) {
			return
		}
	}
}

func (m *MetaBucket) clone(key uint64) *MetaBucket {
	n := newMetaBucket(key)
	for id, p := range m.entries {
		n.entries[id] = p
	}
	return n
}

func (m *MetaBucket) String() string {
	return fmt.Sprintf("meta{key %d entries %d}", m.bucket_key, len(m.entries))
}
