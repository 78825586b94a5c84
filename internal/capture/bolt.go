package capture

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"homewire/internal/session"
)

var bucketFrames = []byte("frames")

// DefaultRetention is the per-device record limit when none is configured.
const DefaultRetention = 1000

// BoltJournal implements Journal using BoltDB, one nested bucket per device
// keyed by a big-endian sequence number.
type BoltJournal struct {
	db        *bolt.DB
	retention uint64
}

type storedRecord struct {
	Time      time.Time         `json:"t"`
	Direction session.Direction `json:"d"`
	Data      []byte            `json:"b"`
}

// OpenBolt opens or creates a journal database.
func OpenBolt(path string, retention int) (*BoltJournal, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFrames)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltJournal{db: db, retention: uint64(retention)}, nil
}

// OpenBoltReadOnly opens an existing journal for inspection. Append fails
// on a read-only journal.
func OpenBoltReadOnly(path string) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func (j *BoltJournal) Append(device string, dir session.Direction, data []byte, at time.Time) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketFrames).CreateBucketIfNotExists([]byte(device))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		v, err := json.Marshal(storedRecord{Time: at, Direction: dir, Data: data})
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), v); err != nil {
			return err
		}
		if seq <= j.retention {
			return nil
		}
		cutoff := seq - j.retention
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *BoltJournal) List(device string, limit int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketFrames)
		if root == nil {
			return fmt.Errorf("device %s: %w", device, ErrNotFound)
		}
		b := root.Bucket([]byte(device))
		if b == nil {
			return fmt.Errorf("device %s: %w", device, ErrNotFound)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			var st storedRecord
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, Record{
				Seq:       binary.BigEndian.Uint64(k),
				Time:      st.Time,
				Direction: st.Direction,
				Data:      st.Data,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func (j *BoltJournal) Devices() ([]string, error) {
	var names []string
	err := j.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketFrames)
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (j *BoltJournal) Close() error {
	return j.db.Close()
}
