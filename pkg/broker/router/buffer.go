package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

var bucketDlDataBuffer = []byte("dldata_buffer")

// BufferRecord is a pending downlink awaiting a DlDataResult from the
// network side. The routing runtime persists one per send_dldata call and
// removes it once a terminal result arrives or it expires.
type BufferRecord struct {
	DataID        string    `json:"dataId"`
	Unit          string    `json:"unit"`
	ApplicationID string    `json:"applicationId"`
	NetworkID     string    `json:"networkId"`
	NetworkAddr   string    `json:"networkAddr"`
	CorrelationID string    `json:"correlationId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Buffer is the bbolt-backed downlink-buffer store.
type Buffer struct {
	db *bolt.DB

	count int64 // atomic; mirrors relaymq_buffer_entries_total

	sweepInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	stopOnce      sync.Once
}

// NewBuffer opens (creating if absent) the bolt database at path and
// starts the expiry-sweep goroutine.
func NewBuffer(path string) (*Buffer, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("router: open buffer db: %w", err)
	}

	var initial int
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketDlDataBuffer)
		if err != nil {
			return err
		}
		initial = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("router: create buffer bucket: %w", err)
	}

	b := &Buffer{
		db:            db,
		count:         int64(initial),
		sweepInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	metrics.BufferEntriesTotal.Set(float64(initial))
	go b.runSweeper()
	return b, nil
}

// Count returns the current number of buffered downlink records.
func (b *Buffer) Count() int {
	return int(atomic.LoadInt64(&b.count))
}

// Close stops the sweep goroutine and closes the database.
func (b *Buffer) Close() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	return b.db.Close()
}

// Put persists a pending downlink record, keyed by DataID.
func (b *Buffer) Put(record *BufferRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	var existed bool
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDlDataBuffer)
		existed = bucket.Get([]byte(record.DataID)) != nil
		return bucket.Put([]byte(record.DataID), data)
	})
	if err != nil {
		return err
	}
	if !existed {
		metrics.BufferEntriesTotal.Set(float64(atomic.AddInt64(&b.count, 1)))
	}
	return nil
}

// Get returns the buffered record for dataID, or ok=false if absent or
// expired.
func (b *Buffer) Get(dataID string) (record *BufferRecord, ok bool, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDlDataBuffer).Get([]byte(dataID))
		if data == nil {
			return nil
		}
		var r BufferRecord
		if unmarshalErr := json.Unmarshal(data, &r); unmarshalErr != nil {
			return unmarshalErr
		}
		if time.Now().After(r.ExpiresAt) {
			return nil
		}
		record = &r
		return nil
	})
	return record, record != nil, err
}

// Delete removes the buffered record for dataID, if present.
func (b *Buffer) Delete(dataID string) error {
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDlDataBuffer)
		existed = bucket.Get([]byte(dataID)) != nil
		return bucket.Delete([]byte(dataID))
	})
	if err != nil {
		return err
	}
	if existed {
		metrics.BufferEntriesTotal.Set(float64(atomic.AddInt64(&b.count, -1)))
	}
	return nil
}

func (b *Buffer) runSweeper() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweepExpired()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Buffer) sweepExpired() {
	logger := log.WithComponent("buffer")

	var expired [][]byte
	now := time.Now()
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDlDataBuffer).ForEach(func(k, v []byte) error {
			var r BufferRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			if now.After(r.ExpiresAt) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("sweep scan failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDlDataBuffer)
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("sweep delete failed")
		return
	}
	metrics.BufferExpiredTotal.Add(float64(len(expired)))
	metrics.BufferEntriesTotal.Set(float64(atomic.AddInt64(&b.count, -int64(len(expired)))))
	logger.Debug().Int("count", len(expired)).Msg("swept expired downlink buffer entries")
}
