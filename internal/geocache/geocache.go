// Package geocache persists the last-loaded geofence set to a local bbolt
// file, so the geofence detector degrades to "last known good" instead of
// "none" during a relational store outage.
package geocache

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fleettrack/ingestd/internal/pipeline"
)

const (
	bucketKey = "geofence_snapshot"
	itemKey   = "current"
)

// Cache implements pipeline.GeofenceSnapshotCache over a bbolt file.
type Cache struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path and ensures its bucket
// exists.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketKey))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying bbolt file.
func (c *Cache) Close() error { return c.db.Close() }

// Save overwrites the stored geofence snapshot.
func (c *Cache) Save(fences []pipeline.Geofence) error {
	body, err := json.Marshal(fences)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketKey)).Put([]byte(itemKey), body)
	})
}

// Load returns the last-saved geofence snapshot, or an empty slice if none
// has been saved yet.
func (c *Cache) Load() ([]pipeline.Geofence, error) {
	var fences []pipeline.Geofence
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketKey)).Get([]byte(itemKey))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &fences)
	})
	return fences, err
}
