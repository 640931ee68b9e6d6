package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"starmus-recorder/logging"
	"starmus-recorder/model"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleDatabase PebbleDB implementation. Collections are key prefixes in one
// store so that a record and its upload_key index commit in a single batch.
type PebbleDatabase struct {
	db *pebble.DB

	// writeMu serializes check-then-write sequences on the upload_key index
	writeMu sync.Mutex

	recordIDCounter atomic.Int64
	assetIDCounter  atomic.Int64

	logger *logging.Logger
}

// PebbleConfig PebbleDB configuration
type PebbleConfig struct {
	DataDir string
	Logger  *logging.Logger // optional
}

// Collection names and their key-value formats
const (
	collectionSubmissionRecord = "submission_record" // key: {id}, value: JSON(SubmissionRecord)
	collectionRecordUploadKey  = "record_upload_key" // key: {upload_key}, value: {id}
	collectionMediaAsset       = "media_asset"       // key: {id}, value: JSON(MediaAsset)
	collectionCounters         = "counters"          // key: record/asset, value: {max_id}
)

// Counter keys
const (
	keyRecordCounter = "record"
	keyAssetCounter  = "asset"
)

// NewPebbleDatabase create PebbleDB database instance
func NewPebbleDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*PebbleConfig)
	if !ok {
		return nil, fmt.Errorf("invalid PebbleDB config type")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	db, err := pebble.Open(cfg.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.DataDir, err)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	pdb := &PebbleDatabase{db: db, logger: log}

	// Load counters
	if err := pdb.loadCounters(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	log.Info(context.Background(), "pebble database opened", zap.String("data_dir", cfg.DataDir))
	return pdb, nil
}

func collectionKey(collection, key string) []byte {
	return []byte(collection + "/" + key)
}

// idKey zero-pads ids so that keys sort numerically
func idKey(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// loadCounters load ID counters from counters collection
func (p *PebbleDatabase) loadCounters() error {
	for key, counter := range map[string]*atomic.Int64{
		keyRecordCounter: &p.recordIDCounter,
		keyAssetCounter:  &p.assetIDCounter,
	} {
		val, closer, err := p.db.Get(collectionKey(collectionCounters, key))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		count, parseErr := strconv.ParseInt(string(val), 10, 64)
		closer.Close()
		if parseErr != nil {
			return fmt.Errorf("corrupt counter %s: %w", key, parseErr)
		}
		counter.Store(count)
	}
	return nil
}

func (p *PebbleDatabase) getJSON(key []byte, dest interface{}) error {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, dest)
}

func (p *PebbleDatabase) exists(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// SubmissionRecord operations

func (p *PebbleDatabase) CreateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	indexKey := collectionKey(collectionRecordUploadKey, record.UploadKey)
	taken, err := p.exists(indexKey)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: upload_key %s", ErrDuplicateKey, record.UploadKey)
	}

	id := p.recordIDCounter.Add(1)
	now := time.Now()
	record.ID = id
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = model.SubmissionStatusDraft
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	batch.Set(collectionKey(collectionSubmissionRecord, idKey(id)), data, nil)
	batch.Set(indexKey, []byte(strconv.FormatInt(id, 10)), nil)
	batch.Set(collectionKey(collectionCounters, keyRecordCounter), []byte(strconv.FormatInt(id, 10)), nil)
	return batch.Commit(pebble.Sync)
}

func (p *PebbleDatabase) GetSubmissionRecordByID(ctx context.Context, id int64) (*model.SubmissionRecord, error) {
	var record model.SubmissionRecord
	if err := p.getJSON(collectionKey(collectionSubmissionRecord, idKey(id)), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *PebbleDatabase) GetSubmissionRecordByUploadKey(ctx context.Context, uploadKey string) (*model.SubmissionRecord, error) {
	val, closer, err := p.db.Get(collectionKey(collectionRecordUploadKey, uploadKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id, parseErr := strconv.ParseInt(string(val), 10, 64)
	closer.Close()
	if parseErr != nil {
		return nil, fmt.Errorf("corrupt upload_key index %s: %w", uploadKey, parseErr)
	}
	return p.GetSubmissionRecordByID(ctx, id)
}

func (p *PebbleDatabase) UpdateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	key := collectionKey(collectionSubmissionRecord, idKey(record.ID))
	var existing model.SubmissionRecord
	if err := p.getJSON(key, &existing); err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	if existing.UploadKey != record.UploadKey {
		newIndex := collectionKey(collectionRecordUploadKey, record.UploadKey)
		taken, err := p.exists(newIndex)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: upload_key %s", ErrDuplicateKey, record.UploadKey)
		}
		batch.Delete(collectionKey(collectionRecordUploadKey, existing.UploadKey), nil)
		batch.Set(newIndex, []byte(strconv.FormatInt(record.ID, 10)), nil)
	}

	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	batch.Set(key, data, nil)
	return batch.Commit(pebble.Sync)
}

func (p *PebbleDatabase) DeleteSubmissionRecord(ctx context.Context, id int64) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	key := collectionKey(collectionSubmissionRecord, idKey(id))
	var existing model.SubmissionRecord
	if err := p.getJSON(key, &existing); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	batch.Delete(key, nil)
	batch.Delete(collectionKey(collectionRecordUploadKey, existing.UploadKey), nil)
	return batch.Commit(pebble.Sync)
}

func (p *PebbleDatabase) CountSubmissionRecordsByStatus(ctx context.Context, status model.SubmissionStatus) (int64, error) {
	prefix := collectionSubmissionRecord + "/"
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var count int64
	for iter.First(); iter.Valid(); iter.Next() {
		var record model.SubmissionRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			p.logger.Warn(ctx, "failed to decode submission record",
				zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		if record.Status == status {
			count++
		}
	}
	return count, iter.Error()
}

// MediaAsset operations

func (p *PebbleDatabase) CreateMediaAsset(ctx context.Context, asset *model.MediaAsset) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	id := p.assetIDCounter.Add(1)
	now := time.Now()
	asset.ID = id
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.UpdatedAt = now

	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	batch.Set(collectionKey(collectionMediaAsset, idKey(id)), data, nil)
	batch.Set(collectionKey(collectionCounters, keyAssetCounter), []byte(strconv.FormatInt(id, 10)), nil)
	return batch.Commit(pebble.Sync)
}

func (p *PebbleDatabase) GetMediaAssetByID(ctx context.Context, id int64) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	if err := p.getJSON(collectionKey(collectionMediaAsset, idKey(id)), &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (p *PebbleDatabase) UpdateMediaAsset(ctx context.Context, asset *model.MediaAsset) error {
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	key := collectionKey(collectionMediaAsset, idKey(asset.ID))
	var existing model.MediaAsset
	if err := p.getJSON(key, &existing); err != nil {
		return err
	}
	asset.CreatedAt = existing.CreatedAt
	asset.UpdatedAt = time.Now()
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	return p.db.Set(key, data, pebble.Sync)
}

func (p *PebbleDatabase) DeleteMediaAsset(ctx context.Context, id int64) error {
	return p.db.Delete(collectionKey(collectionMediaAsset, idKey(id)), pebble.Sync)
}

func (p *PebbleDatabase) LinkSubmission(ctx context.Context, recordID, assetID int64) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	recordKey := collectionKey(collectionSubmissionRecord, idKey(recordID))
	assetKey := collectionKey(collectionMediaAsset, idKey(assetID))

	var record model.SubmissionRecord
	if err := p.getJSON(recordKey, &record); err != nil {
		return fmt.Errorf("record %d: %w", recordID, err)
	}
	var asset model.MediaAsset
	if err := p.getJSON(assetKey, &asset); err != nil {
		return fmt.Errorf("asset %d: %w", assetID, err)
	}

	now := time.Now()
	record.AssetId = assetID
	record.UpdatedAt = now
	asset.RecordId = recordID
	asset.UpdatedAt = now

	recordData, err := json.Marshal(&record)
	if err != nil {
		return err
	}
	assetData, err := json.Marshal(&asset)
	if err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	batch.Set(recordKey, recordData, nil)
	batch.Set(assetKey, assetData, nil)
	return batch.Commit(pebble.Sync)
}

// Close closes the store
func (p *PebbleDatabase) Close() error {
	return p.db.Close()
}
