package dao

import (
	"context"
	"errors"
	"fmt"

	"starmus-recorder/database"
	"starmus-recorder/logging"
	"starmus-recorder/model"

	"go.uber.org/zap"
)

// RecordStatusView cached projection used by the status endpoint
type RecordStatusView struct {
	ID       int64                  `json:"id"`
	Kind     string                 `json:"kind"`
	AuthorId uint64                 `json:"author_id"`
	Status   model.SubmissionStatus `json:"status"`
}

// SubmissionRecordDAO submission record data access object
type SubmissionRecordDAO struct {
	db     database.Database
	cache  *database.Cache
	logger *logging.Logger
}

// NewSubmissionRecordDAO create submission record DAO instance. cache and logger may be nil.
func NewSubmissionRecordDAO(db database.Database, cache *database.Cache, logger *logging.Logger) *SubmissionRecordDAO {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SubmissionRecordDAO{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

func statusCacheKey(id int64) string {
	return fmt.Sprintf("starmus:status:%d", id)
}

// Create create submission record, database.ErrDuplicateKey when upload_key is taken
func (dao *SubmissionRecordDAO) Create(ctx context.Context, record *model.SubmissionRecord) error {
	return dao.db.CreateSubmissionRecord(ctx, record)
}

// GetByID get record by id, nil when absent
func (dao *SubmissionRecordDAO) GetByID(ctx context.Context, id int64) (*model.SubmissionRecord, error) {
	record, err := dao.db.GetSubmissionRecordByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return record, err
}

// GetByUploadKey get record by natural key, nil when absent
func (dao *SubmissionRecordDAO) GetByUploadKey(ctx context.Context, uploadKey string) (*model.SubmissionRecord, error) {
	record, err := dao.db.GetSubmissionRecordByUploadKey(ctx, uploadKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return record, err
}

// GetStatusView returns the status projection, served from cache when possible. nil when absent.
func (dao *SubmissionRecordDAO) GetStatusView(ctx context.Context, id int64) (*RecordStatusView, error) {
	var view RecordStatusView
	if err := dao.cache.Get(ctx, statusCacheKey(id), &view); err == nil {
		return &view, nil
	} else if !errors.Is(err, database.ErrCacheMiss) {
		dao.logger.Warn(ctx, "status cache read failed", zap.Int64("record_id", id), zap.Error(err))
	}

	record, err := dao.GetByID(ctx, id)
	if err != nil || record == nil {
		return nil, err
	}
	view = RecordStatusView{
		ID:       record.ID,
		Kind:     record.Kind,
		AuthorId: record.AuthorId,
		Status:   record.Status,
	}
	if err := dao.cache.Set(ctx, statusCacheKey(id), view); err != nil {
		dao.logger.Warn(ctx, "status cache write failed", zap.Int64("record_id", id), zap.Error(err))
	}
	return &view, nil
}

// UpdateStatus updates record status and drops the cached status
func (dao *SubmissionRecordDAO) UpdateStatus(ctx context.Context, id int64, status model.SubmissionStatus) error {
	record, err := dao.db.GetSubmissionRecordByID(ctx, id)
	if err != nil {
		return err
	}
	record.Status = status
	if err := dao.db.UpdateSubmissionRecord(ctx, record); err != nil {
		return err
	}
	dao.invalidate(ctx, id)
	return nil
}

// Publish writes metadata and flips the record to published in one update
func (dao *SubmissionRecordDAO) Publish(ctx context.Context, id int64, meta map[string]string) error {
	record, err := dao.db.GetSubmissionRecordByID(ctx, id)
	if err != nil {
		return err
	}
	record.Meta = mergeMeta(record.Meta, meta)
	record.Status = model.SubmissionStatusPublished
	if err := dao.db.UpdateSubmissionRecord(ctx, record); err != nil {
		return err
	}
	dao.invalidate(ctx, id)
	return nil
}

// SetMeta sets a single metadata key on the record
func (dao *SubmissionRecordDAO) SetMeta(ctx context.Context, id int64, key, value string) error {
	record, err := dao.db.GetSubmissionRecordByID(ctx, id)
	if err != nil {
		return err
	}
	record.Meta = mergeMeta(record.Meta, map[string]string{key: value})
	return dao.db.UpdateSubmissionRecord(ctx, record)
}

// Delete deletes a record
func (dao *SubmissionRecordDAO) Delete(ctx context.Context, id int64) error {
	if err := dao.db.DeleteSubmissionRecord(ctx, id); err != nil {
		return err
	}
	dao.invalidate(ctx, id)
	return nil
}

// Link sets the record/asset back-references
func (dao *SubmissionRecordDAO) Link(ctx context.Context, recordID, assetID int64) error {
	return dao.db.LinkSubmission(ctx, recordID, assetID)
}

// CountByStatus returns count of records by status
func (dao *SubmissionRecordDAO) CountByStatus(ctx context.Context, status model.SubmissionStatus) (int64, error) {
	return dao.db.CountSubmissionRecordsByStatus(ctx, status)
}

func (dao *SubmissionRecordDAO) invalidate(ctx context.Context, id int64) {
	if err := dao.cache.Delete(ctx, statusCacheKey(id)); err != nil {
		dao.logger.Warn(ctx, "status cache invalidation failed", zap.Int64("record_id", id), zap.Error(err))
	}
}

func mergeMeta(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
