package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"starmus-recorder/logging"
	"starmus-recorder/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// MySQLDatabase MySQL database implementation
type MySQLDatabase struct {
	db *gorm.DB
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     logger.LogLevel
	Logger       *logging.Logger // optional
}

// NewMySQLDatabase create MySQL database instance
func NewMySQLDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*MySQLConfig)
	if !ok {
		return nil, fmt.Errorf("invalid MySQL config type")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Warn
	}

	// Connect database
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect MySQL: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Set connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.SubmissionRecord{}, &model.MediaAsset{}); err != nil {
		return nil, fmt.Errorf("failed to migrate MySQL schema: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log.Info(context.Background(), "mysql database connected",
		zap.Int("max_open_conns", cfg.MaxOpenConns), zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return &MySQLDatabase{db: db}, nil
}

// GetGormDB exposes the underlying gorm handle
func (m *MySQLDatabase) GetGormDB() *gorm.DB {
	return m.db
}

func translateMySQLError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// SubmissionRecord operations

func (m *MySQLDatabase) CreateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error {
	return translateMySQLError(m.db.WithContext(ctx).Create(record).Error)
}

func (m *MySQLDatabase) GetSubmissionRecordByID(ctx context.Context, id int64) (*model.SubmissionRecord, error) {
	var record model.SubmissionRecord
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, translateMySQLError(err)
	}
	return &record, nil
}

func (m *MySQLDatabase) GetSubmissionRecordByUploadKey(ctx context.Context, uploadKey string) (*model.SubmissionRecord, error) {
	var record model.SubmissionRecord
	err := m.db.WithContext(ctx).Where("upload_key = ?", uploadKey).First(&record).Error
	if err != nil {
		return nil, translateMySQLError(err)
	}
	return &record, nil
}

func (m *MySQLDatabase) UpdateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	result := m.db.WithContext(ctx).Model(&model.SubmissionRecord{}).
		Where("id = ?", record.ID).
		Select("*").
		Omit("created_at").
		Updates(record)
	return translateMySQLError(result.Error)
}

func (m *MySQLDatabase) DeleteSubmissionRecord(ctx context.Context, id int64) error {
	return translateMySQLError(m.db.WithContext(ctx).Delete(&model.SubmissionRecord{}, id).Error)
}

func (m *MySQLDatabase) CountSubmissionRecordsByStatus(ctx context.Context, status model.SubmissionStatus) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&model.SubmissionRecord{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// MediaAsset operations

func (m *MySQLDatabase) CreateMediaAsset(ctx context.Context, asset *model.MediaAsset) error {
	return translateMySQLError(m.db.WithContext(ctx).Create(asset).Error)
}

func (m *MySQLDatabase) GetMediaAssetByID(ctx context.Context, id int64) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if err != nil {
		return nil, translateMySQLError(err)
	}
	return &asset, nil
}

func (m *MySQLDatabase) UpdateMediaAsset(ctx context.Context, asset *model.MediaAsset) error {
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}
	result := m.db.WithContext(ctx).Model(&model.MediaAsset{}).
		Where("id = ?", asset.ID).
		Select("*").
		Omit("created_at").
		Updates(asset)
	return translateMySQLError(result.Error)
}

func (m *MySQLDatabase) DeleteMediaAsset(ctx context.Context, id int64) error {
	return translateMySQLError(m.db.WithContext(ctx).Delete(&model.MediaAsset{}, id).Error)
}

func (m *MySQLDatabase) LinkSubmission(ctx context.Context, recordID, assetID int64) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.SubmissionRecord{}).Where("id = ?", recordID).Update("asset_id", assetID).Error; err != nil {
			return fmt.Errorf("failed to set asset on record %d: %w", recordID, translateMySQLError(err))
		}
		if err := tx.Model(&model.MediaAsset{}).Where("id = ?", assetID).Update("record_id", recordID).Error; err != nil {
			return fmt.Errorf("failed to set parent on asset %d: %w", assetID, translateMySQLError(err))
		}
		return nil
	})
}

// Close closes the connection pool
func (m *MySQLDatabase) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
