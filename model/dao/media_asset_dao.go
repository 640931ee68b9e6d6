package dao

import (
	"context"
	"errors"

	"starmus-recorder/database"
	"starmus-recorder/model"
)

// MediaAssetDAO media asset data access object
type MediaAssetDAO struct {
	db database.Database
}

// NewMediaAssetDAO create media asset DAO instance
func NewMediaAssetDAO(db database.Database) *MediaAssetDAO {
	return &MediaAssetDAO{db: db}
}

// Create create media asset row
func (dao *MediaAssetDAO) Create(ctx context.Context, asset *model.MediaAsset) error {
	return dao.db.CreateMediaAsset(ctx, asset)
}

// GetByID get asset by id, nil when absent
func (dao *MediaAssetDAO) GetByID(ctx context.Context, id int64) (*model.MediaAsset, error) {
	asset, err := dao.db.GetMediaAssetByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return asset, err
}

// MergeMeta merges metadata into the asset
func (dao *MediaAssetDAO) MergeMeta(ctx context.Context, id int64, meta map[string]string) error {
	asset, err := dao.db.GetMediaAssetByID(ctx, id)
	if err != nil {
		return err
	}
	asset.Meta = mergeMeta(asset.Meta, meta)
	return dao.db.UpdateMediaAsset(ctx, asset)
}

// Delete deletes an asset row
func (dao *MediaAssetDAO) Delete(ctx context.Context, id int64) error {
	return dao.db.DeleteMediaAsset(ctx, id)
}
