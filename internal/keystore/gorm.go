package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/gdg-garage/number-info-api/internal/models"
	"gorm.io/gorm"
)

// GormRepository stores keys in a SQL table through GORM. The database must
// be opened with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates the keys table and its indexes.
func (r *GormRepository) Migrate() error {
	return r.db.AutoMigrate(&models.AccessKey{})
}

func (r *GormRepository) Insert(ctx context.Context, key *models.AccessKey) error {
	err := r.db.WithContext(ctx).Create(key).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

func (r *GormRepository) FindByKey(ctx context.Context, key string) (*models.AccessKey, error) {
	var k models.AccessKey
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *GormRepository) ExpireIfActive(ctx context.Context, key string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.AccessKey{}).
		Where("key = ? AND active = ? AND expires_at <= ?", key, true, now).
		Update("active", false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) DeactivateByName(ctx context.Context, name string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AccessKey{}).
		Where("name = ? AND active = ?", name, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (r *GormRepository) DeleteByKey(ctx context.Context, key string) (int64, error) {
	res := r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.AccessKey{})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) DeleteByName(ctx context.Context, name string) (int64, error) {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&models.AccessKey{})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) List(ctx context.Context) ([]models.AccessKey, error) {
	var keys []models.AccessKey
	if err := r.db.WithContext(ctx).Order("created_at, key").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormRepository) Close(_ context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
