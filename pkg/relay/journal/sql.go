package journal

import (
	"context"

	"github.com/joripage/order-relay/pkg/relay/model"
	"gorm.io/gorm"
)

// SQLJournal mirrors records into the trade_records table.
type SQLJournal struct {
	db *gorm.DB
}

func NewSQLJournal(db *gorm.DB) *SQLJournal {
	return &SQLJournal{
		db: db,
	}
}

func (s *SQLJournal) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *SQLJournal) Name() string {
	return "postgres"
}

func (s *SQLJournal) Append(ctx context.Context, record model.TradeRecord) error {
	return s.dbWithContext(ctx).Create(&record).Error
}

// Recent returns up to limit records, newest first.
func (s *SQLJournal) Recent(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	err := s.dbWithContext(ctx).Order("recorded_at desc").Limit(limit).Find(&records).Error
	return records, err
}

func (s *SQLJournal) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
