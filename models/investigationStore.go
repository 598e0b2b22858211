package models

import (
	"context"
	"errors"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// InvestigationChange is everything one operation persists besides the
// investigation row itself.
type InvestigationChange struct {
	Fields  []*ComparisonField
	History []FieldHistory
	Events  []InvestigationEvent
}

// GormInvestigationStore persists investigations with an optimistic version
// check. Each Save is one transaction. A nil db uses config.GetDB().
type GormInvestigationStore struct {
	db *gorm.DB
}

func NewGormInvestigationStore(db *gorm.DB) *GormInvestigationStore {
	return &GormInvestigationStore{db: db}
}

func (s *GormInvestigationStore) conn(ctx context.Context) *gorm.DB {
	db := s.db
	if db == nil {
		db = config.GetDB()
	}
	return db.WithContext(ctx)
}

func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func preloadInvestigation(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Sections", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC, id ASC")
		}).
		Preload("Sections.Fields", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		})
}

func (s *GormInvestigationStore) Create(ctx context.Context, inv *ComparisonInvestigation, history []FieldHistory) error {
	inv.OpenApplicationId = inv.openApplicationKey()
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sections").Create(inv).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrOpenInvestigationExists
			}
			return err
		}
		for _, section := range inv.Sections {
			section.InvestigationId = inv.ID
			if err := tx.Omit("Fields").Create(section).Error; err != nil {
				return err
			}
			if len(section.Fields) == 0 {
				continue
			}
			for _, f := range section.Fields {
				f.InvestigationId = inv.ID
				f.SectionId = section.ID
			}
			if err := tx.Create(&section.Fields).Error; err != nil {
				return err
			}
		}
		for i := range history {
			history[i].InvestigationId = inv.ID
		}
		if len(history) > 0 {
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormInvestigationStore) Get(ctx context.Context, id int) (*ComparisonInvestigation, error) {
	var inv ComparisonInvestigation
	err := preloadInvestigation(s.conn(ctx)).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.Recompute()
	return &inv, nil
}

// GetMany returns the investigations found among ids, in no particular order.
func (s *GormInvestigationStore) GetMany(ctx context.Context, ids []int) ([]*ComparisonInvestigation, error) {
	var list []*ComparisonInvestigation
	if len(ids) == 0 {
		return list, nil
	}
	if err := preloadInvestigation(s.conn(ctx)).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, inv := range list {
		inv.Recompute()
	}
	return list, nil
}

func (s *GormInvestigationStore) FindOpenByApplication(ctx context.Context, applicationId string) (*ComparisonInvestigation, error) {
	var inv ComparisonInvestigation
	err := s.conn(ctx).
		Where("application_id = ? AND lifecycle_state = ?", applicationId, LifecycleStateOpen).
		Order("id DESC").
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Save writes the investigation row guarded by its version, then the changed
// fields, audit rows and outbox events. ErrConcurrentModification means
// another writer saved first (or the row is no longer open).
func (s *GormInvestigationStore) Save(ctx context.Context, inv *ComparisonInvestigation, change InvestigationChange) error {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ComparisonInvestigation{}).
			Where("id = ? AND version = ?", inv.ID, inv.Version).
			Updates(map[string]interface{}{
				"version":             inv.Version + 1,
				"lifecycle_state":     inv.State,
				"open_application_id": inv.openApplicationKey(),
				"general_comment":     inv.GeneralComment,
				"completed_at":        inv.CompletedAt,
				"cancelled_at":        inv.CancelledAt,
				"cancel_reason":       inv.CancelReason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentModification
		}

		for _, f := range change.Fields {
			if err := tx.Model(&ComparisonField{}).
				Where("id = ? AND investigation_id = ?", f.ID, inv.ID).
				Select("observed_value", "delta", "severity", "status", "comment", "evidence", "block_reason", "captured_at").
				Updates(f).Error; err != nil {
				return err
			}
		}
		if len(change.History) > 0 {
			if err := tx.Create(&change.History).Error; err != nil {
				return err
			}
		}
		for i := range change.Events {
			// the event key is unique, a replayed terminal transition enqueues nothing new
			if err := tx.Create(&change.Events[i]).Error; err != nil && !IsDuplicateKeyErr(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	inv.Version++
	return nil
}

func (s *GormInvestigationStore) ListHistory(ctx context.Context, investigationId int) ([]FieldHistory, error) {
	var rows []FieldHistory
	err := s.conn(ctx).
		Where("investigation_id = ?", investigationId).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
