package repositories

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/models"
)

type ClauseRepository interface {
	ReplaceForSources(sources []string, clauses []models.Clause) error
	SearchByKeywords(keywords []string, limit int) ([]models.Clause, error)
	Count() (int64, error)
}

type clauseRepository struct {
	db *gorm.DB
}

func NewClauseRepository(db *gorm.DB) ClauseRepository {
	return &clauseRepository{db: db}
}

// ReplaceForSources drops all clauses previously indexed from the given
// source files and inserts the fresh batch, so reindexing a document never
// duplicates its clauses.
func (r *clauseRepository) ReplaceForSources(sources []string, clauses []models.Clause) error {
	if len(sources) == 0 {
		return fmt.Errorf("sources are required")
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_path IN ?", sources).Delete(&models.Clause{}).Error; err != nil {
			return fmt.Errorf("delete stale clauses: %w", err)
		}
		if len(clauses) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(clauses, 100).Error; err != nil {
			return fmt.Errorf("insert clauses: %w", err)
		}
		return nil
	})
}

// SearchByKeywords returns candidate clauses containing any of the keywords.
// Relevance ranking happens in the retriever service; this only narrows the
// candidate set.
func (r *clauseRepository) SearchByKeywords(keywords []string, limit int) ([]models.Clause, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.Model(&models.Clause{})
	if len(keywords) > 0 {
		cond := r.db.Where("text LIKE ?", "%"+keywords[0]+"%")
		for _, kw := range keywords[1:] {
			cond = cond.Or("text LIKE ?", "%"+kw+"%")
		}
		q = q.Where(cond)
	}
	var clauses []models.Clause
	if err := q.Limit(limit).Find(&clauses).Error; err != nil {
		return nil, err
	}
	return clauses, nil
}

func (r *clauseRepository) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&models.Clause{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
