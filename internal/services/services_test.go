package services

import (
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/models"
)

type clauseRepositoryMock struct {
	ReplaceForSourcesFunc func(sources []string, clauses []models.Clause) error
	SearchByKeywordsFunc  func(keywords []string, limit int) ([]models.Clause, error)
	CountFunc             func() (int64, error)
}

func (m *clauseRepositoryMock) ReplaceForSources(sources []string, clauses []models.Clause) error {
	return m.ReplaceForSourcesFunc(sources, clauses)
}

func (m *clauseRepositoryMock) SearchByKeywords(keywords []string, limit int) ([]models.Clause, error) {
	return m.SearchByKeywordsFunc(keywords, limit)
}

func (m *clauseRepositoryMock) Count() (int64, error) {
	return m.CountFunc()
}
