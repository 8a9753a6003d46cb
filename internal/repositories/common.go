package repositories

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/docflow/internal/domain"
)

// HealthStatus хранит текущее состояние подключения к базе.
// Используется для health-check'ов.
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int
}

// prepareNewDocument заполняет ID и временные метки и проверяет начальный статус.
func prepareNewDocument(doc *domain.Document, now time.Time) error {
	if doc == nil {
		return fmt.Errorf("документ nil")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = domain.StatusUploaded
	}
	if doc.Status != domain.StatusUploaded {
		return fmt.Errorf("новый документ в статусе %s: %w", doc.Status, domain.ErrInvalidTransition)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
	doc.TextContent = nil
	doc.Error = nil
	return nil
}

func normalizePagination(params domain.PaginationParams) domain.PaginationParams {
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	return params
}
