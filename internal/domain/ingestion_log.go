package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures row level issues that occur while importing a file.
type IngestionLogEntry struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	MappingID      *uuid.UUID `json:"mapping_id,omitempty"`
	EntityType     string     `json:"entity_type"`
	FileName       string     `json:"file_name"`
	RowNumber      *int       `json:"row_number,omitempty"`
	ErrorMessage   string     `json:"error_message"`
	CreatedAt      time.Time  `json:"created_at"`
}
