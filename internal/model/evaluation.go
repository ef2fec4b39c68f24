package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Evaluation is a named test definition: which pipeline to call, with what
// input, and how to judge the output. It may only change while no run
// references it; the submission path enforces that.
type Evaluation struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name             string          `gorm:"type:varchar(200);not null" json:"name"`
	Description      string          `gorm:"type:text" json:"description"`
	TargetPipelineID string          `gorm:"type:varchar(36);index" json:"targetPipelineId"`
	Input            string          `gorm:"type:longtext" json:"input"`
	SuccessCriteria  SuccessCriteria `gorm:"type:text" json:"successCriteria"`
}

func (e *Evaluation) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
