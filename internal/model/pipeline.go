package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pipeline is an externally hosted HTTP endpoint under test.
type Pipeline struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string `gorm:"type:varchar(200);not null;index" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Endpoint    string `gorm:"type:varchar(2000);not null" json:"endpoint"`
}

func (p *Pipeline) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PipelineRun is the durable record of one successful pipeline invocation.
type PipelineRun struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PipelineID string    `gorm:"type:varchar(36);not null;index" json:"pipelineId"`
	Input      string    `gorm:"type:longtext" json:"input"`
	Output     string    `gorm:"type:longtext" json:"output"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (r *PipelineRun) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
