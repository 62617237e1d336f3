package models

import (
	"time"

	"github.com/google/uuid"
)

// DashboardType is the classification tag of a dashboard
type DashboardType string

const (
	DashboardTypeTeam      DashboardType = "Team"
	DashboardTypeProduct   DashboardType = "Product"
	DashboardTypeAggregate DashboardType = "Aggregate"
)

// Dashboard is a monitored unit for which audit results are tracked.
// Dashboards are owned by the catalog; the collector only reads them.
// ConfigurationItem names the business service used for CMDB lookups and
// ConfigurationItemComponent the business application.
type Dashboard struct {
	ID                         uuid.UUID     `json:"id" db:"id"`
	Title                      string        `json:"title" db:"title"`
	Type                       DashboardType `json:"type" db:"type"`
	ConfigurationItem          string        `json:"configuration_item" db:"configuration_item"`
	ConfigurationItemComponent string        `json:"configuration_item_component,omitempty" db:"configuration_item_component"`
	CreatedAt                  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt                  time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Dashboard model
func (Dashboard) TableName() string {
	return "dashboards"
}

// NewDashboard creates a new Dashboard instance
func NewDashboard(title string, dashboardType DashboardType, configurationItem string) *Dashboard {
	now := time.Now()
	return &Dashboard{
		ID:                uuid.New(),
		Title:             title,
		Type:              dashboardType,
		ConfigurationItem: configurationItem,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
