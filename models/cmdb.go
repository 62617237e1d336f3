package models

// ConfigMetadata is configuration-management enrichment for a dashboard.
// It is attached to stored results when available and never required for evaluation.
type ConfigMetadata struct {
	ConfigurationItem string `json:"configuration_item" db:"configuration_item"`
	CommonName        string `json:"common_name" db:"common_name"`
	AppServiceOwner   string `json:"app_service_owner" db:"app_service_owner"`
	BusinessOwner     string `json:"business_owner" db:"business_owner"`
	SupportOwner      string `json:"support_owner" db:"support_owner"`
	OwnerDept         string `json:"owner_dept" db:"owner_dept"`
	LineOfBusiness    string `json:"line_of_business" db:"line_of_business"`
	Environment       string `json:"environment" db:"environment"`
}

// TableName returns the table name for the ConfigMetadata model
func (ConfigMetadata) TableName() string {
	return "cmdb"
}
