package model

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Backend       string
	Status        ServiceStatus
	Timestamp     int64
	PendingWrites int
}

// ServiceStatus defines the operational status of the service
type ServiceStatus string

const (
	ServiceStatusHealthy   ServiceStatus = "healthy"
	ServiceStatusDegraded  ServiceStatus = "degraded"
	ServiceStatusUnhealthy ServiceStatus = "unhealthy"
)
