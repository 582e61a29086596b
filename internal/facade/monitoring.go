package facade

import (
	"context"
	"time"
)

// MonitoringStatus is Monitoring.status()'s response shape (spec §6.1).
type MonitoringStatus struct {
	Running                 bool
	LastPollTime             time.Time
	NextPollTime             time.Time
	QueriesDiscoveredLifetime int64
	ActiveConnections        int
}

// MonitoringStatus reports the discovery scheduler's current state.
func (f *Facade) MonitoringStatus() MonitoringStatus {
	return MonitoringStatus{
		Running:                   f.scheduler.Running(),
		LastPollTime:              f.scheduler.LastPollTime(),
		NextPollTime:              f.scheduler.NextPollTime(),
		QueriesDiscoveredLifetime: f.scheduler.QueriesDiscoveredLifetime(),
		ActiveConnections:         f.scheduler.ActiveConnections(),
	}
}

// StartMonitoring starts the discovery scheduler's cron-driven poll loop.
func (f *Facade) StartMonitoring(ctx context.Context) error {
	return f.scheduler.Start(ctx)
}

// StopMonitoring halts the discovery scheduler.
func (f *Facade) StopMonitoring() {
	f.scheduler.Stop()
}

// TriggerMonitoring runs one poll synchronously for connectionID, or for
// every monitoring-enabled connection when connectionID is nil (spec §6.1
// "Monitoring.trigger(connection_id?)").
func (f *Facade) TriggerMonitoring(ctx context.Context, connectionID *int64) error {
	if connectionID != nil {
		return f.scheduler.TriggerConnection(ctx, *connectionID)
	}
	return f.scheduler.TriggerAll(ctx)
}
