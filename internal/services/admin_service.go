package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/greenbasket/gatehouse/internal/models"
)

// AdminUserStore is the subset of account operations the dashboard needs
type AdminUserStore interface {
	CountTotal(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	CountCurrentlySuspended(ctx context.Context, now time.Time) (int64, error)
}

// AdminEventStore reads the security audit trail for the dashboard
type AdminEventStore interface {
	GetRecentByEventType(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error)
	CountTodayByEventType(ctx context.Context, eventType string) (int64, error)
}

// DashboardStatsResponse contains aggregate security metrics
type DashboardStatsResponse struct {
	TotalUsers          int64 `json:"total_users"`
	ActiveUsers         int64 `json:"active_users"`
	SuspendedUsers      int64 `json:"suspended_users"`
	SuspensionsToday    int64 `json:"suspensions_today"`
	LimitDenialsToday   int64 `json:"limit_denials_today"`
	UnknownProbesToday  int64 `json:"unknown_probes_today"`
	LoginsDeniedToday   int64 `json:"logins_denied_today"`
	CountersResetsToday int64 `json:"counter_resets_today"`
}

// ActivityEntry is one item in a recent-activity feed
type ActivityEntry struct {
	Timestamp      string  `json:"timestamp"`
	UserID         *string `json:"user_id,omitempty"`
	EventType      string  `json:"event_type"`
	OperationClass string  `json:"operation_class,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	IPAddress      string  `json:"ip_address,omitempty"`
}

// DashboardActivityResponse contains recent security event feeds
type DashboardActivityResponse struct {
	RecentSuspensions  []ActivityEntry `json:"recent_suspensions"`
	RecentLimitDenials []ActivityEntry `json:"recent_limit_denials"`
	RecentProbes       []ActivityEntry `json:"recent_probes"`
}

// AdminService aggregates data for the admin security dashboard
type AdminService struct {
	users  AdminUserStore
	events AdminEventStore
	logger *slog.Logger
	now    func() time.Time
}

func NewAdminService(users AdminUserStore, events AdminEventStore, log *slog.Logger) *AdminService {
	return &AdminService{
		users:  users,
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// GetDashboardStats returns aggregate account and abuse counts
func (s *AdminService) GetDashboardStats(ctx context.Context) (*DashboardStatsResponse, error) {
	total, err := s.users.CountTotal(ctx)
	if err != nil {
		s.logger.Error("dashboard: failed to count users", slog.Any("error", err))
		return nil, err
	}

	active, err := s.users.CountByStatus(ctx, models.StatusActive)
	if err != nil {
		s.logger.Error("dashboard: failed to count active users", slog.Any("error", err))
		return nil, err
	}

	suspended, err := s.users.CountCurrentlySuspended(ctx, s.now())
	if err != nil {
		s.logger.Error("dashboard: failed to count suspended users", slog.Any("error", err))
		return nil, err
	}

	stats := &DashboardStatsResponse{
		TotalUsers:     total,
		ActiveUsers:    active,
		SuspendedUsers: suspended,
	}

	counters := []struct {
		eventType string
		dest      *int64
	}{
		{models.SecurityEventSuspensionCreated, &stats.SuspensionsToday},
		{models.SecurityEventLimitExceeded, &stats.LimitDenialsToday},
		{models.SecurityEventUnknownEmailProbe, &stats.UnknownProbesToday},
		{models.SecurityEventLoginDenied, &stats.LoginsDeniedToday},
		{models.SecurityEventCountersReset, &stats.CountersResetsToday},
	}
	for _, c := range counters {
		count, err := s.events.CountTodayByEventType(ctx, c.eventType)
		if err != nil {
			s.logger.Error("dashboard: failed to count events",
				slog.String("event_type", c.eventType),
				slog.Any("error", err))
			return nil, err
		}
		*c.dest = count
	}

	return stats, nil
}

// GetRecentActivity returns recent abuse event feeds. limit is clamped to 20.
func (s *AdminService) GetRecentActivity(ctx context.Context, limit int) (*DashboardActivityResponse, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	suspensions, err := s.fetchFeed(ctx, models.SecurityEventSuspensionCreated, limit)
	if err != nil {
		return nil, err
	}

	denials, err := s.fetchFeed(ctx, models.SecurityEventLimitExceeded, limit)
	if err != nil {
		return nil, err
	}

	probes, err := s.fetchFeed(ctx, models.SecurityEventUnknownEmailProbe, limit)
	if err != nil {
		return nil, err
	}

	return &DashboardActivityResponse{
		RecentSuspensions:  suspensions,
		RecentLimitDenials: denials,
		RecentProbes:       probes,
	}, nil
}

func (s *AdminService) fetchFeed(ctx context.Context, eventType string, limit int) ([]ActivityEntry, error) {
	events, err := s.events.GetRecentByEventType(ctx, eventType, limit)
	if err != nil {
		s.logger.Error("dashboard: failed to fetch events",
			slog.String("event_type", eventType),
			slog.Any("error", err))
		return nil, err
	}

	entries := make([]ActivityEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, ActivityEntry{
			Timestamp:      e.CreatedAt.UTC().Format(time.RFC3339),
			UserID:         e.UserID,
			EventType:      e.EventType,
			OperationClass: string(e.OperationClass),
			Reason:         e.Reason,
			IPAddress:      e.IPAddress,
		})
	}
	return entries, nil
}
