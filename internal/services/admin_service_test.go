package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/services"
)

type mockAdminUserStore struct {
	total     int64
	active    int64
	suspended int64
	countErr  error
}

func (m *mockAdminUserStore) CountTotal(_ context.Context) (int64, error) {
	return m.total, m.countErr
}

func (m *mockAdminUserStore) CountByStatus(_ context.Context, _ string) (int64, error) {
	return m.active, m.countErr
}

func (m *mockAdminUserStore) CountCurrentlySuspended(_ context.Context, _ time.Time) (int64, error) {
	return m.suspended, m.countErr
}

type mockAdminEventStore struct {
	byType map[string][]*models.SecurityEvent
	today  map[string]int64
}

func (m *mockAdminEventStore) GetRecentByEventType(_ context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	events := m.byType[eventType]
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *mockAdminEventStore) CountTodayByEventType(_ context.Context, eventType string) (int64, error) {
	return m.today[eventType], nil
}

func TestAdminService_GetDashboardStats(t *testing.T) {
	users := &mockAdminUserStore{total: 120, active: 110, suspended: 4}
	events := &mockAdminEventStore{
		today: map[string]int64{
			models.SecurityEventSuspensionCreated: 2,
			models.SecurityEventLimitExceeded:     9,
			models.SecurityEventUnknownEmailProbe: 17,
		},
	}
	svc := services.NewAdminService(users, events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stats, err := svc.GetDashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.TotalUsers)
	assert.Equal(t, int64(110), stats.ActiveUsers)
	assert.Equal(t, int64(4), stats.SuspendedUsers)
	assert.Equal(t, int64(2), stats.SuspensionsToday)
	assert.Equal(t, int64(9), stats.LimitDenialsToday)
	assert.Equal(t, int64(17), stats.UnknownProbesToday)
}

func TestAdminService_GetDashboardStats_StoreFailure(t *testing.T) {
	users := &mockAdminUserStore{countErr: errors.New("connection refused")}
	events := &mockAdminEventStore{}
	svc := services.NewAdminService(users, events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.GetDashboardStats(context.Background())
	assert.Error(t, err)
}

func TestAdminService_GetRecentActivity(t *testing.T) {
	userID := "user-1"
	events := &mockAdminEventStore{
		byType: map[string][]*models.SecurityEvent{
			models.SecurityEventSuspensionCreated: {
				{
					ID:             "evt-1",
					UserID:         &userID,
					EventType:      models.SecurityEventSuspensionCreated,
					OperationClass: models.OpForgotPassword,
					Reason:         models.ReasonSuspended,
					IPAddress:      "203.0.113.7",
					CreatedAt:      time.Now(),
				},
			},
			models.SecurityEventUnknownEmailProbe: {
				{ID: "evt-2", EventType: models.SecurityEventUnknownEmailProbe, CreatedAt: time.Now()},
				{ID: "evt-3", EventType: models.SecurityEventUnknownEmailProbe, CreatedAt: time.Now()},
			},
		},
	}
	svc := services.NewAdminService(&mockAdminUserStore{}, events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	activity, err := svc.GetRecentActivity(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, activity.RecentSuspensions, 1)
	assert.Equal(t, "forgot_password", activity.RecentSuspensions[0].OperationClass)
	assert.Equal(t, &userID, activity.RecentSuspensions[0].UserID)
	assert.Len(t, activity.RecentProbes, 2)
	assert.Empty(t, activity.RecentLimitDenials)
}

func TestAdminService_GetRecentActivity_ClampsLimit(t *testing.T) {
	events := &mockAdminEventStore{
		byType: map[string][]*models.SecurityEvent{},
	}
	for i := 0; i < 30; i++ {
		events.byType[models.SecurityEventLimitExceeded] = append(
			events.byType[models.SecurityEventLimitExceeded],
			&models.SecurityEvent{EventType: models.SecurityEventLimitExceeded, CreatedAt: time.Now()},
		)
	}
	svc := services.NewAdminService(&mockAdminUserStore{}, events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	activity, err := svc.GetRecentActivity(context.Background(), 500)
	require.NoError(t, err)
	assert.Len(t, activity.RecentLimitDenials, 20)
}
