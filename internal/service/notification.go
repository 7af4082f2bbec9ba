package service

import (
	"context"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

// notificationsDefaultLimit ограничивает размер одной выборки уведомлений.
const notificationsDefaultLimit = 100

// Notifications возвращает уведомления с идентификатором больше afterID —
// выборка по курсору last-seen вместо периодического полного перечитывания
// админских списков.
func (s *Service) Notifications(ctx context.Context, caller model.Caller, afterID int64, limit int) ([]model.Notification, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > notificationsDefaultLimit {
		limit = notificationsDefaultLimit
	}
	return s.store.GetNotificationsAfter(ctx, afterID, limit)
}
