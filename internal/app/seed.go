package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// seedUsers гарантирует, что пользователи с id 1..count существуют.
// Управление пользователями вне сервиса, поэтому для локального запуска
// и нагрузочного теста профили создаются при старте.
func seedUsers(ctx context.Context, storage domain.Storage, count int, logger *log.Entry) error {
	if count <= 0 {
		return nil
	}
	created := 0
	err := storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		created = 0
		for id := int64(1); id <= int64(count); id++ {
			_, err := tx.Users.Get(ctx, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrUserNotFound) {
				return err
			}
			if _, err := tx.Users.Create(ctx, domain.User{
				Name:    fmt.Sprintf("user-%d", id),
				Phone:   fmt.Sprintf("+1000000%04d", id),
				Address: fmt.Sprintf("Seed street %d", id),
				Role:    domain.RoleUser,
			}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	if created > 0 {
		logger.WithField("users", created).Info("seeded users")
	}
	return nil
}
