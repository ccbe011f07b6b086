package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/storage/memory"
)

func TestSeedUsers_CreatesMissingProfilesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	logger := log.WithField("component", "seed-test")

	require.NoError(t, seedUsers(ctx, store, 3, logger))
	require.NoError(t, seedUsers(ctx, store, 3, logger))

	users := store.Repositories().Users
	for id := int64(1); id <= 3; id++ {
		user, err := users.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.RoleUser, user.Role)
		require.NotEmpty(t, user.Address)
	}
	_, err := users.Get(ctx, 4)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSeedUsers_ZeroIsNoop(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, seedUsers(context.Background(), store, 0, log.WithField("component", "seed-test")))

	_, err := store.Repositories().Users.Get(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}
