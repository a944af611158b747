//go:build integration

package pg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"idcheck.org/internal/testutil/containers"
	"idcheck.org/internal/validationlog"
	"idcheck.org/internal/validationlog/storetest"
)

func TestStoreAgainstPostgres(t *testing.T) {
	pc := containers.NewPostgresContainer(t)

	storetest.Run(t, func(t *testing.T, opts ...validationlog.Option) validationlog.Store {
		require.NoError(t, pc.TruncateTables(context.Background(), table))
		return New(pc.DB, opts...)
	}, true)
}

func TestPingAgainstPostgres(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	s := New(pc.DB)
	require.NoError(t, s.Ping(context.Background()))
}
