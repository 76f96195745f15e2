//go:build integration

package pgstore

import (
	"context"
	"os"
	"testing"

	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/store/storetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Run with: ACCOUNTGUARD_TEST_DATABASE_URL=postgres://... go test -tags integration ./store/pgstore
func TestBackendConformance(t *testing.T) {
	dsn := os.Getenv("ACCOUNTGUARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ACCOUNTGUARD_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) accountguard.Backend {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(s.Close)

		m, err := s.NewMigrator(zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, m.Down())
		require.NoError(t, m.Up())
		require.NoError(t, m.Close())
		return s
	})
}
