package repo_test

import (
	"testing"

	"github.com/probeworks/probemeter/internal/repo"
	"github.com/probeworks/probemeter/internal/repo/memory"
	pg "github.com/probeworks/probemeter/internal/repo/postgres"
	"github.com/probeworks/probemeter/internal/repo/sqlite"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	var _ repo.Store = memory.New()

	var _ repo.Store = (*sqlite.Store)(nil)
	var _ repo.Store = (*pg.Store)(nil)
}
