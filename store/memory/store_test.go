package memory_test

import (
	"testing"
	"time"

	"github.com/xraph/mediaflow/store"
	"github.com/xraph/mediaflow/store/memory"
	"github.com/xraph/mediaflow/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestClaimOrdering(t *testing.T) {
	storetest.RunClocked(t, func(_ *testing.T, now func() time.Time) store.Store {
		return memory.New(memory.WithClock(now))
	})
}
