package factory

import (
	"time"

	"github.com/mcoot/outlier/internal/dependencies/mocks"
	"github.com/mcoot/outlier/internal/services/category"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/storage/memory"
	"github.com/mcoot/outlier/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
	Memory     *memory.Storage
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	return NewTestAppWithGenerator(nil)
}

// NewTestAppWithGenerator is NewTestApp with a category generator wired in
func NewTestAppWithGenerator(generator category.Generator) *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(store, mockClock, mockRandom, generator, session.DefaultConfig(), testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Memory:     store,
	}
}
