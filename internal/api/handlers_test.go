package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/conflict"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// MockPackageManager is a mock implementation of PackageManager
type MockPackageManager struct {
	mock.Mock
}

func (m *MockPackageManager) List(ctx context.Context) ([]domain.PackageInfo, error) {
	args := m.Called(ctx)
	packages, _ := args.Get(0).([]domain.PackageInfo)
	return packages, args.Error(1)
}

func (m *MockPackageManager) Info(ctx context.Context, name string) (domain.PackageInfo, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.PackageInfo), args.Error(1)
}

func (m *MockPackageManager) Integrity(ctx context.Context, name string) (domain.IntegrityReport, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.IntegrityReport), args.Error(1)
}

func (m *MockPackageManager) RecordManifest(ctx context.Context, name string) (*domain.Manifest, error) {
	args := m.Called(ctx, name)
	manifest, _ := args.Get(0).(*domain.Manifest)
	return manifest, args.Error(1)
}

func (m *MockPackageManager) SetFlags(ctx context.Context, name string, favorite, ignored *bool) (domain.PackageState, error) {
	args := m.Called(ctx, name, favorite, ignored)
	return args.Get(0).(domain.PackageState), args.Error(1)
}

func (m *MockPackageManager) Enable(ctx context.Context, name string, decider domain.DecisionProvider) (domain.EnableOutcome, error) {
	args := m.Called(ctx, name, decider)
	return args.Get(0).(domain.EnableOutcome), args.Error(1)
}

func (m *MockPackageManager) Disable(ctx context.Context, name string) (domain.ApplyResult, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.ApplyResult), args.Error(1)
}

func (m *MockPackageManager) EnableAll(ctx context.Context, decider domain.DecisionProvider) ([]domain.EnableOutcome, error) {
	args := m.Called(ctx, decider)
	outcomes, _ := args.Get(0).([]domain.EnableOutcome)
	return outcomes, args.Error(1)
}

func (m *MockPackageManager) DisableAll(ctx context.Context) ([]domain.ApplyResult, error) {
	args := m.Called(ctx)
	results, _ := args.Get(0).([]domain.ApplyResult)
	return results, args.Error(1)
}

func (m *MockPackageManager) Uninstall(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockPackageManager) ValidateBatch(ctx context.Context, names []string) ([]domain.PathConflict, error) {
	args := m.Called(ctx, names)
	conflicts, _ := args.Get(0).([]domain.PathConflict)
	return conflicts, args.Error(1)
}

func (m *MockPackageManager) Conflicts(ctx context.Context, name string) (domain.ConflictReport, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.ConflictReport), args.Error(1)
}

func (m *MockPackageManager) Owner(ctx context.Context, rel string) (string, bool, error) {
	args := m.Called(ctx, rel)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPackageManager) Strategy() domain.Strategy {
	args := m.Called()
	return args.Get(0).(domain.Strategy)
}

func (m *MockPackageManager) SetStrategy(ctx context.Context, strategy domain.Strategy) (domain.ConversionResult, error) {
	args := m.Called(ctx, strategy)
	return args.Get(0).(domain.ConversionResult), args.Error(1)
}

// MockHealthChecker is a mock implementation of HealthChecker
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) CheckHealth(ctx context.Context) domain.SystemHealth {
	args := m.Called(ctx)
	return args.Get(0).(domain.SystemHealth)
}

func (m *MockHealthChecker) CheckComponent(ctx context.Context, component string) domain.HealthStatus {
	args := m.Called(ctx, component)
	return args.Get(0).(domain.HealthStatus)
}

func newTestPriorities(t *testing.T) *conflict.PriorityStore {
	t.Helper()
	store := conflict.NewPriorityStore(filepath.Join(t.TempDir(), "priorities.json"))
	require.NoError(t, store.Load(context.Background()))
	return store
}

func newTestApp(t *testing.T, pm *MockPackageManager) *fiber.App {
	t.Helper()
	result := SetupRouterWithDeps(RouterDependencies{
		Manager:       pm,
		Priorities:    newTestPriorities(t),
		HealthChecker: new(MockHealthChecker),
	}, RouterConfig{BodyLimit: 1 << 20})
	t.Cleanup(result.Cleanup)
	return result.App
}

func do(t *testing.T, app *fiber.App, method, target string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		status string
		code   int
	}{
		{"healthy", domain.HealthStatusHealthy, 200},
		{"degraded", domain.HealthStatusDegraded, 503},
		{"unhealthy", domain.HealthStatusUnhealthy, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := new(MockHealthChecker)
			checker.On("CheckHealth", mock.Anything).Return(domain.SystemHealth{
				Status: tt.status,
				Components: map[string]domain.HealthStatus{
					"target": {Status: tt.status, Timestamp: time.Now()},
				},
				Timestamp: time.Now(),
			})

			handlers := NewHandlers(new(MockPackageManager), newTestPriorities(t), nil, checker)
			app := fiber.New()
			app.Get("/health", handlers.HealthHandler)

			resp, body := do(t, app, "GET", "/health", nil)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.status, body["status"])
			assert.Contains(t, body, "timestamp")
			checker.AssertExpectations(t)
		})
	}
}

func TestListPackagesHandler(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("List", mock.Anything).Return([]domain.PackageInfo{
		{Name: "alpha", Folder: "alpha", State: domain.PackageState{Enabled: true}},
		{Name: "beta", Folder: "beta"},
	}, nil)
	app := newTestApp(t, pm)

	resp, body := do(t, app, "GET", "/v1/packages", nil)
	require.Equal(t, 200, resp.StatusCode)

	data := body["data"].(map[string]any)
	assert.Equal(t, float64(2), data["count"])
	assert.Equal(t, float64(1), data["enabled"])
	pm.AssertExpectations(t)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		want string
	}{
		{"not found", domain.NewAppError(domain.ErrNotFound, "package not found", 404, nil), 404, domain.ErrNotFound},
		{"target unavailable", domain.NewAppError(domain.ErrTargetUnavailable, "target directory is not set", 412, nil), 412, domain.ErrTargetUnavailable},
		{"wrapped app error", errors.Join(errors.New("walk"), domain.NewAppError(domain.ErrIOFailure, "read failed", 500, nil)), 500, domain.ErrIOFailure},
		{"cancelled", context.Canceled, 408, domain.ErrTimeout},
		{"plain error", errors.New("boom"), 500, domain.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := new(MockPackageManager)
			pm.On("Disable", mock.Anything, "alpha").Return(domain.ApplyResult{}, tt.err)
			app := newTestApp(t, pm)

			resp, body := do(t, app, "POST", "/v1/packages/alpha/disable", nil)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.want, body["code"])
		})
	}
}

func TestDisableHandler_ElevationRequired(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("Disable", mock.Anything, "alpha").Return(domain.ApplyResult{
		Package:           "alpha",
		Outcome:           domain.OutcomeFailed,
		Failed:            1,
		PrivilegeFailures: 1,
		ElevationRequired: true,
	}, nil)
	app := newTestApp(t, pm)

	resp, body := do(t, app, "POST", "/v1/packages/alpha/disable", nil)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, domain.ErrPrivilegeDenied, body["code"])
	pm.AssertExpectations(t)
}

func TestPackageNameIsUnescaped(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("Conflicts", mock.Anything, "HD Textures").Return(domain.ConflictReport{Candidate: "HD Textures"}, nil)
	app := newTestApp(t, pm)

	resp, _ := do(t, app, "GET", "/v1/conflicts/HD%20Textures", nil)
	assert.Equal(t, 200, resp.StatusCode)
	pm.AssertExpectations(t)
}

func TestEnableHandler(t *testing.T) {
	t.Run("unanswered question is a conflict", func(t *testing.T) {
		pm := new(MockPackageManager)
		pm.On("Enable", mock.Anything, "beta", mock.Anything).Return(
			domain.EnableOutcome{Package: "beta", State: domain.StateCancelled},
			domain.NewAppError(domain.ErrConflictDetected, "retry with on_conflict", 409, nil),
		)
		app := newTestApp(t, pm)

		resp, body := do(t, app, "POST", "/v1/packages/beta/enable", nil)
		assert.Equal(t, 409, resp.StatusCode)
		assert.Equal(t, domain.ErrConflictDetected, body["code"])
	})

	t.Run("body decisions reach the manager", func(t *testing.T) {
		pm := new(MockPackageManager)
		pm.On("Enable", mock.Anything, "beta", requestDecider{req: EnableRequest{OnConflict: "override"}}).Return(
			domain.EnableOutcome{Package: "beta", State: domain.StateDeployed}, nil)
		app := newTestApp(t, pm)

		resp, body := do(t, app, "POST", "/v1/packages/beta/enable", map[string]any{"on_conflict": "override"})
		assert.Equal(t, 200, resp.StatusCode)
		data := body["data"].(map[string]any)
		assert.Equal(t, "deployed", data["state"])
		pm.AssertExpectations(t)
	})

	t.Run("elevation required", func(t *testing.T) {
		pm := new(MockPackageManager)
		pm.On("Enable", mock.Anything, "beta", mock.Anything).Return(domain.EnableOutcome{
			Package: "beta",
			State:   domain.StateFailed,
			Result:  &domain.ApplyResult{ElevationRequired: true, PrivilegeFailures: 2},
		}, nil)
		app := newTestApp(t, pm)

		resp, body := do(t, app, "POST", "/v1/packages/beta/enable", nil)
		assert.Equal(t, 403, resp.StatusCode)
		assert.Equal(t, domain.ErrPrivilegeDenied, body["code"])
	})

	t.Run("unknown decision is rejected", func(t *testing.T) {
		pm := new(MockPackageManager)
		app := newTestApp(t, pm)

		resp, body := do(t, app, "POST", "/v1/packages/beta/enable", map[string]any{"on_conflict": "maybe"})
		assert.Equal(t, 422, resp.StatusCode)
		assert.Equal(t, domain.ErrValidationFailed, body["code"])
		pm.AssertNotCalled(t, "Enable", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		app := newTestApp(t, new(MockPackageManager))

		req := httptest.NewRequest("POST", "/v1/packages/beta/enable", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}

func TestRequestDecider(t *testing.T) {
	ctx := context.Background()

	t.Run("empty request asks for every answer", func(t *testing.T) {
		d := requestDecider{}

		_, err := d.ResolveIntegrity(ctx, domain.IntegrityReport{Package: "alpha"})
		var appErr *domain.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, domain.ErrIntegrityMismatch, appErr.Code)

		_, err = d.ResolveConflict(ctx, domain.ConflictReport{Candidate: "alpha"}, domain.StrategyCopy)
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, 409, appErr.StatusCode)
		details := appErr.Details.(map[string]any)
		assert.Equal(t, []domain.ConflictDecision{domain.ConflictCancel, domain.ConflictOverride}, details["choices"])

		_, err = d.ResolveConflict(ctx, domain.ConflictReport{Candidate: "alpha"}, domain.StrategyLink)
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Details.(map[string]any)["choices"], domain.ConflictManual)

		_, err = d.ArrangePriority(ctx, "alpha", []string{"beta"}, domain.PriorityOrder{"alpha", "beta"}, false)
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, domain.PriorityOrder{"alpha", "beta"}, appErr.Details.(map[string]any)["suggested"])
	})

	t.Run("answers are passed through", func(t *testing.T) {
		d := requestDecider{req: EnableRequest{
			OnIntegrity: "save-and-enable",
			OnConflict:  "manual",
			Priority:    []string{"beta", "alpha"},
		}}

		integrity, err := d.ResolveIntegrity(ctx, domain.IntegrityReport{})
		require.NoError(t, err)
		assert.Equal(t, domain.IntegritySaveAndEnable, integrity)

		decision, err := d.ResolveConflict(ctx, domain.ConflictReport{}, domain.StrategyLink)
		require.NoError(t, err)
		assert.Equal(t, domain.ConflictManual, decision)

		order, err := d.ArrangePriority(ctx, "alpha", []string{"beta"}, nil, false)
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityOrder{"beta", "alpha"}, order)
	})
}

func TestFixedRoutesBeforeName(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("DisableAll", mock.Anything).Return([]domain.ApplyResult{{Package: "alpha", OK: true}}, nil)
	pm.On("EnableAll", mock.Anything, mock.Anything).Return([]domain.EnableOutcome{
		{Package: "alpha", State: domain.StateDeployed},
		{Package: "beta", State: domain.StateCancelled},
	}, nil)
	app := newTestApp(t, pm)

	resp, body := do(t, app, "POST", "/v1/packages/disable-all", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["count"])

	resp, body = do(t, app, "POST", "/v1/packages/enable-all", nil)
	assert.Equal(t, 200, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(2), data["count"])
	assert.Equal(t, float64(1), data["enabled"])
	pm.AssertExpectations(t)
}

func TestUpdateFlagsHandler(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("SetFlags", mock.Anything, "alpha", mock.MatchedBy(func(b *bool) bool { return b != nil && *b }), (*bool)(nil)).
		Return(domain.PackageState{Favorite: true}, nil)
	app := newTestApp(t, pm)

	resp, _ := do(t, app, "PATCH", "/v1/packages/alpha/state", map[string]any{})
	assert.Equal(t, 422, resp.StatusCode)

	resp, body := do(t, app, "PATCH", "/v1/packages/alpha/state", map[string]any{"favorite": true})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["favorite"])
	pm.AssertExpectations(t)
}

func TestCheckBatchHandler(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("ValidateBatch", mock.Anything, []string{"alpha", "beta"}).Return(nil, nil)
	app := newTestApp(t, pm)

	resp, _ := do(t, app, "POST", "/v1/conflicts/check", BatchRequest{Packages: []string{"alpha"}})
	assert.Equal(t, 422, resp.StatusCode)

	resp, body := do(t, app, "POST", "/v1/conflicts/check", BatchRequest{Packages: []string{"alpha", "beta"}})
	assert.Equal(t, 200, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["has_conflict"])
	assert.Equal(t, []any{}, data["conflicts"])
}

func TestPriorityHandlers(t *testing.T) {
	app := newTestApp(t, new(MockPackageManager))

	resp, body := do(t, app, "PUT", "/v1/priorities", PriorityRequest{Order: []string{"beta", "alpha"}})
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "alpha,beta", body["data"].(map[string]any)["key"])

	resp, body = do(t, app, "GET", "/v1/priorities", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["count"])

	resp, _ = do(t, app, "PUT", "/v1/priorities", PriorityRequest{Order: []string{"a,b", "c"}})
	assert.Equal(t, 422, resp.StatusCode)

	resp, _ = do(t, app, "DELETE", "/v1/priorities/alpha%2Cbeta", nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp, body = do(t, app, "DELETE", "/v1/priorities/alpha%2Cbeta", nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, domain.ErrNotFound, body["code"])
}

func TestStrategyHandlers(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("Strategy").Return(domain.StrategyLink).Once()
	pm.On("SetStrategy", mock.Anything, domain.StrategyCopy).Return(domain.ConversionResult{Converted: 3}, nil)
	pm.On("Strategy").Return(domain.StrategyCopy)
	app := newTestApp(t, pm)

	resp, body := do(t, app, "GET", "/v1/strategy", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "link", body["data"].(map[string]any)["strategy"])

	resp, _ = do(t, app, "PUT", "/v1/strategy", StrategyRequest{Strategy: "hardlink"})
	assert.Equal(t, 422, resp.StatusCode)

	resp, body = do(t, app, "PUT", "/v1/strategy", StrategyRequest{Strategy: " Copy "})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "copy", body["data"].(map[string]any)["strategy"])
	pm.AssertExpectations(t)
}

func TestOwnerHandler(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("Owner", mock.Anything, "data/shared.txt").Return("beta", true, nil)
	app := newTestApp(t, pm)

	resp, _ := do(t, app, "GET", "/v1/target/owner", nil)
	assert.Equal(t, 400, resp.StatusCode)

	resp, body := do(t, app, "GET", "/v1/target/owner?path=data/shared.txt", nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "beta", body["data"].(map[string]any)["owner"])
}

func TestUsageHandler_Disabled(t *testing.T) {
	app := newTestApp(t, new(MockPackageManager))

	resp, body := do(t, app, "GET", "/v1/usage", nil)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, domain.ErrStorage, body["code"])
}

func TestUnknownRoute(t *testing.T) {
	app := newTestApp(t, new(MockPackageManager))

	resp, body := do(t, app, "GET", "/v1/nothing-here", nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, domain.ErrNotFound, body["code"])
}

func TestSecurityHeaders(t *testing.T) {
	pm := new(MockPackageManager)
	pm.On("Strategy").Return(domain.StrategyCopy)
	app := newTestApp(t, pm)

	resp, _ := do(t, app, "GET", "/v1/strategy", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
