package adapthttp

import (
	"log"
	"net/http"
	"os"

	"fitledger/internal/adapter/wsensor"
	"fitledger/internal/app"
	"fitledger/internal/domain"
)

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	ledgers    *app.LedgerRegistry
	charts     *app.ChartsService
	authSvc    *app.AuthService
	hub        *wsensor.Hub
	goals      domain.Goals
	oidcConfig OIDCConfig
	logger     *log.Logger

	disableAuth bool
	devUser     *domain.User
}

// New creates a Server wired to the given application services.
func New(ledgers *app.LedgerRegistry, charts *app.ChartsService, authSvc *app.AuthService, hub *wsensor.Hub, goals domain.Goals) *Server {
	return &Server{
		ledgers: ledgers,
		charts:  charts,
		authSvc: authSvc,
		hub:     hub,
		goals:   goals,
		logger:  log.New(os.Stderr, "[http] ", log.LstdFlags),
	}
}

// WithOIDC enables SSO login.
func (s *Server) WithOIDC(cfg OIDCConfig) *Server {
	s.oidcConfig = cfg
	return s
}

// WithLogger replaces the request logger.
func (s *Server) WithLogger(l *log.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithoutAuth disables authentication and serves every request as userID.
// Used by tests and the single-user dev mode.
func (s *Server) WithoutAuth(userID string) *Server {
	s.disableAuth = true
	s.devUser = &domain.User{ID: userID, Username: userID}
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	api.HandleFunc("/auth/login", s.handleLogin)
	api.HandleFunc("/auth/logout", s.handleLogout)
	api.HandleFunc("/auth/setup", s.handleSetupUser)
	api.HandleFunc("/auth/config", s.handleConfig)
	api.HandleFunc("/auth/sso/login", s.handleSSOLogin)
	api.HandleFunc("/auth/sso/callback", s.handleSSOCallback)

	protected := http.NewServeMux()
	protected.HandleFunc("/ledger/today", s.handleLedgerToday)
	protected.HandleFunc("/ledger/progress", s.handleProgress)
	protected.HandleFunc("/ledger/steps", s.handleSteps)
	protected.HandleFunc("/ledger/water", s.handleWater)
	protected.HandleFunc("/ledger/sleep", s.handleSleep)
	protected.HandleFunc("/ledger/meals", s.handleAddMeal)
	protected.HandleFunc("/ledger/meals/update", s.handleUpdateMeal)
	protected.HandleFunc("/ledger/meals/remove", s.handleRemoveMeal)
	protected.HandleFunc("/ledger/meals/repeat", s.handleRepeatMeals)
	protected.HandleFunc("/ledger/workouts", s.handleAddWorkout)
	protected.HandleFunc("/ledger/workouts/session", s.handleWorkoutSession)
	protected.HandleFunc("/ledger/workouts/remove", s.handleRemoveWorkout)
	protected.HandleFunc("/lastlift", s.handleLastLift)
	protected.HandleFunc("/charts/daily", s.handleChartsDaily)
	protected.HandleFunc("/sensor/stream", s.handleSensorStream)

	authed := s.authMiddleware(protected)
	for _, p := range []string{"/ledger/", "/lastlift", "/charts/", "/sensor/"} {
		api.Handle(p, authed)
	}

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	return s.loggingMiddleware(withNoCache(root))
}
