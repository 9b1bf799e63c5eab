package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"poselink/internal/auth"
	"poselink/internal/constants"
	"poselink/internal/gateway"
	"poselink/internal/metrics"
	"poselink/internal/registry"
	"poselink/internal/scheduler"
	"poselink/internal/security"
	"poselink/internal/session"
	"poselink/internal/utils"
)

// Server wires every component and owns process startup and shutdown.
// Construction order follows the dependency chain: stores first, then
// the auth service, then the gateway, then the scheduler.
type Server struct {
	Sessions  *session.Store
	Registry  *registry.Registry
	Auth      *auth.Service
	Gateway   *gateway.Gateway
	Scheduler *scheduler.Scheduler

	ConnLimiter *security.ConnectionLimiter

	Host string
	Port string

	startedAt time.Time
}

// NewServer builds the full component graph from the environment. The
// frame sink is the single hook into the pose pipeline; nil is valid
// and drops frames.
func NewServer(sink gateway.FrameSink) *Server {
	secret := utils.GetEnv(constants.EnvSecret, "")
	if secret == "" {
		secret = "poselink-dev-secret"
		log.Printf("⚠️  %s not set, using development secret", constants.EnvSecret)
	}

	sessionTTL := utils.GetEnvDuration(constants.EnvSessionTTL, constants.SessionTTL)
	handshakeTimeout := utils.GetEnvDuration(constants.EnvHandshakeTimeout, constants.HandshakeTimeout)
	sweepInterval := utils.GetEnvDuration(constants.EnvSweepInterval, constants.SweepInterval)
	reaperInterval := utils.GetEnvDuration(constants.EnvReaperInterval, constants.ReaperInterval)

	sessions := session.NewStore(sessionTTL)
	reg := registry.NewRegistry()
	authSvc := auth.NewService(sessions, secret)
	gw := gateway.NewGateway(reg, authSvc, sink, handshakeTimeout)
	sched := scheduler.NewScheduler(sessions, reg, sweepInterval, reaperInterval, handshakeTimeout)

	return &Server{
		Sessions:    sessions,
		Registry:    reg,
		Auth:        authSvc,
		Gateway:     gw,
		Scheduler:   sched,
		ConnLimiter: security.NewConnectionLimiter(constants.MaxConnectionsPerIP),
		Host:        utils.GetEnv(constants.EnvHost, constants.DefaultHost),
		Port:        utils.GetEnv(constants.EnvPort, constants.DefaultPort),
	}
}

// Run starts the scheduler loops and the HTTP listener, then blocks
// until SIGINT/SIGTERM. Shutdown drains connections before anything
// else is released; individual close failures are logged, never fatal.
func (s *Server) Run() {
	s.startedAt = time.Now()

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		s.Scheduler.Run(schedCtx)
		close(schedDone)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointConnect, s.HandleConnect)
	mux.HandleFunc(constants.EndpointHealth, s.HandleHealth)
	mux.HandleFunc(constants.EndpointStatus, s.HandleStatus)
	mux.Handle(constants.EndpointMetrics, metrics.Handler())

	var handler http.Handler = mux
	handler = RecoveryMiddleware(handler)
	handler = CorsMiddleware(handler)
	handler = security.SecurityHeaders(handler)

	h2Handler := h2c.NewHandler(handler, &http2.Server{})

	server := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           h2Handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("🚀 poselink server starting on :%s", s.Port)

	<-sigChan
	log.Println("🛑 Shutting down server...")

	// Drain connections first, then stop the loops and the listener.
	s.Registry.CloseAll()
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	<-schedDone
	log.Println("✅ Server stopped")
}
