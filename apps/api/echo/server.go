package echoapi

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/datasync"
	"github.com/trezcool/edmm/core/session"
	metricsvc "github.com/trezcool/edmm/services/metrics"
)

type (
	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		Auth           *auth.Engine
		Sessions       *session.Store
		Sync           *datasync.Engine
		Done           *datasync.DoneTracker
		Validate       *validator.Validate
		Translator     ut.Translator
		DisableReqLogs bool
	}

	Server struct {
		ServerDeps
		app      *echo.Echo
		limiter  *IPRateLimiter
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		ServerDeps: deps,
		app:        echo.New(),
		errors:     make(chan error, 1),
		shutdown:   make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.Logger, s.Translator)
	s.app.IPExtractor = ipExtractor(conf.Server.TrustedProxies)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if len(conf.Server.AllowOrigins) > 0 {
		s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: conf.Server.AllowOrigins,
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept, HeaderDeviceID},
		}))
	}
	s.app.Use(middleware.BodyLimit("64K"))
	s.app.Use(metricsvc.Middleware())

	if conf.Server.PublicDir != "" {
		s.app.Static("/", conf.Server.PublicDir)
	}

	s.limiter = NewIPRateLimiter(rate.Limit(conf.Server.LoginRate), conf.Server.LoginBurst, 0)

	api := s.app.Group("/api")
	api.GET("/health", health)

	h := handlers{ServerDeps: s.ServerDeps}
	dev := api.Group("", deviceMiddleware())
	dev.POST("/login", h.login, s.limiter.Middleware())
	dev.POST("/doubleauth", h.doubleAuth, s.limiter.Middleware())
	dev.GET("/session", h.showSession)
	dev.DELETE("/session", h.deleteSession)

	authed := dev.Group("", sessionMiddleware(s.Sessions))
	authed.GET("/data/:domain", h.syncData, fetchMiddleware())
	authed.GET("/cache/:domain", h.cachedData, fetchMiddleware())
	authed.GET("/messages/:id", h.readMessage, fetchMiddleware())
	authed.GET("/homework/done", h.getDone)
	authed.PUT("/homework/done", h.setDone)
}

// ipExtractor honours X-Forwarded-For only from the trusted proxies.
func ipExtractor(trusted []string) echo.IPExtractor {
	nets := parseTrustedProxies(trusted)
	if len(nets) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range nets {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// parseTrustedProxies accepts CIDR ranges and single IPs.
func parseTrustedProxies(proxies []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, p := range proxies {
		_, ipnet, err := net.ParseCIDR(p)
		if err != nil {
			ip := net.ParseIP(p)
			if ip == nil {
				continue
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		nets = append(nets, ipnet)
	}
	return nets
}

func (s *Server) Start() {
	if err := s.app.Start(s.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	defer s.limiter.Close()
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func health(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "ok")
}
