package webserver

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/config"
	"go.uber.org/zap"
)

const bodyLimit = "50M"

// WebServer wraps the echo instance. Routes under /api require
// authentication; root routes opt in with Auth.
type WebServer struct {
	root   *echo.Echo
	api    *echo.Group
	auth   echo.MiddlewareFunc
	config *config.AppConfig
	debug  bool
}

func NewWebServer(cfg *config.AppConfig) (*WebServer, error) {
	node, err := snowflake.NewNode(2)
	if err != nil {
		return nil, err
	}
	s := &WebServer{root: echo.New(), config: cfg, debug: cfg.System.Debug}
	e := s.root
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.INFO)
	if s.debug {
		e.Logger.SetLevel(log.DEBUG)
	}
	e.JSONSerializer = JSONSerializer{}
	e.Validator = NewValidator()
	e.HTTPErrorHandler = s.errorHandler
	e.Server.ReadTimeout = cfg.Web.ReadTimeout
	e.Server.WriteTimeout = cfg.Web.WriteTimeout

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return node.Generate().String() },
	}))
	e.Use(s.recoverMiddleware())
	e.Use(requestLogger())
	e.Use(middleware.Secure())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(bodyLimit))

	s.auth = Authenticate(cfg.Web.ApiKey, cfg.Web.Secret)
	s.api = e.Group("/api", s.auth)
	return s, nil
}

// Echo exposes the underlying router, mostly for tests.
func (s *WebServer) Echo() *echo.Echo {
	return s.root
}

// Auth is the middleware guarding /api.
func (s *WebServer) Auth() echo.MiddlewareFunc {
	return s.auth
}

func (s *WebServer) ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.api.GET(path, h, m...)
}

func (s *WebServer) ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.api.POST(path, h, m...)
}

// RootGET registers a route outside /api.
func (s *WebServer) RootGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.root.GET(path, h, m...)
}

// Start serves until Shutdown is called.
func (s *WebServer) Start() error {
	addr := s.config.Addr()
	zap.S().Infof("Prepare to start the web server %s", addr)
	err := s.root.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WebServer) Shutdown(ctx context.Context) error {
	return s.root.Shutdown(ctx)
}

func (s *WebServer) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusNotFound:
			_ = Fail(c, he.Code, "NOT_FOUND", "Endpoint not found", nil)
		case http.StatusMethodNotAllowed:
			_ = Fail(c, he.Code, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		default:
			_ = Fail(c, he.Code, "REQUEST_ERROR", fmt.Sprint(he.Message), s.detail(he.Internal))
		}
		return
	}
	zap.L().Error("webserver: unhandled error",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Request().URL.Path),
		zap.Error(err))
	_ = Fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong!", s.detail(err))
}

// detail exposes internal error text in debug mode only.
func (s *WebServer) detail(err error) interface{} {
	if err == nil || !s.debug {
		return nil
	}
	return err.Error()
}

func (s *WebServer) recoverMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						panic(r)
					}
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					stack := make([]byte, 4<<10)
					stack = stack[:runtime.Stack(stack, false)]
					zap.L().Error("webserver: handler panic",
						zap.String("path", c.Request().URL.Path),
						zap.Error(perr),
						zap.ByteString("stack", stack))
					err = perr
				}
			}()
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			zap.L().Debug("webserver: request", fields...)
			return nil
		},
	})
}

var startedAt = time.Now()

// Uptime is the time since the process started serving.
func Uptime() time.Duration {
	return time.Since(startedAt).Round(time.Second)
}
