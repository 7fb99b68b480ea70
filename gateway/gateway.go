package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/location"
	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
	"github.com/rs/cors"
	gincors "github.com/rs/cors/wrapper/gin"
	"github.com/textileio/fleetwatch/buildinfo"
	"github.com/textileio/fleetwatch/fault"
	"github.com/textileio/fleetwatch/tracker"
)

const handlerTimeout = time.Second * 10

var log = logging.Logger("gateway")

var routes = []string{"/health", "/faults", "/reset", "/logs", "/version"}

// Registry is the fault registry exposed by the gateway.
type Registry interface {
	List() []tracker.FaultStatus
	Reset(ctx context.Context) error
}

// Health reports the fleet health.
type Health interface {
	Healthy() bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

// FaultInfo is an active fault as listed by GET /faults.
type FaultInfo struct {
	Kind            fault.Kind `json:"kind"`
	Detail          string     `json:"detail"`
	FirstObservedAt time.Time  `json:"firstObservedAt"`
	AgeSeconds      int64      `json:"ageSeconds"`
	Overdue         bool       `json:"overdue"`
	Escalated       bool       `json:"escalated"`
}

// FaultsResponse is the body of GET /faults.
type FaultsResponse struct {
	Faults []FaultInfo `json:"faults"`
}

// ResetResponse is the body of POST /reset.
type ResetResponse struct {
	Reset bool `json:"reset"`
}

// ErrorResponse is the body of failed requests.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Routes []string `json:"routes,omitempty"`
}

// Gateway provides HTTP access to the fleet health and the fault registry.
type Gateway struct {
	addr     string
	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	registry Registry
	health   Health
	logPath  string
}

// NewGateway returns a new gateway listening on addr once started.
func NewGateway(addr string, reg Registry, h Health, logPath string) *Gateway {
	g := &Gateway{
		addr:     addr,
		registry: reg,
		health:   h,
		logPath:  logPath,
	}
	g.router = g.newRouter()
	return g
}

func (g *Gateway) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(location.Default())
	router.Use(gincors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	router.GET("/health", g.healthHandler)
	router.GET("/faults", g.faultsHandler)
	router.POST("/reset", g.resetHandler)
	router.GET("/logs", g.logsHandler)
	router.GET("/version", g.versionHandler)

	router.NoRoute(g.notFoundHandler)
	return router
}

// Start the gateway.
func (g *Gateway) Start() error {
	l, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %s", g.addr, err)
	}
	g.listener = l
	g.server = &http.Server{
		Handler: g.router,
	}

	errc := make(chan error)
	go func() {
		errc <- g.server.Serve(l)
		close(errc)
	}()
	go func() {
		for {
			select {
			case err, ok := <-errc:
				if err != nil {
					if err == http.ErrServerClosed {
						return
					}
					log.Errorf("gateway error: %s", err)
				}
				if !ok {
					log.Info("gateway was shutdown")
					return
				}
			}
		}
	}()
	log.Infof("gateway listening at %s", l.Addr())
	return nil
}

// Addr returns the gateway's address.
func (g *Gateway) Addr() string {
	if g.listener != nil {
		return g.listener.Addr().String()
	}
	return g.addr
}

// Stop the gateway.
func (g *Gateway) Stop() error {
	if g.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.server.Shutdown(ctx); err != nil {
		log.Errorf("error shutting down gateway: %s", err)
		return err
	}
	return nil
}

func (g *Gateway) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Healthy: g.health.Healthy()})
}

func (g *Gateway) faultsHandler(c *gin.Context) {
	list := g.registry.List()
	res := FaultsResponse{Faults: make([]FaultInfo, len(list))}
	for i, fs := range list {
		res.Faults[i] = FaultInfo{
			Kind:            fs.Kind,
			Detail:          fs.Detail,
			FirstObservedAt: fs.FirstObservedAt,
			AgeSeconds:      int64(fs.Age / time.Second),
			Overdue:         fs.Overdue,
			Escalated:       fs.Escalated,
		}
	}
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) resetHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()
	if err := g.registry.Reset(ctx); err != nil {
		log.Errorf("resetting registry: %s", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	log.Infof("registry reset requested by %s", c.ClientIP())
	c.JSON(http.StatusOK, ResetResponse{Reset: true})
}

func (g *Gateway) logsHandler(c *gin.Context) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(g.logPath)))
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.File(g.logPath)
}

func (g *Gateway) versionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, buildinfo.Get())
}

func (g *Gateway) notFoundHandler(c *gin.Context) {
	base := location.Get(c)
	available := make([]string, len(routes))
	for i, r := range routes {
		available[i] = fmt.Sprintf("%s://%s%s", base.Scheme, base.Host, r)
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "route not found", Routes: available})
}
