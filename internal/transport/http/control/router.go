package controlhttp

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"

	"mystocks/internal/broker"
	"mystocks/internal/config"
	"mystocks/internal/engine"
	"mystocks/internal/logger"
	"mystocks/internal/manager"
	"mystocks/internal/store"
	"mystocks/internal/universe"
)

// Router exposes the /api control endpoints.
type Router struct {
	mgr *manager.Manager
	db  *store.Store

	mu       sync.Mutex
	strategy config.StrategyConfig
}

// NewRouter builds the control router. strategy seeds the merge base for
// partial config updates and should match what the engines were built with.
func NewRouter(mgr *manager.Manager, db *store.Store, strategy config.StrategyConfig) *Router {
	return &Router{mgr: mgr, db: db, strategy: strategy}
}

// Register mounts the control routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.POST("/engine/start", r.handleStart)
	group.POST("/engine/stop", r.handleStop)
	group.POST("/engine/switch", r.handleSwitch)
	group.POST("/universe/build", r.handleUniverseBuild)
	group.GET("/universe", r.handleUniverseList)
	group.POST("/orders/buy", r.handleManualBuy)
	group.POST("/orders/sell", r.handleManualSell)
	group.POST("/positions/refresh", r.handleRefresh)
	group.GET("/config", r.handleConfigGet)
	group.PUT("/config", r.handleConfigUpdate)
	group.PATCH("/config", r.handleConfigUpdate)
	group.GET("/trades", r.handleTrades)
	group.GET("/events", r.handleEvents)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type orderRequest struct {
	Mode     string `json:"mode"`
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// reqMode resolves the target mode from the body, falling back to the
// "mode" query parameter. Empty means the active mode.
func (r *Router) reqMode(c *gin.Context, bodyMode string) string {
	if bodyMode != "" {
		return bodyMode
	}
	return c.Query("mode")
}

func (r *Router) handleStatus(c *gin.Context) {
	modes := gin.H{}
	for _, mode := range []string{manager.ModeMock, manager.ModeReal} {
		eng, err := r.mgr.Engine(mode)
		if err != nil {
			continue
		}
		modes[mode] = eng.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"active": r.mgr.Active(), "modes": modes})
}

func (r *Router) handleStart(c *gin.Context) {
	var req modeRequest
	_ = c.ShouldBindJSON(&req)
	mode := r.reqMode(c, req.Mode)
	if err := r.mgr.Start(mode); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "mode": r.modeLabel(mode)})
}

func (r *Router) handleStop(c *gin.Context) {
	var req modeRequest
	_ = c.ShouldBindJSON(&req)
	mode := r.reqMode(c, req.Mode)
	if err := r.mgr.Stop(mode); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "mode": r.modeLabel(mode)})
}

func (r *Router) handleSwitch(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Mode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}
	if err := r.mgr.SwitchMode(req.Mode); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "switched", "mode": req.Mode})
}

func (r *Router) handleUniverseBuild(c *gin.Context) {
	var req modeRequest
	_ = c.ShouldBindJSON(&req)
	mode := r.reqMode(c, req.Mode)
	recs, err := r.mgr.BuildUniverse(c.Request.Context(), mode)
	if err != nil {
		if errors.Is(err, universe.ErrBuildBlocked) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] universe build failed mode=%s err=%v", r.modeLabel(mode), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(recs), "stocks": recs})
}

func (r *Router) handleUniverseList(c *gin.Context) {
	mode := r.modeLabel(c.Query("mode"))
	date := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	recs, err := r.db.ListUniverse(c.Request.Context(), mode, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "date": date, "stocks": recs})
}

func (r *Router) handleManualBuy(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	eng, err := r.mgr.Engine(r.reqMode(c, req.Mode))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := eng.ManualBuy(c.Request.Context(), req.Code, req.Quantity); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted", "code": req.Code})
}

func (r *Router) handleManualSell(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	eng, err := r.mgr.Engine(r.reqMode(c, req.Mode))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := eng.ManualSell(c.Request.Context(), req.Code, req.Quantity); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted", "code": req.Code})
}

func (r *Router) handleRefresh(c *gin.Context) {
	var req modeRequest
	_ = c.ShouldBindJSON(&req)
	eng, err := r.mgr.Engine(r.reqMode(c, req.Mode))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := eng.RefreshPositions(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

func (r *Router) handleConfigGet(c *gin.Context) {
	r.mu.Lock()
	cur := r.strategy
	r.mu.Unlock()
	c.JSON(http.StatusOK, cur)
}

// handleConfigUpdate merges a partial strategy document onto the current
// parameters, validates the result and pushes it to every running engine.
// Field names follow the config file ("gap_threshold", "take_profit_rate",
// ...); unknown keys are ignored.
func (r *Router) handleConfigUpdate(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.mu.Lock()
	next := r.strategy
	r.mu.Unlock()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "toml",
		WeaklyTypedInput: true,
		Result:           &next,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := dec.Decode(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	applied := []string{}
	for _, mode := range []string{manager.ModeMock, manager.ModeReal} {
		eng, err := r.mgr.Engine(mode)
		if err != nil {
			continue
		}
		if err := eng.UpdateConfig(c.Request.Context(), next); err != nil {
			if errors.Is(err, engine.ErrNotRunning) {
				continue
			}
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		applied = append(applied, mode)
	}
	r.mu.Lock()
	r.strategy = next
	r.mu.Unlock()
	logger.Infof("[api] strategy config updated, applied to %v", applied)
	c.JSON(http.StatusOK, gin.H{"applied": applied, "config": next})
}

func (r *Router) handleTrades(c *gin.Context) {
	mode := r.modeLabel(c.Query("mode"))
	from := c.Query("from")
	to := c.Query("to")
	recs, err := r.db.ListTrades(c.Request.Context(), mode, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "trades": recs})
}

func (r *Router) handleEvents(c *gin.Context) {
	mode := r.modeLabel(c.Query("mode"))
	date := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	recs, err := r.db.ListEvents(c.Request.Context(), mode, date, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "date": date, "events": recs})
}

func (r *Router) modeLabel(mode string) string {
	if mode == "" {
		return r.mgr.Active()
	}
	return mode
}

// statusFor maps engine and broker failures to HTTP codes. Validation means
// the caller's input was bad; capacity and not-running are state conflicts.
func statusFor(err error) int {
	if errors.Is(err, engine.ErrNotRunning) {
		return http.StatusConflict
	}
	var f *broker.Fault
	if errors.As(err, &f) {
		switch f.Kind {
		case broker.FaultValidation:
			return http.StatusBadRequest
		case broker.FaultCapacity:
			return http.StatusConflict
		case broker.FaultRejected:
			return http.StatusUnprocessableEntity
		case broker.FaultStaleData:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
