package main

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/acd/actronneo/internal/nimbus"
	"github.com/acd/actronneo/neo"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type temperatureRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
	Cooling     bool     `json:"cooling"`
}

type fanRequest struct {
	Mode       string `json:"mode" binding:"required"`
	Continuous *bool  `json:"continuous"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type zoneRequest struct {
	Enabled     *bool    `json:"enabled"`
	Temperature *float64 `json:"temperature"`
	Setpoint    string   `json:"setpoint"`
}

type statusResponse struct {
	*neo.State
	Health        Health `json:"health"`
	ContinuousFan bool   `json:"continuousFan"`
	ZoneControl   bool   `json:"zoneControl"`
}

type zoneResponse struct {
	ID          string `json:"id"`
	LastUpdated string `json:"lastUpdated,omitempty"`
	neo.Zone
}

type diagnosticsResponse struct {
	Health        Health          `json:"health"`
	Client        *nimbus.Stats   `json:"client,omitempty"`
	Serial        string          `json:"serial"`
	Sections      []string        `json:"sections"`
	ContinuousFan bool            `json:"continuousFan"`
	ZoneControl   bool            `json:"zoneControl"`
	Peripherals   map[string]bool `json:"peripherals"`
}

type statser interface {
	Stats() nimbus.Stats
}

func errorStatus(err error) int {
	var authErr *neo.AuthenticationError
	switch {
	case neo.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, neo.ErrAuthenticationFailed), errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.Is(err, neo.ErrUpdateFailed):
		return http.StatusServiceUnavailable
	case neo.IsMalformed(err), errors.Is(err, neo.ErrAPIUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := errorStatus(err)
	log.WithError(err).WithField("path", c.FullPath()).Debugf("request failed with %d", status)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func newRouter(api *Api) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(api.Metrics.Handler()))

	g := r.Group("/api")
	g.GET("/status", func(c *gin.Context) {
		state := api.State()
		if state == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet", "health": api.Health()})
			return
		}
		c.JSON(http.StatusOK, statusResponse{
			State:         state,
			Health:        api.Health(),
			ContinuousFan: api.Coordinator.ContinuousFan(),
			ZoneControl:   api.Coordinator.ZoneControl(),
		})
	})

	g.GET("/zones", func(c *gin.Context) {
		state := api.State()
		if state == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "no data yet"})
			return
		}
		zones := make([]zoneResponse, 0, len(state.Zones))
		for _, id := range state.ZoneIDs() {
			z := zoneResponse{ID: id, Zone: state.Zones[id]}
			z.LastUpdated, _ = api.Coordinator.ZoneLastUpdated(id)
			zones = append(zones, z)
		}
		c.JSON(http.StatusOK, zones)
	})

	g.GET("/zones/:zone/peripheral", func(c *gin.Context) {
		id, err := zoneIDFromString(c.Param("zone"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, ok := api.Coordinator.ZonePeripheral(id)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no peripheral for " + id})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	g.GET("/diagnostics", func(c *gin.Context) {
		d := diagnosticsResponse{
			Health:        api.Health(),
			Serial:        api.Coordinator.Serial(),
			ContinuousFan: api.Coordinator.ContinuousFan(),
			ZoneControl:   api.Coordinator.ZoneControl(),
			Peripherals:   map[string]bool{},
		}
		if s, ok := api.client.(statser); ok {
			stats := s.Stats()
			d.Client = &stats
		}
		for name := range api.Cache.Dump() {
			d.Sections = append(d.Sections, name)
		}
		slices.Sort(d.Sections)
		for _, id := range api.State().ZoneIDs() {
			_, d.Peripherals[id] = api.Coordinator.ZonePeripheral(id)
		}
		c.JSON(http.StatusOK, d)
	})

	g.POST("/refresh", func(c *gin.Context) {
		err := api.Do(func(co *neo.Coordinator) error {
			return co.ForceUpdate(c.Request.Context())
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, api.State())
	})

	g.PUT("/hvac", func(c *gin.Context) {
		var req modeRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "hvac", func(ctx context.Context, co *neo.Coordinator) error {
			mode, ok := neo.ParseHVACMode(req.Mode)
			if !ok {
				mode = neo.HVACMode(req.Mode)
			}
			return co.SetHVACMode(ctx, mode)
		})
	})

	g.PUT("/temperature", func(c *gin.Context) {
		var req temperatureRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "temperature", func(ctx context.Context, co *neo.Coordinator) error {
			return co.SetTemperature(ctx, *req.Temperature, req.Cooling)
		})
	})

	g.PUT("/fan", func(c *gin.Context) {
		var req fanRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "fan", func(ctx context.Context, co *neo.Coordinator) error {
			return co.SetFanMode(ctx, req.Mode, req.Continuous)
		})
	})

	g.PUT("/climate", func(c *gin.Context) {
		var req modeRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "climate", func(ctx context.Context, co *neo.Coordinator) error {
			return co.SetClimateMode(ctx, req.Mode)
		})
	})

	g.PUT("/away", func(c *gin.Context) {
		var req toggleRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "away", func(ctx context.Context, co *neo.Coordinator) error {
			return co.SetAwayMode(ctx, *req.Enabled)
		})
	})

	g.PUT("/quiet", func(c *gin.Context) {
		var req toggleRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "quiet", func(ctx context.Context, co *neo.Coordinator) error {
			return co.SetQuietMode(ctx, *req.Enabled)
		})
	})

	g.PUT("/zone-control", func(c *gin.Context) {
		var req toggleRequest
		if c.Bind(&req) != nil {
			return
		}
		command(c, api, "zone-control", func(ctx context.Context, co *neo.Coordinator) error {
			co.SetZoneControl(ctx, *req.Enabled)
			return nil
		})
	})

	g.PUT("/zones/:zone", func(c *gin.Context) {
		var req zoneRequest
		if c.Bind(&req) != nil {
			return
		}
		if req.Enabled == nil && req.Temperature == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "nothing to change"})
			return
		}
		// nothing is sent unless every step can succeed
		if req.Temperature != nil {
			if req.Enabled != nil && !*req.Enabled {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot set the temperature of a zone being disabled"})
				return
			}
			if t := *req.Temperature; t < neo.MinTemp || t > neo.MaxTemp {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "temperature out of range"})
				return
			}
			if _, err := zoneIDFromString(c.Param("zone")); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		key, ok := stringSetpointToKey(req.Setpoint)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "setpoint must be cool or heat"})
			return
		}
		zone := c.Param("zone")
		command(c, api, "zone", func(ctx context.Context, co *neo.Coordinator) error {
			if req.Enabled != nil {
				if err := co.SetZoneState(ctx, zoneRefFromString(zone), *req.Enabled); err != nil {
					return err
				}
			}
			if req.Temperature != nil {
				id, err := zoneIDFromString(zone)
				if err != nil {
					return &neo.ValidationError{Op: "set zone temperature", Reason: err.Error()}
				}
				return co.SetZoneTemperature(ctx, id, *req.Temperature, key)
			}
			return nil
		})
	})

	g.GET("/ws", func(c *gin.Context) {
		h := websocket.Handler(func(ws *websocket.Conn) {
			attachListener(api, ws)
		})
		h.ServeHTTP(c.Writer, c.Request)
	})

	return r
}

// command runs f against the coordinator and answers with the refreshed
// state.
func command(c *gin.Context, api *Api, name string, f func(context.Context, *neo.Coordinator) error) {
	err := api.Do(func(co *neo.Coordinator) error {
		return f(c.Request.Context(), co)
	})
	if err != nil {
		api.Metrics.CommandError(name)
		abortWithError(c, err)
		return
	}
	if state := api.State(); state != nil {
		c.JSON(http.StatusOK, state)
		return
	}
	c.Status(http.StatusNoContent)
}

func launchWebserver(port int, api *Api) error {
	gin.SetMode(gin.ReleaseMode)
	r := newRouter(api)
	log.Infof("listening on :%d", port)
	return r.Run(":" + strconv.Itoa(port))
}

func attachListener(api *Api, ws *websocket.Conn) {
	listener := api.NewListener()

	defer func() {
		listener.Close()
		log.Debug("closing websocket")
		if err := ws.Close(); err != nil {
			log.WithError(err).Warn("error on ws close")
		}
	}()

	log.Debug("dumping cached data")
	for source, data := range api.Cache.Dump() {
		if err := websocket.JSON.Send(ws, gin.H{"source": source, "data": data}); err != nil {
			log.WithError(err).Warn("error on websocket write")
			return
		}
	}

	for event := range listener.Receive() {
		if err := websocket.JSON.Send(ws, event); err != nil {
			log.WithError(err).Warn("error on websocket write")
			return
		}
	}
	log.Debug("listener closed")
}
