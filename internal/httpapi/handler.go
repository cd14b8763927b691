// Package httpapi exposes the hall view and the reporting endpoints over gin.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"forked/internal/auth"
	"forked/internal/geofence"
	"forked/internal/hall"
	"forked/internal/hours"
	"forked/internal/httpmiddleware"
	"forked/internal/report"
)

// Reporter is the reporting surface the handlers drive.
type Reporter interface {
	SubmitWaitTime(ctx context.Context, r report.Reporter, hallID string, minutes int, loc report.LocationProvider) (report.Result, error)
	SubmitSeating(ctx context.Context, r report.Reporter, hallID, label string, loc report.LocationProvider) (report.Result, error)
	SubmitRating(ctx context.Context, r report.Reporter, hallID, itemID string, rating int) (report.Result, error)
}

// Options configure a Handler.
type Options struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	// IssueSessions enables POST /v1/sessions, a development identity
	// provider that signs whatever identity it is given.
	IssueSessions bool
	// ReportsPerMin bounds report requests per identity; zero disables it.
	ReportsPerMin int
	Now           func() time.Time
}

// Handler serves the v1 api.
type Handler struct {
	reports Reporter
	halls   *hall.Cache
	hours   *hours.Schedule
	opts    Options
}

// New creates a handler. hours may be nil.
func New(reports Reporter, halls *hall.Cache, sched *hours.Schedule, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{reports: reports, halls: halls, hours: sched, opts: opts}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	if h.opts.IssueSessions {
		v1.POST("/sessions", h.createSession)
	}
	v1.GET("/halls", h.listHalls)
	v1.GET("/halls/:id", h.getHall)

	reports := v1.Group("/halls/:id", auth.Required(h.opts.SigningKey, h.opts.Issuer))
	if h.opts.ReportsPerMin > 0 {
		limiter := httpmiddleware.NewSimpleTokenBucket(h.opts.ReportsPerMin, h.opts.ReportsPerMin)
		reports.Use(limiter.GinMiddlewareBy(byIdentity))
	}
	reports.POST("/wait-time", h.submitWaitTime)
	reports.POST("/seating", h.submitSeating)
	reports.POST("/items/:item/rating", h.submitRating)
}

// byIdentity charges authenticated requests to the token identity.
func byIdentity(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok {
		if key, ok := claims.Identity().Key(); ok {
			return key
		}
	}
	return httpmiddleware.ByClientIP(c)
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		UID           string `json:"uid"`
		ClientHash    string `json:"client_hash"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Reports need a signed-in user, so a client hash alone is refused.
	if req.UID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid required"})
		return
	}
	token, err := auth.Issue(req.UID, req.ClientHash, req.EmailVerified, h.opts.Issuer, h.opts.SigningKey, h.opts.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token": token.AccessToken,
		"expires_at":   token.ExpiresAt.Unix(),
	})
}

type hoursView struct {
	OpenNow bool   `json:"open_now"`
	Opens   string `json:"opens,omitempty"`
	Closes  string `json:"closes,omitempty"`
}

type hallView struct {
	hall.Venue
	LastUpdatedText string     `json:"last_updated_text"`
	Hours           *hoursView `json:"hours,omitempty"`
}

func (h *Handler) view(v hall.Venue) hallView {
	now := h.opts.Now()
	out := hallView{Venue: v, LastUpdatedText: v.LastUpdatedText(now)}
	if h.hours != nil {
		if info, ok := h.hours.Display(v.ID, now); ok {
			out.Hours = &hoursView{OpenNow: info.OpenNow, Opens: info.Opens, Closes: info.Closes}
		}
	}
	return out
}

func (h *Handler) listHalls(c *gin.Context) {
	halls := h.halls.All()
	out := make([]hallView, 0, len(halls))
	for _, v := range halls {
		out = append(out, h.view(v))
	}
	c.JSON(http.StatusOK, gin.H{"halls": out})
}

func (h *Handler) getHall(c *gin.Context) {
	v, ok := h.halls.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": hall.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, h.view(v))
}

type locationBody struct {
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	AccuracyMeters *float64 `json:"accuracy_meters"`
}

// provider turns the request's location fields into a location provider.
// A request carrying a fix but no authorization state is treated as
// authorized. A fix without accuracy is kept and fails the precision check.
func provider(authorization string, loc *locationBody) report.StaticLocation {
	p := report.StaticLocation{Auth: report.ParseAuthorization(authorization)}
	if loc != nil {
		p.Fix = &geofence.Fix{Lat: loc.Lat, Lon: loc.Lon}
		if loc.AccuracyMeters != nil {
			p.Fix.AccuracyMeters = *loc.AccuracyMeters
		}
		if authorization == "" {
			p.Auth = report.AuthorizationAuthorized
		}
	}
	return p
}

func reporterFrom(c *gin.Context) report.Reporter {
	claims, _ := auth.ClaimsFrom(c)
	return report.ReporterFromClaims(claims)
}

func (h *Handler) submitWaitTime(c *gin.Context) {
	var req struct {
		Minutes       int           `json:"minutes"`
		Location      *locationBody `json:"location"`
		Authorization string        `json:"authorization"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.reports.SubmitWaitTime(c.Request.Context(), reporterFrom(c), c.Param("id"), req.Minutes,
		provider(req.Authorization, req.Location))
	respond(c, res, err)
}

func (h *Handler) submitSeating(c *gin.Context) {
	var req struct {
		Seating       string        `json:"seating"`
		Location      *locationBody `json:"location"`
		Authorization string        `json:"authorization"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.reports.SubmitSeating(c.Request.Context(), reporterFrom(c), c.Param("id"), req.Seating,
		provider(req.Authorization, req.Location))
	respond(c, res, err)
}

func (h *Handler) submitRating(c *gin.Context) {
	var req struct {
		Rating int `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.reports.SubmitRating(c.Request.Context(), reporterFrom(c), c.Param("id"), c.Param("item"), req.Rating)
	respond(c, res, err)
}

func respond(c *gin.Context, res report.Result, err error) {
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	status := statusFor(res)
	if res.Reason == report.ReasonCooldown && res.RetryIn > 0 {
		c.Header("Retry-After", strconv.Itoa(int((res.RetryIn+time.Second-1)/time.Second)))
	}
	c.JSON(status, res)
}

func statusFor(res report.Result) int {
	switch res.Outcome {
	case report.OutcomeCommitted:
		return http.StatusOK
	case report.OutcomeQueued:
		return http.StatusAccepted
	}
	switch res.Reason {
	case report.ReasonNotSignedIn:
		return http.StatusUnauthorized
	case report.ReasonMissingHall, report.ReasonUnknownItem:
		return http.StatusNotFound
	case report.ReasonHallClosed:
		return http.StatusConflict
	case report.ReasonInvalidValue:
		return http.StatusBadRequest
	case report.ReasonCooldown:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}
