package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/autherr"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/registration"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/usecase"
)

// MaxRequestBytes bounds a request body. Registration carries five base64 images.
const MaxRequestBytes = 32 << 20

// Registrar enrols new users.
type Registrar interface {
	Register(ctx context.Context, req registration.Request) (*registration.Outcome, error)
}

// Authenticator runs face logins.
type Authenticator interface {
	Authenticate(ctx context.Context, requestID string, key repository.NaturalKey, payload string) (*usecase.LoginResult, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	GetAttempt(ctx context.Context, attemptID string, userID uint) (*repository.VerificationLog, error)
}

// Sessions validates and invalidates session tokens.
type Sessions interface {
	Validate(ctx context.Context, token string) (bool, error)
	Invalidate(ctx context.Context, token string) (bool, error)
}

// Dependencies are the services behind the HTTP routes.
type Dependencies struct {
	Registrar     Registrar
	Authenticator Authenticator
	Sessions      Sessions
	Cookie        auth.CookieOptions
	Logger        *zap.Logger
}

type registerRequest struct {
	StudentID           string   `json:"student_id"`
	MatriculationNumber string   `json:"matriculation_number"`
	Images              []string `json:"face_encodings"`
	repository.Profile
}

type loginRequest struct {
	StudentID           string `json:"student_id"`
	MatriculationNumber string `json:"matriculation_number"`
	Image               string `json:"face_encoding"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware
// guards the routes that need a live session.
func RegisterRoutes(router *gin.Engine, deps Dependencies, authMiddleware gin.HandlerFunc) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{deps: deps, logger: logger.Named("http")}

	router.Use(requestContext(h.logger), limitBody(MaxRequestBytes))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/face-register", h.register)
	router.POST("/face-auth", h.login)
	router.POST("/logout", h.logout)
	router.POST("/validate-token", h.validateToken)

	protected := router.Group("/", authMiddleware)
	protected.POST("/user-data", h.userData)
	protected.GET("/metrics/summary", h.metricsSummary)
	protected.GET("/attempts/:id", h.attempt)
}

func (h *handler) register(c *gin.Context) {
	var body registerRequest
	if !bindJSON(c, &body) {
		return
	}

	outcome, err := h.deps.Registrar.Register(c.Request.Context(), registration.Request{
		RequestID: RequestID(c),
		Key:       repository.NaturalKey{StudentID: body.StudentID, MatriculationNumber: body.MatriculationNumber},
		Profile:   body.Profile,
		Images:    body.Images,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if outcome.AlreadyRegistered {
		c.JSON(http.StatusOK, gin.H{
			"already_registered": true,
			"message":            "user " + body.StudentID + " is already registered, proceed to login",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"already_registered": false,
		"message":            "faces registered for user " + outcome.User.StudentID,
		"user":               userView(outcome.User),
	})
}

func (h *handler) login(c *gin.Context) {
	var body loginRequest
	if !bindJSON(c, &body) {
		return
	}

	key := repository.NaturalKey{StudentID: body.StudentID, MatriculationNumber: body.MatriculationNumber}
	result, err := h.deps.Authenticator.Authenticate(c.Request.Context(), RequestID(c), key, body.Image)
	if err != nil {
		h.writeError(c, err)
		return
	}

	auth.SetCookie(c.Writer, result.Session.Token, result.Session.ExpiresAt, h.deps.Cookie)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"message":       "successful login",
		"request_id":    result.RequestID,
		"attempt_id":    result.AttemptID,
		"expires_at":    result.Session.ExpiresAt,
	})
}

func (h *handler) logout(c *gin.Context) {
	removed, err := h.deps.Sessions.Invalidate(c.Request.Context(), auth.TokenFromRequest(c.Request))
	auth.ClearCookie(c.Writer, h.deps.Cookie)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully", "invalidated": removed})
}

func (h *handler) validateToken(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	if token == "" && c.Request.ContentLength > 0 {
		var body tokenRequest
		if !bindJSON(c, &body) {
			return
		}
		token = body.Token
	}

	valid, err := h.deps.Sessions.Validate(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isValid": valid})
}

func (h *handler) userData(c *gin.Context) {
	user, ok := auth.GetUser(c.Request.Context())
	if !ok {
		h.writeError(c, autherr.ErrNotAuthenticated)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "welcome, " + user.StudentID,
		"user":    userView(user),
	})
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.deps.Authenticator.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) attempt(c *gin.Context) {
	user, ok := auth.GetUser(c.Request.Context())
	if !ok {
		h.writeError(c, autherr.ErrNotAuthenticated)
		return
	}

	log, err := h.deps.Authenticator.GetAttempt(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempt_id":    log.AttemptID,
		"request_id":    log.RequestID,
		"success":       log.Success,
		"matches":       log.Matches,
		"best_distance": log.BestDistance,
		"probe_faces":   log.ProbeFaces,
		"details":       log.Details,
		"created_at":    log.CreatedAt,
	})
}

// userView is the public projection of a user. It never includes vectors.
func userView(user *repository.User) gin.H {
	return gin.H{
		"id":                   user.ID,
		"student_id":           user.StudentID,
		"matriculation_number": user.MatriculationNumber,
		"profile":              user.Profile,
		"passport":             user.Passport,
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody(autherr.KindInvalidRequest, "request body too large"))
			return false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(autherr.KindInvalidRequest, "malformed request body"))
		return false
	}
	return true
}

func (h *handler) writeError(c *gin.Context, err error) {
	kind := autherr.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{zap.Error(err)}
		var opErr *logging.OperationError
		if errors.As(err, &opErr) {
			fields = opErr.Fields()
		}
		if opErr == nil || opErr.RequestID == "" {
			fields = append(fields, zap.String("request_id", RequestID(c)))
		}
		h.logger.Error("request failed", fields...)
	}
	c.AbortWithStatusJSON(status, errorBody(kind, autherr.MessageOf(err)))
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind autherr.Kind) int {
	switch kind {
	case autherr.KindInvalidImageCount, autherr.KindInvalidEncoding, autherr.KindInvalidRequest:
		return http.StatusBadRequest
	case autherr.KindUnsupportedImageFormat, autherr.KindNoFaceDetected:
		return http.StatusUnprocessableEntity
	case autherr.KindNotAuthenticated, autherr.KindVerificationFailed:
		return http.StatusUnauthorized
	case autherr.KindUserNotFound, autherr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(kind autherr.Kind, message string) gin.H {
	return gin.H{"error": gin.H{"kind": kind, "message": message}}
}
