package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"solver-backend/internal/config"
	"solver-backend/internal/dto"
	"solver-backend/internal/middleware"
)

// AuthHandler issues session tokens for the operator API
type AuthHandler struct{}

// NewAuthHandler creates an auth handler
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Login handles POST /api/v1/auth/login. Credentials are a username,
// a bcrypt-checked password, and an optional TOTP code when a second
// factor is configured.
func (h *AuthHandler) Login(c *gin.Context) {
	cfg := config.AppConfig

	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}

	if req.Username != cfg.Auth.Username ||
		bcrypt.CompareHashAndPassword([]byte(cfg.Auth.PasswordHash), []byte(req.Password)) != nil {
		log.WithField("username", req.Username).Warn("Failed login attempt")
		h.unauthorized(c)
		return
	}

	if cfg.Auth.TOTPSecret != "" {
		if req.TOTPCode == "" || !totp.Validate(req.TOTPCode, cfg.Auth.TOTPSecret) {
			log.WithField("username", req.Username).Warn("Failed login attempt: bad TOTP code")
			h.unauthorized(c)
			return
		}
	}

	ttl := time.Duration(cfg.Auth.TokenTTLSecs) * time.Second
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		respondError(c, err)
		return
	}

	log.WithField("username", req.Username).Info("Operator logged in")
	c.JSON(http.StatusOK, dto.LoginResponse{
		Token:     signed,
		ExpiresIn: cfg.Auth.TokenTTLSecs,
	})
}

func (h *AuthHandler) unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error:         "invalid credentials",
		Code:          "UNAUTHORIZED",
		CorrelationID: middleware.CorrelationID(c),
	})
}
