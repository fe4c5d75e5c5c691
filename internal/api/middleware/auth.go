package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/catspool/internal/db"
)

const (
	cookieName     = "catspool_auth"
	sessionTTL     = 24 * time.Hour
	sessionSubject = "admin"
	issuer         = "catspool"
	secretSize     = 32
	minPassword    = 6

	keyPasswordHash  = "admin_password"
	keyPasswordEpoch = "admin_password_epoch"
	keySigningSecret = "jwt_secret"

	// ContextSession is the gin context key holding *SessionClaims.
	ContextSession = "session"
)

var (
	ErrSetupRequired = errors.New("admin password not set")
	ErrBadPassword   = errors.New("password mismatch")
	ErrStaleSession  = errors.New("session predates password change")
)

// SessionClaims are carried by every issued token. Epoch ties a token to
// the password it was issued under.
type SessionClaims struct {
	jwt.RegisteredClaims
	Epoch int64 `json:"epoch"`
}

// AuthMiddleware guards the API with a single admin password.
type AuthMiddleware struct {
	secret       []byte
	secureCookie bool
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
	SetupRequired bool `json:"setup_required"`
}

// NewAuthMiddleware loads the signing secret from the settings table,
// generating and storing one on first use.
func NewAuthMiddleware(secureCookie bool) (*AuthMiddleware, error) {
	secret, err := loadSigningSecret(context.Background())
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{secret: secret, secureCookie: secureCookie}, nil
}

func loadSigningSecret(ctx context.Context) ([]byte, error) {
	setting, err := db.Settings.GetSetting(ctx, keySigningSecret)
	switch {
	case err == nil:
		return hex.DecodeString(setting.Value)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	if err := db.Settings.SetSetting(ctx, keySigningSecret, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

func setupRequired(ctx context.Context) bool {
	_, err := db.Settings.GetSetting(ctx, keyPasswordHash)
	return errors.Is(err, sql.ErrNoRows)
}

func passwordEpoch(ctx context.Context) (int64, error) {
	setting, err := db.Settings.GetSetting(ctx, keyPasswordEpoch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(setting.Value, 10, 64)
}

func checkPassword(ctx context.Context, password string) error {
	setting, err := db.Settings.GetSetting(ctx, keyPasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSetupRequired
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(password)) != nil {
		return ErrBadPassword
	}
	return nil
}

// storePassword hashes and saves password, bumping the epoch so that
// sessions issued under the previous password stop validating.
func storePassword(ctx context.Context, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	prev, err := passwordEpoch(ctx)
	if err != nil {
		return 0, err
	}
	epoch := time.Now().UnixNano()
	if epoch <= prev {
		epoch = prev + 1
	}
	if err := db.Settings.SetSetting(ctx, keyPasswordHash, string(hash)); err != nil {
		return 0, err
	}
	if err := db.Settings.SetSetting(ctx, keyPasswordEpoch, strconv.FormatInt(epoch, 10)); err != nil {
		return 0, err
	}
	return epoch, nil
}

func (a *AuthMiddleware) issueToken(epoch int64) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sessionSubject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
		Epoch: epoch,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthMiddleware) parseToken(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(sessionSubject),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// authenticate resolves the request's session, from the cookie first and
// then from a bearer header.
func (a *AuthMiddleware) authenticate(c *gin.Context) (*SessionClaims, error) {
	raw, err := c.Cookie(cookieName)
	if err != nil || raw == "" {
		raw = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if raw == "" {
		return nil, jwt.ErrTokenMalformed
	}

	claims, err := a.parseToken(raw)
	if err != nil {
		return nil, err
	}
	epoch, err := passwordEpoch(c.Request.Context())
	if err != nil {
		return nil, err
	}
	if claims.Epoch != epoch {
		return nil, ErrStaleSession
	}
	return claims, nil
}

func (a *AuthMiddleware) startSession(c *gin.Context, epoch int64) bool {
	token, err := a.issueToken(epoch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
		return false
	}
	c.SetCookie(cookieName, token, int(sessionTTL.Seconds()), "/", "", a.secureCookie, true)
	return true
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	ctx := c.Request.Context()
	switch err := checkPassword(ctx, req.Password); {
	case errors.Is(err, ErrSetupRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "setup required"})
		return
	case errors.Is(err, ErrBadPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	epoch, err := passwordEpoch(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.startSession(c, epoch) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", a.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	if _, err := a.authenticate(c); err == nil {
		c.JSON(http.StatusOK, StatusResponse{Authenticated: true})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{SetupRequired: setupRequired(c.Request.Context())})
}

func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	ctx := c.Request.Context()
	if !setupRequired(ctx) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("password must be at least %d characters", minPassword)})
		return
	}

	epoch, err := storePassword(ctx, req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.startSession(c, epoch) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// ChangePasswordHandler replaces the admin password. Every other session
// is invalidated; the caller receives a fresh one.
func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := checkPassword(ctx, req.CurrentPassword); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBadPassword) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	epoch, err := storePassword(ctx, req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.startSession(c, epoch) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// RequireAuth rejects requests without a valid session.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ContextSession, claims)
		c.Next()
	}
}
