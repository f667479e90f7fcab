package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func (a *App) operatorLoginHandler(c *gin.Context) {
	if !a.checkRateLimit("login:"+c.ClientIP(), loginRateLimitRequests, loginRateLimitWindow, a.clock()) {
		writeAPIError(c, &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "Too many login attempts, try again later"})
		return
	}

	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid login payload"})
		return
	}
	email := normalizeOperatorEmail(payload.Email)

	role, err := a.authenticateOperatorCredentials(c.Request.Context(), email, payload.Password)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	if err := a.startOperatorSession(c, OperatorSession{Email: email, Role: role}); err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("operator logged in", "email", email, "role", role)
	c.JSON(http.StatusOK, gin.H{"email": email, "role": role})
}

func (a *App) operatorLogoutHandler(c *gin.Context) {
	a.clearOperatorSession(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *App) operatorSessionHandler(c *gin.Context) {
	token, err := c.Cookie(operatorCookieName)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Operator session required"})
		return
	}
	session, err := a.verifyOperatorSessionToken(token)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Operator session required"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (a *App) authenticateOperatorCredentials(ctx context.Context, email string, password string) (string, error) {
	invalid := &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
	if email == "" || password == "" {
		return "", invalid
	}
	creds, err := a.store.FindOperator(ctx, email)
	if err != nil {
		return "", err
	}
	if creds == nil || !creds.IsActive || creds.PasswordHash == "" {
		return "", invalid
	}
	if bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)) != nil {
		return "", invalid
	}
	return creds.Role, nil
}

func (a *App) startOperatorSession(c *gin.Context, session OperatorSession) error {
	token, err := a.createOperatorSessionToken(session)
	if err != nil {
		return err
	}
	secure := strings.EqualFold(a.cfg.Env, "production")
	c.SetCookie(operatorCookieName, token, int(operatorSessionDuration.Seconds()), "/", "", secure, true)
	return nil
}

func (a *App) clearOperatorSession(c *gin.Context) {
	secure := strings.EqualFold(a.cfg.Env, "production")
	c.SetCookie(operatorCookieName, "", -1, "/", "", secure, true)
}
