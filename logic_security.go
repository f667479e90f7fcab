package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func containsString(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}

func buildPublicURL(baseURL, path string) string {
	if strings.HasPrefix(path, "/") {
		return strings.TrimRight(baseURL, "/") + path
	}
	return strings.TrimRight(baseURL, "/") + "/" + path
}

func normalizeOperatorEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *App) createOperatorSessionToken(session OperatorSession) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"email": session.Email,
		"role":  session.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(operatorSessionDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.AppSigningSecret))
}

func (a *App) verifyOperatorSessionToken(tokenString string) (*OperatorSession, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.cfg.AppSigningSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	if email == "" || !containsString(operatorRoles, role) {
		return nil, fmt.Errorf("invalid session payload")
	}
	return &OperatorSession{Email: email, Role: role}, nil
}

func generatePublicID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func anyMapToJSON(value map[string]any) []byte {
	if value == nil {
		value = map[string]any{}
	}
	encoded, _ := json.Marshal(value)
	return encoded
}

func jsonToAnyMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{}
	}
	return decoded
}

func (a *App) checkRateLimit(key string, maxRequests int, window time.Duration, now time.Time) bool {
	a.rateLimiterMu.Lock()
	defer a.rateLimiterMu.Unlock()

	if a.rateBuckets == nil {
		a.rateBuckets = make(map[string]rateBucket)
	}
	bucket, ok := a.rateBuckets[key]
	if !ok || now.Sub(bucket.start) >= window {
		a.rateBuckets[key] = rateBucket{start: now, count: 1}
		return true
	}
	bucket.count++
	a.rateBuckets[key] = bucket
	return bucket.count <= maxRequests
}

// startHousekeeping prunes expired rate-limit buckets and staged import
// batches until ctx is cancelled.
func (a *App) startHousekeeping(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				a.pruneRateLimiterState(now)
				if a.imports != nil {
					if removed := a.imports.prune(now); removed > 0 {
						a.log.Info("expired import batches pruned", "count", removed)
					}
				}
			}
		}
	}()
}

func (a *App) pruneRateLimiterState(now time.Time) {
	a.rateLimiterMu.Lock()
	defer a.rateLimiterMu.Unlock()
	for key, bucket := range a.rateBuckets {
		if now.Sub(bucket.start) >= loginRateLimitWindow {
			delete(a.rateBuckets, key)
		}
	}
}

func (a *App) requireOperatorSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(operatorCookieName)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Operator session required"})
			c.Abort()
			return
		}
		session, err := a.verifyOperatorSessionToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Operator session required"})
			c.Abort()
			return
		}
		c.Set("operatorSession", *session)
		c.Next()
	}
}

func (a *App) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := getOperatorSession(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Operator session required"})
			c.Abort()
			return
		}
		if session.Role != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func getOperatorSession(c *gin.Context) (OperatorSession, error) {
	value, ok := c.Get("operatorSession")
	if !ok {
		return OperatorSession{}, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Operator session required"}
	}
	session, ok := value.(OperatorSession)
	if !ok {
		return OperatorSession{}, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Operator session required"}
	}
	return session, nil
}
