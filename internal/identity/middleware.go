package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxUserClaims = "identity.user_claims"

func bearer(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// RequireUserToken rejects requests without a valid bearer token.
func RequireUserToken(tokens *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		c.Set(ctxUserClaims, claims)
		c.Next()
	}
}

// OptionalUserToken attaches claims when a valid bearer token is present and
// lets every request through. A nil verifier disables it.
func OptionalUserToken(tokens *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens != nil {
			if tokenStr, ok := bearer(c); ok {
				if claims, err := tokens.Verify(tokenStr); err == nil {
					c.Set(ctxUserClaims, claims)
				}
			}
		}
		c.Next()
	}
}

// UserClaimsFromCtx returns the verified claims, or nil.
func UserClaimsFromCtx(c *gin.Context) *UserClaims {
	v, _ := c.Get(ctxUserClaims)
	claims, _ := v.(*UserClaims)
	return claims
}

// UserIDFromCtx returns the verified subject, or "".
func UserIDFromCtx(c *gin.Context) string {
	if claims := UserClaimsFromCtx(c); claims != nil {
		return claims.UserID()
	}
	return ""
}
