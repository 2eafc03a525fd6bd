package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"soundvault/server/common/transport/httpresp"
)

type tokenAuth interface {
	ParseAuthContext(token string) (subject, role string, err error)
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		subject, role, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_subject", subject)
		c.Set("auth_role", role)
		c.Next()
	}
}
