package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	am := NewAuthMiddleware(logger.Nop(), "s3cret")

	good, err := SignToken("s3cret", "cli", time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	wrongKey, _ := SignToken("other", "cli", time.Minute)
	expired, _ := SignToken("s3cret", "cli", -time.Minute)

	cases := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + good, "", http.StatusOK},
		{"query token", "", good, http.StatusOK},
		{"wrong key", "Bearer " + wrongKey, "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/p", am.RequireAuth(), func(c *gin.Context) {
				if c.GetString(ContextKeySubject) != "cli" {
					t.Errorf("subject=%q", c.GetString(ContextKeySubject))
				}
				c.Status(http.StatusOK)
			})
			url := "/p"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status=%d want %d", rec.Code, tc.status)
			}
		})
	}
}
