package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/offline/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwaggerAccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		allowed    []string
		remoteAddr string
		wantStatus int
	}{
		{"empty list allows all", nil, "203.0.113.7:5000", http.StatusOK},
		{"exact ip", []string{"10.0.0.5"}, "10.0.0.5:5000", http.StatusOK},
		{"cidr range", []string{"192.168.1.0/24"}, "192.168.1.42:5000", http.StatusOK},
		{"outside list", []string{"10.0.0.5", "192.168.1.0/24"}, "10.0.0.6:5000", http.StatusForbidden},
		{"only invalid entries", []string{"not-an-ip"}, "10.0.0.5:5000", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/swagger/*any", SwaggerAccess(tt.allowed), func(c *gin.Context) {
				c.String(http.StatusOK, "docs")
			})

			req := httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusForbidden {
				var resp dto.Response
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, dto.ErrCodeForbidden, resp.Error.Code)
			}
		})
	}
}
