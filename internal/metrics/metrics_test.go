package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{"duelyard_active_duels", "duelyard_arenas_in_use"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}

	DuelsTotal.WithLabelValues("forfeit").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), `duelyard_duels_total{outcome="forfeit"}`) {
		t.Error("Expected duelyard_duels_total after incrementing")
	}
}

func TestGaugeWrite(t *testing.T) {
	ArenasInUse.Set(0)
	ArenasInUse.Inc()
	ArenasInUse.Inc()
	ArenasInUse.Dec()

	var m dto.Metric
	if err := ArenasInUse.Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Errorf("arenas in use = %v, want 1", got)
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/arenas", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/arenas", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var m dto.Metric
	if err := HTTPRequestsTotal.WithLabelValues("GET", "/v1/arenas", "2xx").Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetCounter().GetValue() < 1 {
		t.Error("expected request counter to be incremented")
	}
}
