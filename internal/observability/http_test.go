package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPFromRequestPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Forwarded-For", " 10.0.0.7 , 172.16.0.1")
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "192.168.1.4:5555"
	assert.Equal(t, "192.168.1.4", IPFromRequest(req))
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Request-Id", "req-1")
	assert.Equal(t, "req-1", RequestIDFromRequest(req))

	generated := RequestIDFromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.Len(t, generated, 36)
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}
