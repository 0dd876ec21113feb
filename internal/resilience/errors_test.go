package resilience

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", eris.New("boom"), false},
		{"transient wrapper", NewTransientError(eris.New("503"), 503), true},
		{"wrapped transient", fmt.Errorf("send: %w", NewTransientError(eris.New("502"), 502)), true},
		{"connection reset string", eris.New("read tcp: connection reset by peer"), true},
		{"dns failure string", eris.New("dial tcp: lookup hooks.internal: no such host"), true},
		{"client error string", eris.New("webhook returned status 400"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
