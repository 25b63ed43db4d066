package httpapi

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/agentbox/internal/model"
)

func TestStatusFor(t *testing.T) {
	tests := map[string]struct {
		err     error
		expCode int
	}{
		"Not found should be 404.":         {err: model.ErrNotFound, expCode: http.StatusNotFound},
		"Not valid should be 400.":         {err: model.ErrNotValid, expCode: http.StatusBadRequest},
		"Missing config should be 400.":    {err: model.ErrMissingConfig, expCode: http.StatusBadRequest},
		"Already exists should be 409.":    {err: model.ErrAlreadyExists, expCode: http.StatusConflict},
		"Sandbox gone should be 410.":      {err: model.ErrSandboxGone, expCode: http.StatusGone},
		"Rate limited should be 429.":      {err: model.ErrRateLimited, expCode: http.StatusTooManyRequests},
		"Provision timeout should be 504.": {err: model.ErrProvisionTimeout, expCode: http.StatusGatewayTimeout},
		"Wrapped errors should be mapped.": {err: fmt.Errorf("a: %w", fmt.Errorf("b: %w", model.ErrSandboxGone)), expCode: http.StatusGone},
		"Unknown errors should be 500.":    {err: fmt.Errorf("boom"), expCode: http.StatusInternalServerError},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expCode, statusFor(test.err))
		})
	}
}
