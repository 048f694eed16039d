package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-ticket/internal/status"
)

func TestTicketError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", status.ErrTicketNotFound, http.StatusNotFound},
		{"expired", status.ErrAlreadyExpired, http.StatusConflict},
		{"not expired", status.ErrNotExpired, http.StatusConflict},
		{"in progress without ticket", status.ErrAlreadyInProgress, http.StatusConflict},
		{"wrapped transient", fmt.Errorf("%w: find: timeout", status.ErrTransientStore), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *router.ApiError
			require.ErrorAs(t, ticketError(tt.err), &apiErr)
			assert.Equal(t, tt.want, apiErr.Status)
		})
	}
}
