package projection

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/aevon-lab/tally/internal/api/v1"
	httperr "github.com/aevon-lab/tally/internal/core/errors"
)

func TestService_HandleQueryMetrics_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		path           string
		reader         stubReader
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "success returns 200",
			path:           "/v1/metrics/image/42",
			reader:         stubReader{records: testRecords()},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown processor returns 404",
			path:           "/v1/metrics/video/42",
			expectedStatus: http.StatusNotFound,
			expectedType:   httperr.HttpUnknownProcessorError,
		},
		{
			name:           "invalid id returns 400",
			path:           "/v1/metrics/image/abc",
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidRequestError,
		},
		{
			name:           "invalid timeframe returns 400",
			path:           "/v1/metrics/image/42?timeframe=Decade",
			reader:         stubReader{records: testRecords()},
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidRequestError,
		},
		{
			name:           "missing entity returns 404",
			path:           "/v1/metrics/image/7",
			reader:         stubReader{records: testRecords()},
			expectedStatus: http.StatusNotFound,
			expectedType:   httperr.HttpNotFoundError,
		},
		{
			name:           "store error returns 500",
			path:           "/v1/metrics/image/42",
			reader:         stubReader{err: errors.New("replica down")},
			expectedStatus: http.StatusInternalServerError,
			expectedType:   httperr.HttpInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.reader, stubCursors{cursor: testCursor})
			r := gin.New()
			svc.RegisterRoutes(r)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			require.Equal(t, tt.expectedStatus, resp.Code)
			if tt.expectedType == "" {
				var body v1.MetricsResponse
				require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
				require.Equal(t, "image", body.Processor)
				require.Len(t, body.Rows, 5)
				return
			}
			var body httperr.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			require.Equal(t, tt.expectedType, body.ErrorType)
		})
	}
}
