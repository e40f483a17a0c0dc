package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/qcache/internal/pkg/errcode"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

func TestHandleErrorCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("embed candidate: %w", appErr.ErrEmbeddingUnavailable), errcode.ErrEmbeddingUnavailable},
		{fmt.Errorf("summary x: %w", appErr.ErrNotFound), errcode.ErrNotFound},
		{appErr.ErrQueueFull, errcode.ErrQueueFull},
		{errors.New("boom"), errcode.ErrInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/cache/update", nil)
		handleError(c, tc.err)

		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Code int `json:"code"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Equal(t, tc.code, out.Code, tc.err.Error())
	}
}
