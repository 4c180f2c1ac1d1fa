package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
)

func TestRespondErrMapsTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.Validation("bad client_id"), http.StatusBadRequest, "validation_failed"},
		{apperrors.Conflict("client_id used"), http.StatusConflict, "conflict"},
		{apperrors.NotFound("node x"), http.StatusNotFound, "not_found"},
		{apperrors.Transient(errors.New("timeout"), "create"), http.StatusServiceUnavailable, "transient"},
		{errors.New("boom"), http.StatusInternalServerError, "append_failed"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		RespondErr(c, tc.err, "append_failed")
		if rec.Code != tc.status {
			t.Fatalf("%v: status=%d want %d", tc.err, rec.Code, tc.status)
		}
		var env ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Error.Code != tc.code || env.Error.Message != tc.err.Error() {
			t.Fatalf("%v: envelope=%+v", tc.err, env)
		}
	}
}
