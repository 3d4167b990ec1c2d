package idempotency_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tithi/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func setupRouter(t *testing.T, handler gin.HandlerFunc) (*gin.Engine, idempotency.Service) {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:idem_%s_%d?mode=memory&cache=shared", t.Name(), testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&idempotency.Record{}))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	svc := idempotency.NewService(idempotency.Params{DB: db, Log: zap.NewNop(), GenID: node})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/action", idempotency.Middleware(svc, zap.NewNop(), "test.action"), handler)
	return r, svc
}

func post(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/action", nil)
	if key != "" {
		req.Header.Set(idempotency.Header, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMissingKeyRejected(t *testing.T) {
	r, _ := setupRouter(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := post(r, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), idempotency.Header)
}

func TestReplayIsByteIdentical(t *testing.T) {
	calls := 0
	r, _ := setupRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := post(r, "key-1")
	assert.Equal(t, http.StatusOK, first.Code)

	second := post(r, "key-1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	// A different key runs the handler again.
	third := post(r, "key-2")
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, first.Body.String(), third.Body.String())
}

func TestDeclineReplaysAsIs(t *testing.T) {
	calls := 0
	r, _ := setupRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment failed"})
	})

	first := post(r, "key-1")
	assert.Equal(t, http.StatusPaymentRequired, first.Code)

	second := post(r, "key-1")
	assert.Equal(t, http.StatusPaymentRequired, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestServerErrorIsNotRecorded(t *testing.T) {
	calls := 0
	r, _ := setupRouter(t, func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := post(r, "key-1")
	assert.Equal(t, http.StatusInternalServerError, first.Code)

	// The client retries with the same key and the action runs again.
	second := post(r, "key-1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 2, calls)

	// The successful outcome is what gets recorded.
	third := post(r, "key-1")
	assert.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, second.Body.String(), third.Body.String())
	assert.Equal(t, 2, calls)
}

func TestInFlightKeyConflicts(t *testing.T) {
	calls := 0
	r, svc := setupRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	// Another request holds the reservation for this key.
	ctx := context.Background()
	_, owned, err := svc.Reserve(ctx, "key-1", "test.action")
	require.NoError(t, err)
	require.True(t, owned)

	w := post(r, "key-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, calls)

	// Releasing the reservation lets the key through again.
	require.NoError(t, svc.Release(ctx, "key-1", "test.action"))
	w = post(r, "key-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
}

func TestReserveLoserSeesWinnerRecord(t *testing.T) {
	_, svc := setupRouter(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	ctx := context.Background()
	_, owned, err := svc.Reserve(ctx, "key-1", "test.action")
	require.NoError(t, err)
	require.True(t, owned)

	rec, owned, err := svc.Reserve(ctx, "key-1", "test.action")
	require.NoError(t, err)
	assert.False(t, owned)
	require.NotNil(t, rec)
	assert.Zero(t, rec.StatusCode)

	require.NoError(t, svc.Complete(ctx, "key-1", "test.action", http.StatusOK, []byte(`{"ok":true}`)))

	rec, owned, err = svc.Reserve(ctx, "key-1", "test.action")
	require.NoError(t, err)
	assert.False(t, owned)
	require.NotNil(t, rec)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(rec.ResponseBody))
}
