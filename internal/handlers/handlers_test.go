package handlers

import (
	"companion-back/internal/auth"
	"companion-back/internal/database"
	"companion-back/internal/middleware"
	"companion-back/internal/models"
	"companion-back/internal/store"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	signErr error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeFiles) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[name]
	return ok, nil
}

func (f *fakeFiles) UploadFromReader(_ context.Context, name string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
	f.types[name] = contentType
	return nil
}

func (f *fakeFiles) SignedUploadURL(_ context.Context, name string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://minio.local/put/" + name, nil
}

func (f *fakeFiles) SignedReadURL(_ context.Context, name string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://minio.local/get/" + name, nil
}

var errSign = errors.New("signing unavailable")

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *fakeDispatcher) Dispatch(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
}

func (d *fakeDispatcher) Wait() {}

type testEnv struct {
	store  *store.Store
	files  *fakeFiles
	tokens *auth.TokenManager
	log    *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &testEnv{
		store:  store.New(db),
		files:  newFakeFiles(),
		tokens: auth.NewTokenManager("test-secret"),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e *testEnv) seedUser(t *testing.T, phone string) *models.User {
	t.Helper()
	user := &models.User{PhoneE164: phone, Password: "x", Name: "Mona"}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user
}

// asUser stands in for AuthMiddleware.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
