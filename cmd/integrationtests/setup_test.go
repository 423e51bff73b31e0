package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	bidding "auction-marketplace/internal/biddingService"
	"auction-marketplace/internal/broadcast"
	"auction-marketplace/internal/identity"
	lifecycle "auction-marketplace/internal/lifecycleService"
	"auction-marketplace/internal/repository"
	"auction-marketplace/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "integration-secret-0123456789"
	adminEmail    = "admin@example.com"
	adminPassword = "admin-password"
	userPassword  = "correct-horse"
)

// testEnv is a fully wired server backed by the in-memory store
type testEnv struct {
	router     *gin.Engine
	hub        *broadcast.Hub
	repo       *repository.MemoryRepo
	adminToken string
}

// SetupTestEnv wires the router exactly as main does, with a running hub and a bootstrap admin.
func SetupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	idSvc, err := identity.NewService(repo, identity.Config{Secret: testSecret})
	require.NoError(t, err)
	_, err = idSvc.EnsureAdmin(context.Background(), adminEmail, adminPassword, "Admin")
	require.NoError(t, err)

	hub := broadcast.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	router := server.SetupRouter(server.Dependencies{
		Bidding:  bidding.NewBiddingService(repo),
		Auctions: lifecycle.NewAuctionService(repo),
		Identity: idSvc,
		Hub:      hub,
	})

	env := &testEnv{router: router, hub: hub, repo: repo}
	env.adminToken = env.Login(t, adminEmail, adminPassword)
	return env
}

// ExecuteRequestAndParse executes an HTTP request on the router and parses the JSON envelope
func (e *testEnv) ExecuteRequestAndParse(t *testing.T, method, url, token string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		require.NoError(t, err, "failed to marshal body")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to unmarshal response")
	}
	return resp, w
}

// Login returns a bearer token for the given credentials
func (e *testEnv) Login(t *testing.T, email, password string) string {
	t.Helper()

	resp, w := e.ExecuteRequestAndParse(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return resp["data"].(map[string]any)["token"].(string)
}

// RegisterDealer creates a dealer account and returns its user id and token
func (e *testEnv) RegisterDealer(t *testing.T, email, name string) (string, string) {
	t.Helper()

	resp, w := e.ExecuteRequestAndParse(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": userPassword,
		"name":     name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	userID := resp["data"].(map[string]any)["user_id"].(string)
	return userID, e.Login(t, email, userPassword)
}

// CreateAuction creates an auction as the admin and returns its id
func (e *testEnv) CreateAuction(t *testing.T, title string, startingPrice float64) string {
	t.Helper()

	resp, w := e.ExecuteRequestAndParse(t, http.MethodPost, "/api/auctions", e.adminToken, map[string]any{
		"title":          title,
		"starting_price": startingPrice,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return resp["data"].(map[string]any)["auction_id"].(string)
}

// StartAuction moves an auction to ACTIVE as the admin
func (e *testEnv) StartAuction(t *testing.T, auctionID string) {
	t.Helper()

	_, w := e.ExecuteRequestAndParse(t, http.MethodPost, fmt.Sprintf("/api/auctions/%s/start", auctionID), e.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// PlaceBid submits a bid and returns the parsed response
func (e *testEnv) PlaceBid(t *testing.T, auctionID, token string, amount any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	return e.ExecuteRequestAndParse(t, http.MethodPost, fmt.Sprintf("/api/auctions/%s/bid", auctionID), token, map[string]any{
		"amount": amount,
	})
}
