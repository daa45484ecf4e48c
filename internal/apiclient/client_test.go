package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI accepts one valid access token at a time and rotates it on
// refresh, like the real auth endpoints.
type fakeAPI struct {
	mu        sync.Mutex
	valid     string
	cookie    string
	refreshes atomic.Int32
	failNext  bool

	lastBody []byte
	lastKey  string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["password"] != "secret-pass" {
			writeErr(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		f.mu.Lock()
		f.valid, f.cookie = "access-1", "refresh-1"
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "refresh-1", Path: "/api/v1/auth", HttpOnly: true})
		writeData(w, http.StatusOK, map[string]string{"access_token": "access-1", "token_type": "Bearer"})
	})

	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		n := f.refreshes.Add(1)
		c, err := r.Cookie("refresh_token")
		f.mu.Lock()
		defer f.mu.Unlock()
		if err != nil || c.Value != f.cookie || f.failNext {
			writeErr(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		f.valid = "access-" + string(rune('1'+n))
		f.cookie = "refresh-" + string(rune('1'+n))
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: f.cookie, Path: "/api/v1/auth", HttpOnly: true})
		writeData(w, http.StatusOK, map[string]string{"access_token": f.valid})
	})

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			ok := r.Header.Get("Authorization") == "Bearer "+f.valid
			f.mu.Unlock()
			if !ok {
				writeErr(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("GET /api/v1/wallets/wallet/{id}/balance", authed(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, Balance{WalletID: uuid.MustParse(r.PathValue("id")), Currency: "NGN", Balance: 5000, HeldBalance: 1000, AvailableBalance: 4000})
	}))

	mux.HandleFunc("POST /api/v1/transactions/transfer", authed(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastBody, f.lastKey = body, r.Header.Get("Idempotency-Key")
		f.mu.Unlock()
		var in struct {
			Amount int64 `json:"amount"`
		}
		_ = json.Unmarshal(body, &in)
		if in.Amount > 5000 {
			writeErr(w, http.StatusUnprocessableEntity, "insufficient_funds")
			return
		}
		writeData(w, http.StatusCreated, TransferResult{
			Transaction: Transaction{ID: uuid.New(), Amount: in.Amount, Status: "completed"},
			From:        BalanceChange{BalanceBefore: 5000, BalanceAfter: 5000 - in.Amount},
		})
	}))

	mux.HandleFunc("POST /api/v1/wallets/wallet/{id}/hold", authed(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusCreated, Hold{ID: uuid.New(), WalletID: uuid.MustParse(r.PathValue("id")), Amount: 700, Reason: "manual", Status: "active"})
	}))

	mux.HandleFunc("POST /api/v1/wallets/wallet/{id}/hold/{holdId}/release", authed(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, Hold{ID: uuid.MustParse(r.PathValue("holdId")), Status: "released"})
	}))

	return mux
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeData(w, status, map[string]any{"code": code, "message": code, "retryable": false})
}

// expire invalidates the current access token, as if it timed out.
func (f *fakeAPI) expire() {
	f.mu.Lock()
	f.valid = "expired-" + f.valid
	f.mu.Unlock()
}

func setup(t *testing.T) (*fakeAPI, *Client, *MemoryTokenStore) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	tokens := &MemoryTokenStore{}
	c, err := New(srv.URL, tokens)
	require.NoError(t, err)
	require.NoError(t, c.Login(context.Background(), "ada@test.com", "secret-pass"))
	return api, c, tokens
}

func TestClient_Login(t *testing.T) {
	_, c, tokens := setup(t)
	assert.Equal(t, "access-1", tokens.AccessToken())

	err := c.Login(context.Background(), "ada@test.com", "wrong")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_credentials", apiErr.Code)
	assert.NotErrorIs(t, err, ErrSessionExpired)
}

func TestClient_WalletBalance(t *testing.T) {
	_, c, _ := setup(t)
	walletID := uuid.New()

	bal, err := c.WalletBalance(context.Background(), walletID)
	require.NoError(t, err)
	assert.Equal(t, walletID, bal.WalletID)
	assert.Equal(t, int64(4000), bal.AvailableBalance)
}

func TestClient_RefreshesOnUnauthorized(t *testing.T) {
	api, c, tokens := setup(t)
	api.expire()

	res, err := c.Transfer(context.Background(), TransferInput{
		FromWalletID: uuid.New(),
		ToWalletID:   uuid.New(),
		Amount:       1200,
		PIN:          "1234",
	}, "transfer-key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3800), res.From.BalanceAfter)
	assert.Equal(t, int32(1), api.refreshes.Load())
	assert.Equal(t, "access-2", tokens.AccessToken())

	// The replayed request carries the original body and key.
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "transfer-key-1", api.lastKey)
	assert.Contains(t, string(api.lastBody), `"amount":1200`)
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	api, c, _ := setup(t)
	api.expire()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.WalletBalance(context.Background(), uuid.New())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	// Late arrivals may see the already-rotated token and skip refreshing,
	// but the refresh cookie rotates, so a second refresh would have failed.
	assert.Equal(t, int32(1), api.refreshes.Load())
}

func TestClient_SessionExpired(t *testing.T) {
	api, c, _ := setup(t)
	api.expire()
	api.mu.Lock()
	api.failNext = true
	api.mu.Unlock()

	_, err := c.WalletBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestClient_APIErrors(t *testing.T) {
	_, c, _ := setup(t)

	_, err := c.Transfer(context.Background(), TransferInput{FromWalletID: uuid.New(), ToWalletID: uuid.New(), Amount: 9000}, "")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "insufficient_funds", apiErr.Code)
}

func TestClient_Holds(t *testing.T) {
	_, c, _ := setup(t)
	walletID := uuid.New()

	h, err := c.PlaceHold(context.Background(), walletID, 700, "ref-1", "rent", "")
	require.NoError(t, err)
	assert.Equal(t, walletID, h.WalletID)
	assert.Equal(t, "active", h.Status)

	released, err := c.ReleaseHold(context.Background(), walletID, h.ID, "")
	require.NoError(t, err)
	assert.Equal(t, h.ID, released.ID)
	assert.Equal(t, "released", released.Status)
}
