package api_test

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-pickup/internal/api"
	"ms-pickup/internal/auth"
	"ms-pickup/internal/feed"
	"ms-pickup/internal/interact"
	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/models"
	"ms-pickup/internal/sse"
	"ms-pickup/internal/store"
)

const testSecret = "board-test-secret"

// testClock lets the suite move the engine's notion of time.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testBoard struct {
	server *httptest.Server
	db     *store.DB
	clock  *testClock
	tokens map[string]string
}

func setupBoard(t *testing.T) *testBoard {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every pooled connection to :memory: is its own database; keep one so
	// the handlers and the board reconciler see the same data.
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.Ticket)(nil),
		(*models.User)(nil),
		(*models.RestaurantSettings)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}
	_, err = bunDB.ExecContext(ctx,
		`CREATE UNIQUE INDEX tickets_code_active_idx ON tickets (restaurant_id, code) WHERE soft_deleted = 0`)
	require.NoError(t, err)

	db := &store.DB{Bun: bunDB}

	users := []models.User{
		{ID: "courier-1", Email: "courier@example.com", FullName: "Courier One",
			Role: models.RoleCourier, Status: models.UserApproved, RestaurantID: "R1", CreatedAt: time.Now()},
		{ID: "staff-1", Email: "counter@example.com", FullName: "Counter One",
			Role: models.RoleRestaurant, Status: models.UserApproved, RestaurantID: "R1", CreatedAt: time.Now()},
		{ID: "staff-2", Email: "counter2@example.com", FullName: "Counter Two",
			Role: models.RoleRestaurant, Status: models.UserApproved, RestaurantID: "R2", CreatedAt: time.Now()},
		{ID: "admin-1", Email: "admin@example.com", FullName: "Admin",
			Role: models.RoleAdmin, Status: models.UserApproved, CreatedAt: time.Now()},
	}
	for i := range users {
		_, err := bunDB.NewInsert().Model(&users[i]).Exec(ctx)
		require.NoError(t, err)
	}

	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	engine := lifecycle.NewEngine(db, nil, nil)
	engine.Now = clock.Now

	controller := interact.NewController(engine, nil)
	controller.ArmTimeout = 5 * time.Second
	t.Cleanup(controller.Close)

	emitter := sse.NewBoardEmitter()
	boardCtx, stopBoards := context.WithCancel(context.Background())
	t.Cleanup(stopBoards)
	boards := feed.NewManager(boardCtx, func() *feed.Reconciler {
		rec := feed.NewReconciler(db, nil, nil)
		rec.Interval = 50 * time.Millisecond
		rec.Now = clock.Now
		rec.OnUpdate = emitter.Emit
		return rec
	})

	handler := &api.Handler{Engine: engine, Interact: controller, Store: db,
		Boards: boards, Emitter: emitter}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(auth.SecretVerifier{Secret: testSecret}, db))
		handler.Routes(r)
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	tokens := make(map[string]string)
	for _, u := range users {
		tok, err := auth.IssueToken(u.ID, testSecret)
		require.NoError(t, err)
		tokens[u.ID] = tok
	}

	return &testBoard{server: server, db: db, clock: clock, tokens: tokens}
}

func (b *testBoard) request(t *testing.T, userID, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, b.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+b.tokens[userID])
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeTicket(t *testing.T, resp *http.Response) models.Ticket {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Data models.Ticket `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Data
}

func decodeTickets(t *testing.T, resp *http.Response) []models.Ticket {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Data []models.Ticket `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Data
}

func TestTicketFlowThroughTheWindow(t *testing.T) {
	board := setupBoard(t)

	// Courier submits a code; the ticket lands pending on the board.
	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "A1B2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeTicket(t, resp)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "R1", created.RestaurantID)

	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active := decodeTickets(t, resp)
	require.Len(t, active, 1)
	assert.Equal(t, "A1B2", active[0].Code)

	// Counter staff acknowledges; the ticket stays visible, now confirmed.
	resp = board.request(t, "staff-1", http.MethodPost, "/tickets/"+created.ID+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acked := decodeTicket(t, resp)
	assert.Equal(t, models.StatusConfirmed, acked.Status)
	assert.Equal(t, "staff-1", acked.AcknowledgedBy)

	board.clock.Advance(59 * time.Second)
	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/", nil)
	require.Len(t, decodeTickets(t, resp), 1)

	// Past the window the ticket silently leaves the active view but stays
	// in storage untouched.
	board.clock.Advance(2 * time.Second)
	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/", nil)
	assert.Empty(t, decodeTickets(t, resp))

	stored, err := board.db.GetTicketByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
	assert.False(t, stored.SoftDeleted)
}

func TestCreateTicketValidation(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "a1b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Counter staff cannot submit codes.
	resp = board.request(t, "staff-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "A1B2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Duplicate active code at the same restaurant conflicts.
	resp = board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "C3D4"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "C3D4"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestPendingLimitEndToEnd(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "staff-1", http.MethodPut, "/settings/R1/",
		map[string]interface{}{"pending_limit_enabled": true, "pending_limit": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	for _, code := range []string{"AAA1", "AAA2"} {
		resp = board.request(t, "courier-1", http.MethodPost, "/tickets/",
			map[string]string{"code": code})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp = board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "AAA3"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}

func TestTapAcknowledgesAndDeletes(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "B2C3"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := decodeTicket(t, resp)

	// First tap on a pending ticket acknowledges it.
	resp = board.request(t, "staff-1", http.MethodPost, "/board/tap",
		map[string]string{"ticket_id": ticket.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tap struct {
		Data interact.TapResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tap))
	resp.Body.Close()
	assert.Equal(t, interact.OutcomeAcknowledged, tap.Data.Outcome)

	// A tap on the confirmed ticket arms it, the next one deletes.
	resp = board.request(t, "staff-1", http.MethodPost, "/board/tap",
		map[string]string{"ticket_id": ticket.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tap))
	resp.Body.Close()
	assert.Equal(t, interact.OutcomeArmed, tap.Data.Outcome)
	assert.NotEmpty(t, tap.Data.Hint)

	resp = board.request(t, "staff-1", http.MethodPost, "/board/tap",
		map[string]string{"ticket_id": ticket.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tap))
	resp.Body.Close()
	assert.Equal(t, interact.OutcomeDeleted, tap.Data.Outcome)

	stored, err := board.db.GetTicketByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, stored.SoftDeleted)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
}

func TestDeletedTicketLingersThenMovesToHistory(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "D4E5"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := decodeTicket(t, resp)

	resp = board.request(t, "staff-1", http.MethodDelete, "/tickets/"+ticket.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Freshly deleted tickets linger on the active board inside the window.
	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/", nil)
	active := decodeTickets(t, resp)
	require.Len(t, active, 1)
	assert.True(t, active[0].SoftDeleted)

	board.clock.Advance(61 * time.Second)
	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/", nil)
	assert.Empty(t, decodeTickets(t, resp))

	// History keeps it forever.
	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/history", nil)
	history := decodeTickets(t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "D4E5", history[0].Code)

	// Deleting twice conflicts.
	resp = board.request(t, "staff-1", http.MethodDelete, "/tickets/"+ticket.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRestoreIsAdminOnly(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "E5F6"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := decodeTicket(t, resp)

	resp = board.request(t, "staff-1", http.MethodDelete, "/tickets/"+ticket.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = board.request(t, "staff-1", http.MethodPost, "/tickets/"+ticket.ID+"/restore", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = board.request(t, "admin-1", http.MethodPost, "/tickets/"+ticket.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	restored := decodeTicket(t, resp)
	assert.False(t, restored.SoftDeleted)
	assert.Nil(t, restored.DeletedAt)

	// Restoring an active ticket conflicts.
	resp = board.request(t, "admin-1", http.MethodPost, "/tickets/"+ticket.ID+"/restore", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestScopeIsolationAcrossRestaurants(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "F6A7"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := decodeTicket(t, resp)

	// R2 staff see nothing of R1 and cannot touch its tickets.
	resp = board.request(t, "staff-2", http.MethodGet, "/tickets/", nil)
	assert.Empty(t, decodeTickets(t, resp))

	resp = board.request(t, "staff-2", http.MethodPost, "/tickets/"+ticket.ID+"/acknowledge", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Asking for a foreign scope explicitly is forbidden.
	resp = board.request(t, "staff-2", http.MethodGet, "/tickets/?restaurant_id=R1", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Admins cross restaurants freely.
	resp = board.request(t, "admin-1", http.MethodGet, "/tickets/?restaurant_id=R1", nil)
	require.Len(t, decodeTickets(t, resp), 1)
	resp = board.request(t, "admin-1", http.MethodGet, "/tickets/", nil)
	require.Len(t, decodeTickets(t, resp), 1)
}

func TestTicketQREndpoint(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "G7B8"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := decodeTicket(t, resp)

	resp = board.request(t, "staff-1", http.MethodGet, "/tickets/"+ticket.ID+"/qr", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	resp.Body.Close()

	resp = board.request(t, "staff-2", http.MethodGet, "/tickets/"+ticket.ID+"/qr", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestUserAdministration(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "staff-1", http.MethodGet, "/users/", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = board.request(t, "admin-1", http.MethodGet, "/users/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data []models.User `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list.Data, 4)

	// Approve-and-assign in one patch.
	resp = board.request(t, "admin-1", http.MethodPatch, "/users/courier-1",
		map[string]string{"status": models.UserApproved, "restaurant_id": "R2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	user, err := board.db.GetUserByID(context.Background(), "courier-1")
	require.NoError(t, err)
	assert.Equal(t, "R2", user.RestaurantID)
}

func TestBoardStreamDeliversSnapshots(t *testing.T) {
	board := setupBoard(t)

	resp := board.request(t, "courier-1", http.MethodPost, "/tickets/",
		map[string]string{"code": "H8C9"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := decodeTicket(t, resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		board.server.URL+"/board/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+board.tokens["staff-1"])

	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	// The reconciler for the scope starts on first connect; read events
	// until one carries the ticket.
	var snap feed.Snapshot
	found := false
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		if len(snap.Tickets) == 1 {
			found = true
			break
		}
	}
	require.True(t, found, "no snapshot with the created ticket arrived")
	assert.Equal(t, "R1", snap.Scope)
	assert.Equal(t, ticket.ID, snap.Tickets[0].ID)
	assert.Equal(t, models.StatusPending, snap.Tickets[0].Status)
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	board := setupBoard(t)

	req, err := http.NewRequest(http.MethodGet, board.server.URL+"/tickets/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
