package celebrations

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/internal/http/middleware"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/notify"
	"github.com/tendant/simple-stars/pkg/progress"
)

type stubService struct {
	mu      sync.Mutex
	member  bool
	resumes int
}

func (s *stubService) Snapshot(ctx context.Context, userID, groupID uuid.UUID) (*progress.Snapshot, error) {
	if !s.member {
		return nil, domain.ErrMembershipNotFound
	}
	return &progress.Snapshot{Membership: domain.NewMembership(userID, groupID, time.Now())}, nil
}

func (s *stubService) Resume(ctx context.Context, userID, groupID uuid.UUID, sink celebration.Sink) error {
	if !s.member {
		return domain.ErrMembershipNotFound
	}
	s.mu.Lock()
	s.resumes++
	s.mu.Unlock()
	sink.Enqueue(celebration.BadgeUnlocked(groupID, domain.Badge{ID: "first-star", Name: "First Star", UnlockStars: 1}))
	return nil
}

func newTestRouter(h *Handler, userID uuid.UUID) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/groups/{groupID}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), userID)))
			})
		})
		h.RegisterRoutes(r, func(next http.Handler) http.Handler { return next })
	})
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_Current(t *testing.T) {
	mock := clock.NewMock()
	hub := celebration.NewHub(celebration.HubConfig{Queue: celebration.QueueConfig{Clock: mock}, Logger: testLogger()})
	svc := &stubService{member: true}
	userID, groupID := uuid.New(), uuid.New()
	router := newTestRouter(NewHandler(testLogger(), hub, svc, notify.New()), userID)
	path := "/v1/groups/" + groupID.String() + "/celebrations/current"

	poll := func(session string) (*httptest.ResponseRecorder, CurrentResponse) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if session != "" {
			req.Header.Set("X-Client-Session", session)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		var resp CurrentResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		return rec, resp
	}

	if rec, _ := poll(""); rec.Code != http.StatusBadRequest {
		t.Errorf("without session: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec, resp := poll("tab-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Celebration == nil || resp.Celebration.Kind != celebration.KindBadge || !resp.Visible {
		t.Fatalf("current = %+v, want the replayed badge, visible", resp)
	}

	// Polling again does not replay a second time.
	poll("tab-1")
	if svc.resumes != 1 {
		t.Errorf("resumes = %d, want 1", svc.resumes)
	}

	mock.Add(2 * time.Second)
	if _, resp := poll("tab-1"); resp.Celebration == nil || resp.Visible {
		t.Errorf("after visible period = %+v, want fading celebration", resp)
	}
	mock.Add(300 * time.Millisecond)
	if _, resp := poll("tab-1"); resp.Celebration != nil {
		t.Errorf("after fade = %+v, want no celebration", resp)
	}

	// A second device gets its own replay.
	poll("phone")
	if svc.resumes != 2 {
		t.Errorf("resumes = %d, want 2", svc.resumes)
	}
}

func TestHandler_CurrentNotMember(t *testing.T) {
	hub := celebration.NewHub(celebration.HubConfig{Logger: testLogger()})
	router := newTestRouter(NewHandler(testLogger(), hub, &stubService{}, notify.New()), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/v1/groups/"+uuid.NewString()+"/celebrations/current", nil)
	req.Header.Set("X-Client-Session", "tab-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandler_Events(t *testing.T) {
	bus := notify.New(notify.WithLogger(testLogger()))
	userID, groupID := uuid.New(), uuid.New()
	h := NewHandler(testLogger(), celebration.NewHub(celebration.HubConfig{}), &stubService{member: true}, bus)
	srv := httptest.NewServer(newTestRouter(h, userID))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/groups/"+groupID.String()+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Headers arrive after the subscription is registered.
	bus.Publish(notify.Progress(domain.MembershipKey{UserID: uuid.New(), GroupID: uuid.New()}))
	bus.Publish(notify.Progress(domain.MembershipKey{UserID: userID, GroupID: groupID}))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v (got %q)", err, lines)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: progress_changed" {
		t.Errorf("event line = %q", lines[0])
	}
	var sig notify.Signal
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &sig); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if sig.GroupID != groupID || sig.UserID != userID {
		t.Errorf("signal = %+v, want the group's signal only", sig)
	}
}

func TestHandler_EventsNotMember(t *testing.T) {
	h := NewHandler(testLogger(), celebration.NewHub(celebration.HubConfig{}), &stubService{}, notify.New())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/groups/"+uuid.NewString()+"/events", nil)
	newTestRouter(h, uuid.New()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestNewHandler_TracksResumedPairs(t *testing.T) {
	h := NewHandler(testLogger(), celebration.NewHub(celebration.HubConfig{}), &stubService{}, notify.New())
	if h.resumed == nil {
		t.Fatal("resumed cache not created")
	}
	h.resumed.Add("session/group", struct{}{})
	if !h.resumed.Contains("session/group") {
		t.Error("resumed pair not tracked")
	}
}
