package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/goodtune/idlewatch/internal/inactivity"
	"github.com/goodtune/idlewatch/internal/metrics"
	"github.com/goodtune/idlewatch/internal/storage"
)

const (
	// unboundGrace is how long a rendered page may wait for its browser to
	// connect before a newer page of the same session retires it.
	unboundGrace = 30 * time.Second

	wsWriteTimeout = 5 * time.Second
	recordTimeout  = 5 * time.Second
)

// Websocket message types.
const (
	msgWarning  = "warning"
	msgDismiss  = "dismiss"
	msgRedirect = "redirect"
	msgActivity = "activity"
	msgContinue = "continue"
)

// serverMessage is pushed to the browser.
type serverMessage struct {
	Type string `json:"type"`
	HTML string `json:"html,omitempty"`
	Path string `json:"path,omitempty"`
}

// clientMessage is received from the browser.
type clientMessage struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
}

// pageSink is the Panel and Navigator of one rendered page. It keeps the
// latest view so the websocket writer can push it whenever it is notified.
type pageSink struct {
	sessionID string
	createdAt time.Time

	mu       sync.Mutex
	warning  bool
	redirect string
	bound    bool
	cancel   context.CancelFunc
	conns    uint64
	notify   chan struct{}
}

func newPageSink(sessionID string) *pageSink {
	return &pageSink{
		sessionID: sessionID,
		createdAt: time.Now(),
		notify:    make(chan struct{}, 1),
	}
}

// Show implements inactivity.Panel.
func (p *pageSink) Show() {
	p.mu.Lock()
	p.warning = true
	p.mu.Unlock()
	p.signal()
}

// Hide implements inactivity.Panel.
func (p *pageSink) Hide() {
	p.mu.Lock()
	p.warning = false
	p.mu.Unlock()
	p.signal()
}

// Navigate implements inactivity.Navigator.
func (p *pageSink) Navigate(path string) {
	p.mu.Lock()
	if p.redirect == "" {
		p.redirect = path
	}
	p.mu.Unlock()
	p.signal()
}

func (p *pageSink) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pageSink) view() (warning bool, redirect string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warning, p.redirect
}

// bind marks the page as driven by a browser.
func (p *pageSink) bind() {
	p.mu.Lock()
	p.bound = true
	p.mu.Unlock()
}

func (p *pageSink) isBound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// attach binds a websocket connection and cancels the one it replaces. It
// returns the connection's generation.
func (p *pageSink) attach(cancel context.CancelFunc) uint64 {
	p.mu.Lock()
	prev := p.cancel
	p.cancel = cancel
	p.bound = true
	p.conns++
	gen := p.conns
	p.mu.Unlock()

	if prev != nil {
		prev()
	}
	return gen
}

// detach releases connection gen and reports whether it was still current.
func (p *pageSink) detach(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns != gen {
		return false
	}
	p.cancel = nil
	return true
}

// openPage registers a monitor for a rendered page. It returns nil for pages
// that are not monitored.
func (s *Server) openPage(r *http.Request) *inactivity.Page {
	sessionID, _ := GetSessionFromContext(r.Context())
	username, _ := GetUsernameFromContext(r.Context())

	s.retireUnbound(sessionID)

	sink := newPageSink(sessionID)
	page, err := s.registry.Open(sessionID, username, r.URL.RequestURI(), sink, sink)
	if err != nil {
		if !errors.Is(err, inactivity.ErrLoginPage) {
			s.logger.Error().Err(err).Str("url", r.URL.RequestURI()).Msg("Failed to open page monitor")
		}
		return nil
	}
	s.sinksMu.Lock()
	s.sinks[page.ID] = sink
	s.sinksMu.Unlock()

	return page
}

// retireUnbound closes pages of a session whose browser never connected.
func (s *Server) retireUnbound(sessionID string) {
	cutoff := time.Now().Add(-unboundGrace)

	s.sinksMu.Lock()
	var stale []string
	for id, sink := range s.sinks {
		if sink.sessionID == sessionID && !sink.isBound() && sink.createdAt.Before(cutoff) {
			stale = append(stale, id)
			delete(s.sinks, id)
		}
	}
	s.sinksMu.Unlock()

	for _, id := range stale {
		s.registry.Close(id)
	}
}

func (s *Server) sink(pageID string) *pageSink {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	return s.sinks[pageID]
}

func (s *Server) takeSink(pageID string) *pageSink {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	sink := s.sinks[pageID]
	delete(s.sinks, pageID)
	return sink
}

// closePage stops monitoring a page the browser left.
func (s *Server) closePage(pageID string) {
	s.takeSink(pageID)
	s.registry.Close(pageID)
}

// handleExpired is the registry expire hook. An expired page that a browser
// drives ends its admin session, as if the browser had followed the redirect.
func (s *Server) handleExpired(page *inactivity.Page) {
	sink := s.takeSink(page.ID)
	if sink == nil || !sink.isBound() {
		s.logger.Debug().Str("page_id", page.ID).Msg("Unbound page expired")
		return
	}

	session, err := s.auth.Logout(page.SessionID)
	if err == nil {
		metrics.AdminLogouts.WithLabelValues(string(storage.LogoutInactivity)).Inc()
		elapsed := page.Monitor().Elapsed()
		// Store writes stay off the tick goroutine.
		s.audits.Add(1)
		go func() {
			defer s.audits.Done()
			s.recordLogout(session, page.ID, storage.LogoutInactivity, elapsed)
		}()
		s.logger.Info().
			Str("username", session.Username).
			Str("session_id", session.ID).
			Str("page_id", page.ID).
			Msg("Logged out after inactivity")
	}

	s.endSession(page.SessionID)
}

// endSession closes every page of a session and sends their browsers to logout.
func (s *Server) endSession(sessionID string) {
	logoutPath := s.registry.Config().Monitor.LogoutPath
	for _, page := range s.registry.CloseSession(sessionID) {
		if sink := s.takeSink(page.ID); sink != nil {
			sink.Navigate(logoutPath)
		}
	}
}

func (s *Server) recordLogout(session *Session, pageID string, reason storage.LogoutReason, elapsed int) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	rec := storage.LogoutRecord{
		SessionID:      session.ID,
		Username:       session.Username,
		PageID:         pageID,
		Reason:         reason,
		ElapsedSeconds: elapsed,
	}
	if err := s.store.Logouts().Record(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to record logout")
	}
}

// lookupPage resolves a page owned by the requesting session and writes the
// error response when it cannot.
func (s *Server) lookupPage(w http.ResponseWriter, r *http.Request) (*inactivity.Page, bool) {
	id := mux.Vars(r)["id"]
	sessionID, _ := GetSessionFromContext(r.Context())

	page, err := s.registry.Get(id)
	switch {
	case errors.Is(err, inactivity.ErrPageExpired):
		s.writeExpired(w, id)
		return nil, false
	case err != nil:
		writeError(w, http.StatusNotFound, "Page not found")
		return nil, false
	case page.SessionID != sessionID:
		writeError(w, http.StatusNotFound, "Page not found")
		return nil, false
	}

	if sink := s.sink(id); sink != nil {
		sink.bind()
	}
	return page, true
}

func (s *Server) writeExpired(w http.ResponseWriter, id string) {
	WriteJSON(w, http.StatusGone, PageResponse{
		ID: id,
		Status: inactivity.Status{
			State:    inactivity.StateExpired.String(),
			Redirect: s.registry.Config().Monitor.LogoutPath,
		},
	})
}

// handleListPages lists every monitored page.
func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleGetPage returns the inactivity status of a page.
func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	page, ok := s.lookupPage(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, PageResponse{ID: page.ID, Status: page.Monitor().Status()})
}

// handlePageActivity records a user activity event for a page.
func (s *Server) handlePageActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	activity, err := inactivity.ParseActivity(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.recordPageActivity(w, r, activity)
}

// handlePageContinue is the warning panel's continue control.
func (s *Server) handlePageContinue(w http.ResponseWriter, r *http.Request) {
	s.recordPageActivity(w, r, inactivity.ActivityContinue)
}

func (s *Server) recordPageActivity(w http.ResponseWriter, r *http.Request, activity inactivity.Activity) {
	page, ok := s.lookupPage(w, r)
	if !ok {
		return
	}

	if err := s.registry.RecordActivity(page.ID, activity); err != nil {
		if errors.Is(err, inactivity.ErrPageExpired) {
			s.writeExpired(w, page.ID)
			return
		}
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}

	WriteJSON(w, http.StatusOK, PageResponse{ID: page.ID, Status: page.Monitor().Status()})
}

// handlePageSocket connects a rendered page to its monitor. The server pushes
// warning, dismiss and redirect messages; the browser reports activity.
func (s *Server) handlePageSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sessionID, _ := GetSessionFromContext(r.Context())
	logoutPath := s.registry.Config().Monitor.LogoutPath

	page, err := s.registry.Get(id)
	if errors.Is(err, inactivity.ErrPageExpired) {
		conn, err := websocket.Accept(w, r, s.acceptOptions())
		if err != nil {
			s.logger.Debug().Err(err).Str("page_id", id).Msg("Failed to accept websocket")
			return
		}
		defer conn.CloseNow()
		if err := s.writeMessage(r.Context(), conn, serverMessage{Type: msgRedirect, Path: logoutPath}); err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "page expired")
		}
		return
	}
	if err != nil || page.SessionID != sessionID {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	sink := s.sink(id)
	if sink == nil {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Debug().Err(err).Str("page_id", id).Msg("Failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	gen := sink.attach(cancel)

	logger := s.logger.With().Str("page_id", id).Logger()
	logger.Debug().Msg("Page connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.pageWriteLoop(ctx, conn, sink)
	}()

	s.pageReadLoop(ctx, conn, page)
	cancel()
	wg.Wait()

	if sink.detach(gen) {
		s.closePage(id)
		logger.Debug().Msg("Page disconnected")
	}
}

// pageReadLoop records the activity the browser reports until the
// connection fails or ctx is done.
func (s *Server) pageReadLoop(ctx context.Context, conn *websocket.Conn, page *inactivity.Page) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Debug().Err(err).Str("page_id", page.ID).Msg("Websocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug().Err(err).Str("page_id", page.ID).Msg("Ignoring malformed page message")
			continue
		}

		var activity inactivity.Activity
		switch msg.Type {
		case msgActivity:
			activity, err = inactivity.ParseActivity(msg.Kind)
			if err != nil {
				s.logger.Debug().Err(err).Str("page_id", page.ID).Msg("Ignoring unknown activity")
				continue
			}
		case msgContinue:
			activity = inactivity.ActivityContinue
		default:
			continue
		}

		if err := s.registry.RecordActivity(page.ID, activity); err != nil {
			// Expired pages learn their redirect from the write loop.
			if !errors.Is(err, inactivity.ErrPageExpired) {
				return
			}
		}
	}
}

// pageWriteLoop pushes the sink's view to the browser whenever it changes.
// Intermediate states may be coalesced; the latest view always arrives.
func (s *Server) pageWriteLoop(ctx context.Context, conn *websocket.Conn, sink *pageSink) {
	sent := false
	shown := false

	for {
		warning, redirect := sink.view()

		if redirect != "" {
			if err := s.writeMessage(ctx, conn, serverMessage{Type: msgRedirect, Path: redirect}); err == nil {
				_ = conn.Close(websocket.StatusNormalClosure, "session ended")
			}
			return
		}

		if !sent || warning != shown {
			msg := serverMessage{Type: msgDismiss}
			if warning {
				msg = serverMessage{Type: msgWarning, HTML: s.warningHTML}
			}
			if err := s.writeMessage(ctx, conn, msg); err != nil {
				return
			}
			sent = true
			shown = warning
		}

		select {
		case <-ctx.Done():
			return
		case <-sink.notify:
		}
	}
}

func (s *Server) writeMessage(ctx context.Context, conn *websocket.Conn, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	return &websocket.AcceptOptions{OriginPatterns: originPatterns(s.config.AllowedOrigins)}
}

// originPatterns converts configured origins into websocket host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			patterns = append(patterns, origin)
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
