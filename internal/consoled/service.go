// Package consoled exposes live guest consoles over websocket. A client
// attaches to a guest, types command lines, and receives the formatted
// console output the guest produced.
package consoled

import (
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tessia-project/baselib/internal/metrics"
	"github.com/tessia-project/baselib/pkg/console"
)

const (
	defaultLoginTimeout   = time.Minute
	defaultCommandTimeout = 30 * time.Second

	// defaultDrainInterval separates two polls for unsolicited console output.
	defaultDrainInterval = 2 * time.Second
)

// Console is the slice of the terminal API an attach session drives.
type Console interface {
	Login(host, user, password string, opts *console.LoginOptions, timeout time.Duration) (string, error)
	Run(spec console.CommandSpec, patterns []*regexp.Regexp, timeout time.Duration) (string, *console.Match, error)
	Drain() (string, error)
	Quit(timeout time.Duration) error
}

// DialFunc opens a fresh console terminal, one per attach session.
type DialFunc func() (Console, error)

// Service manages console attach sessions.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session
	upgrader websocket.Upgrader
	dial     DialFunc

	loginTimeout   time.Duration
	commandTimeout time.Duration
	drainInterval  time.Duration
}

type session struct {
	id    string
	guest string
	conn  *websocket.Conn
	term  Console

	// termMu serializes the command loop and the drain loop on the terminal.
	termMu sync.Mutex
	// writeMu serializes websocket writes; the library supports at most one
	// concurrent writer per connection.
	writeMu sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
}

func (s *session) stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewService builds the attach service. dial is invoked once per session.
func NewService(dial DialFunc) *Service {
	return &Service{
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dial:           dial,
		loginTimeout:   defaultLoginTimeout,
		commandTimeout: defaultCommandTimeout,
		drainInterval:  defaultDrainInterval,
	}
}

// drainEvery overrides the drain poll interval, shortened in tests.
func (s *Service) drainEvery(interval time.Duration) {
	s.drainInterval = interval
}

// Router builds the HTTP surface: the attach endpoint, metrics and health.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/console/{guest}", s.handleAttach)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// handleAttach upgrades the request and binds a console session to it. The
// console host comes from the "host" query parameter, the guest password
// from basic auth.
func (s *Service) handleAttach(w http.ResponseWriter, r *http.Request) {
	guest := mux.Vars(r)["guest"]
	host := r.URL.Query().Get("host")
	_, password, _ := r.BasicAuth()
	if host == "" {
		http.Error(w, "missing host parameter", http.StatusBadRequest)
		metrics.AttachSessionsTotal.WithLabelValues("error").Inc()
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("guest", guest).Msg("Websocket upgrade failed")
		metrics.AttachSessionsTotal.WithLabelValues("error").Inc()
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		guest:  guest,
		conn:   conn,
		stopCh: make(chan struct{}),
	}

	term, err := s.dial()
	if err != nil {
		s.fail(sess, fmt.Errorf("failed to open console: %w", err))
		return
	}
	sess.term = term

	if _, err := term.Login(host, guest, password, nil, s.loginTimeout); err != nil {
		s.fail(sess, fmt.Errorf("console login failed: %w", err))
		return
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.AttachSessionsActive.Inc()
	metrics.AttachSessionsTotal.WithLabelValues("ok").Inc()

	log.Info().
		Str("session_id", sess.id).
		Str("guest", guest).
		Str("host", host).
		Msg("Console attach session started")

	go s.runSession(sess)
}

// fail reports a setup error to the client and drops the connection.
func (s *Service) fail(sess *session, err error) {
	log.Error().Err(err).Str("guest", sess.guest).Msg("Console attach failed")
	sess.write([]byte("Error: " + err.Error()))
	sess.conn.Close()
	if sess.term != nil {
		sess.term.Quit(s.commandTimeout)
	}
	metrics.AttachSessionsTotal.WithLabelValues("error").Inc()
}

// runSession drives the two forwarding loops and cleans up when either ends.
func (s *Service) runSession(sess *session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		metrics.AttachSessionsActive.Dec()

		log.Info().
			Str("session_id", sess.id).
			Str("guest", sess.guest).
			Msg("Console attach session closed")
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.forwardClientToConsole(sess)
	}()
	go func() {
		defer wg.Done()
		s.forwardConsoleToClient(sess)
	}()

	<-sess.stopCh

	// Closing the connection unblocks the websocket reader; both forwarders
	// must have returned before the terminal is torn down, so Quit never
	// overlaps an in-flight command or drain.
	sess.conn.Close()
	wg.Wait()

	if err := sess.term.Quit(s.commandTimeout); err != nil {
		log.Debug().Err(err).Str("session_id", sess.id).Msg("Console quit failed")
	}
}

// forwardClientToConsole reads command lines from the websocket and executes
// them on the console, sending the output back.
func (s *Service) forwardClientToConsole(sess *session) {
	defer sess.stop()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session_id", sess.id).Msg("Websocket read ended")
			return
		}
		if len(data) == 0 {
			continue
		}

		sess.termMu.Lock()
		output, _, err := sess.term.Run(console.CommandSpec{Command: string(data)}, nil, s.commandTimeout)
		sess.termMu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("session_id", sess.id).Msg("Console command failed")
			sess.write([]byte("Error: " + err.Error()))
			return
		}
		if output != "" {
			if err := sess.write([]byte(output)); err != nil {
				return
			}
		}
	}
}

// forwardConsoleToClient periodically drains unsolicited console output and
// pushes it to the client.
func (s *Service) forwardConsoleToClient(sess *session) {
	defer sess.stop()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stopCh:
			return
		case <-ticker.C:
			sess.termMu.Lock()
			output, err := sess.term.Drain()
			sess.termMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Str("session_id", sess.id).Msg("Console drain failed")
				return
			}
			if output == "" {
				continue
			}
			if err := sess.write([]byte(output)); err != nil {
				return
			}
		}
	}
}

// ActiveSessions returns the ids of the open attach sessions.
func (s *Service) ActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stop closes every open attach session.
func (s *Service) Stop() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	log.Info().Int("active_sessions", len(sessions)).Msg("Stopping console attach service")
	for _, sess := range sessions {
		sess.stop()
	}
}
