package pipeline

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

// ReloadPath is the server-sent event feed browsers subscribe to
const ReloadPath = "/__sitebuild/reload"

// ReloadScriptPath serves a small script that subscribes to the reload feed. Include it with
// <script src="/__sitebuild/reload.js"></script>.
const ReloadScriptPath = "/__sitebuild/reload.js"

const reloadScript = `(function () {
  var source = new EventSource("` + ReloadPath + `");
  source.addEventListener("reload", function () { window.location.reload(); });
})();
`

// DevServer serves the site directory and tells connected browsers to reload after a rebuild
type DevServer struct {
	addr    string
	baseDir string
	handler http.Handler

	lock    sync.Mutex
	clients map[chan struct{}]struct{}
}

// NewDevServer creates a server for baseDir. It doesn't listen until Serve is called.
func NewDevServer(addr, baseDir string) *DevServer {
	s := &DevServer{
		addr:    addr,
		baseDir: baseDir,
		clients: make(map[chan struct{}]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc(ReloadPath, s.handleReloadFeed).Methods(http.MethodGet)
	router.HandleFunc(ReloadScriptPath, handleReloadScript).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(http.FileServer(http.Dir(baseDir)))

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})
	s.handler = sm.Handler(router)

	return s
}

// Addr returns the configured listen address
func (s *DevServer) Addr() string {
	return s.addr
}

// Handler returns the HTTP handler of the server
func (s *DevServer) Handler() http.Handler {
	return s.handler
}

// Subscribe registers a reload listener. The returned function removes it again.
func (s *DevServer) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.lock.Lock()
	s.clients[ch] = struct{}{}
	s.lock.Unlock()

	return ch, func() {
		s.lock.Lock()
		delete(s.clients, ch)
		s.lock.Unlock()
	}
}

// Reload notifies all connected browsers. Notifications for clients that haven't consumed the previous
// one are coalesced.
func (s *DevServer) Reload() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	for ch := range s.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	return len(s.clients)
}

func (s *DevServer) handleReloadFeed(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, ": connected\n\n")
	flusher.Flush()

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			fmt.Fprint(rw, "event: reload\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

func handleReloadScript(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/javascript")
	fmt.Fprint(rw, reloadScript)
}

func logRequests(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		reqLogger := logger.With().Str("req", nanoid.New()).Logger()
		reqLogger.Debug().Msgf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(rw, r.WithContext(buildsys.WithLogger(r.Context(), &reqLogger)))
	})
}

// Serve listens on the configured address until ctx is cancelled
func (s *DevServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           logRequests(buildsys.Log(ctx), s.handler),
		ReadHeaderTimeout: 10 * time.Second,
		// ends open reload feeds on shutdown
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	buildsys.Log(ctx).Info().Msgf("Serving %s on http://%s", s.baseDir, s.addr)

	select {
	case err := <-errs:
		return eris.Wrapf(err, "dev server on %s failed", s.addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "failed to stop dev server")
		}
		return nil
	}
}

// ReloadTask returns a task body that reloads all connected browsers
func ReloadTask(s *DevServer) buildsys.TaskFunc {
	return func(ctx context.Context) error {
		clients := s.Reload()
		buildsys.Log(ctx).Debug().Msgf("Reloaded %d browser(s)", clients)
		return nil
	}
}
