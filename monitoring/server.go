package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"golang.org/x/net/netutil"
)

const maxConnections = 16

// State is what the monitor exposes about itself.
type State struct {
	Clock      int
	Progress   Progress
	Sources    []SourceStatus
	Commands   map[string]string
	LastAction map[string]int
}

// Server serves the state of a monitor over HTTP.
type Server struct {
	scada  *Scada
	port   int
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer creates a server on the given port. Port 0 picks a free port.
func NewServer(s *Scada, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		scada:  s,
		port:   port,
		logger: logger.With("component", "monitor-server"),
	}
}

// Router returns the routes of the monitoring API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", s.now)
	r.HandleFunc("/api/snapshot", s.snapshot)
	r.HandleFunc("/api/snapshot/{source}", s.snapshotSource)
	r.HandleFunc("/api/sources", s.sources)
	r.HandleFunc("/api/state", s.state)
	r.HandleFunc("/api/progress", s.progress)
	r.HandleFunc("/api/resource", s.resource)
	r.HandleFunc("/api/profile", s.collectProfile)

	return r
}

// Start listens and serves in the background. It returns the URL of the
// server.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return "", fmt.Errorf("listen for monitoring: %w", err)
	}

	s.listener = netutil.LimitListener(listener, maxConnections)
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	s.logger.Info("monitoring", "url", url)

	go func() {
		err := s.server.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitoring server stopped", "error", err)
		}
	}()

	return url, nil
}

// Close stops the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	return s.server.Close()
}

// OpenBrowser opens url in the default browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) now(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]int{"now": s.scada.Clock()})
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.scada.Cache().Snapshot())
}

func (s *Server) snapshotSource(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["source"]

	for _, src := range s.scada.Cache().Sources() {
		if src.Name != name {
			continue
		}

		values := s.scada.Cache().Snapshot()[name]
		tagged := make(map[string]string, len(values))
		for i, tag := range src.Tags {
			tagged[tag] = values[i]
		}

		s.writeJSON(w, tagged)

		return
	}

	http.Error(w, "source not found", http.StatusNotFound)
}

func (s *Server) sources(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.scada.Cache().Statuses())
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	state := State{
		Clock:      s.scada.Clock(),
		Progress:   s.scada.Progress().Progress(),
		Sources:    s.scada.Cache().Statuses(),
		Commands:   s.scada.Commands().Snapshot(),
		LastAction: s.scada.LastAction(),
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&state)
	serializer.SetMaxDepth(3)

	if err := serializer.Serialize(w); err != nil {
		s.logger.Warn("serialize state", "error", err)
	}
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, []Progress{s.scada.Progress().Progress()})
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) resource(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (s *Server) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if v := r.URL.Query().Get("seconds"); v != "" {
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil || seconds <= 0 {
			http.Error(w, "invalid seconds", http.StatusBadRequest)
			return
		}
		duration = time.Duration(seconds * float64(time.Second))
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, prof)
}
