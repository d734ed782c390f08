// Package monitoring serves a running time service over HTTP so that it can
// be watched and steered while it runs.
package monitoring

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"

	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/timeservice"
)

// Monitor turns a time service into a server that allows external
// monitoring and control.
type Monitor struct {
	service         *timeservice.Service
	portNumber      int
	logger          *zap.Logger
	profileDuration time.Duration

	router   *mux.Router
	upgrader websocket.Upgrader
	hub      *hub

	serverLock sync.Mutex
	server     *http.Server
	listener   net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a Monitor over s. Update reports of s are pushed to
// websocket subscribers.
func NewMonitor(s *timeservice.Service) *Monitor {
	m := &Monitor{
		service:         s,
		logger:          s.Logger().Named("monitor"),
		profileDuration: time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	m.hub = newHub(m.logger)
	m.router = m.routes()
	s.AddUpdateListener(m.publishUpdate)

	return m
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("port number not allowed, using a random port instead",
			zap.Int("port", portNumber))
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileDuration = d
	return m
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the monitor's HTTP handler.
func (m *Monitor) Handler() http.Handler {
	return m.router
}

func (m *Monitor) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/now", m.now).Methods(http.MethodGet)
	api.HandleFunc("/pause", m.pause).Methods(http.MethodPost)
	api.HandleFunc("/continue", m.continueSim).Methods(http.MethodPost)
	api.HandleFunc("/time_slice", m.getTimeSlice).Methods(http.MethodGet)
	api.HandleFunc("/time_slice", m.putTimeSlice).Methods(http.MethodPut)
	api.HandleFunc("/timelines", m.listTimelines).Methods(http.MethodGet)
	api.HandleFunc("/timeline/{name}", m.listPending).Methods(http.MethodGet)
	api.HandleFunc("/timeline/{name}/handle/{id}", m.handleDetails).
		Methods(http.MethodGet)
	api.HandleFunc("/field/{json}", m.listFieldValue).Methods(http.MethodGet)
	api.HandleFunc("/caches", m.listCaches).Methods(http.MethodGet)
	api.HandleFunc("/progress", m.listProgressBars).Methods(http.MethodGet)
	api.HandleFunc("/resource", m.listResources).Methods(http.MethodGet)
	api.HandleFunc("/profile", m.collectProfile).Methods(http.MethodGet)

	r.HandleFunc("/ws/updates", m.subscribe)

	return r
}

// StartServer starts listening and returns the address being served.
func (m *Monitor) StartServer() (string, error) {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	if m.server != nil {
		return "", errors.New("monitor: server already started")
	}

	addr := ":0"
	if m.portNumber > 1000 {
		addr = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "monitor: listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.listener = listener
	m.server = srv

	url := "http://localhost:" +
		strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
	m.logger.Info("monitoring time service", zap.String("url", url))

	go func() {
		err := srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor server stopped", zap.Error(err))
		}
	}()

	return url, nil
}

// StopServer closes the listener and every websocket subscriber.
func (m *Monitor) StopServer() error {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	m.hub.closeAll()

	if m.server == nil {
		return nil
	}

	err := m.server.Close()
	m.server = nil
	m.listener = nil

	return err
}

func (m *Monitor) publishUpdate(r timeservice.UpdateReport) {
	if m.hub.len() == 0 {
		return
	}

	msg, err := json.Marshal(r)
	if err != nil {
		m.logger.Error("cannot encode update report", zap.Error(err))
		return
	}

	m.hub.broadcast(msg)
}

func (m *Monitor) subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := m.hub.add(conn)

	go m.hub.writePump(sub)
	go m.hub.readPump(sub)
}

type nowRsp struct {
	Started      bool            `json:"started"`
	SimNow       scheduling.Time `json:"sim_now"`
	WallNow      scheduling.Time `json:"wall_now"`
	Paused       bool            `json:"paused"`
	Ticks        uint64          `json:"ticks"`
	Exceptions   uint64          `json:"exceptions"`
	MaxTimeSlice int64           `json:"max_time_slice_ms"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	rsp := nowRsp{
		Paused:       m.service.Paused(),
		Ticks:        m.service.Ticks(),
		Exceptions:   m.service.Exceptions(),
		MaxTimeSlice: m.service.MaxTimeSlice().Milliseconds(),
	}

	m.service.Inspect(func(sim, wall *scheduling.Timeline) {
		if sim == nil {
			return
		}

		rsp.Started = true
		rsp.SimNow = sim.Now()
		rsp.WallNow = wall.Now()
	})

	m.writeJSON(w, rsp)
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.service.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) continueSim(w http.ResponseWriter, _ *http.Request) {
	m.service.Continue()
	w.WriteHeader(http.StatusNoContent)
}

type timeSliceMsg struct {
	MaxTimeSlice int64 `json:"max_time_slice_ms"`
}

func (m *Monitor) getTimeSlice(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, timeSliceMsg{
		MaxTimeSlice: m.service.MaxTimeSlice().Milliseconds(),
	})
}

func (m *Monitor) putTimeSlice(w http.ResponseWriter, r *http.Request) {
	req := timeSliceMsg{}

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.MaxTimeSlice < 0 {
		http.Error(w, "max_time_slice_ms must not be negative",
			http.StatusBadRequest)
		return
	}

	m.service.SetMaxTimeSlice(time.Duration(req.MaxTimeSlice) * time.Millisecond)
	m.getTimeSlice(w, r)
}

type timelineRsp struct {
	Name     string          `json:"name"`
	Now      scheduling.Time `json:"now"`
	Pending  int             `json:"pending"`
	Live     int             `json:"live"`
	NextTime scheduling.Time `json:"next_time"`
	TornDown bool            `json:"torn_down"`
}

func describeTimeline(tl *scheduling.Timeline) timelineRsp {
	return timelineRsp{
		Name:     tl.Name(),
		Now:      tl.Now(),
		Pending:  tl.Len(),
		Live:     tl.NumLive(),
		NextTime: tl.NextTime(),
		TornDown: tl.TornDown(),
	}
}

func (m *Monitor) listTimelines(w http.ResponseWriter, _ *http.Request) {
	list := []timelineRsp{}

	m.service.Inspect(func(sim, wall *scheduling.Timeline) {
		if sim == nil {
			return
		}

		list = append(list, describeTimeline(sim), describeTimeline(wall))
	})

	m.writeJSON(w, list)
}

// withTimeline runs f on the timeline named in the request while no update
// is running. It answers 404 if there is no such timeline.
func (m *Monitor) withTimeline(
	w http.ResponseWriter,
	name string,
	f func(tl *scheduling.Timeline),
) bool {
	found := false

	m.service.Inspect(func(sim, wall *scheduling.Timeline) {
		var tl *scheduling.Timeline
		switch {
		case sim != nil && name == sim.Name():
			tl = sim
		case wall != nil && name == wall.Name():
			tl = wall
		default:
			return
		}

		found = true
		f(tl)
	})

	if !found {
		http.Error(w, "timeline not found", http.StatusNotFound)
	}

	return found
}

func (m *Monitor) listPending(w http.ResponseWriter, r *http.Request) {
	var pending []scheduling.PendingEntry

	ok := m.withTimeline(w, mux.Vars(r)["name"], func(tl *scheduling.Timeline) {
		pending = tl.Pending()
	})
	if !ok {
		return
	}

	m.writeJSON(w, pending)
}

func (m *Monitor) handleDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m.serializeActive(w, vars["name"], vars["id"], nil)
}

type fieldReq struct {
	Timeline  string `json:"timeline,omitempty"`
	HandleID  string `json:"handle_id,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, "invalid field request: "+err.Error(),
			http.StatusBadRequest)
		return
	}

	var fields []string
	if req.FieldName != "" {
		fields = strings.Split(req.FieldName, ".")
	}

	m.serializeActive(w, req.Timeline, req.HandleID, fields)
}

// serializeActive writes the active element of a handle, optionally starting
// from a nested field.
func (m *Monitor) serializeActive(
	w http.ResponseWriter,
	timelineName, handleID string,
	fields []string,
) {
	buf := bytes.NewBuffer(nil)
	var serr error
	handleFound := false

	ok := m.withTimeline(w, timelineName, func(tl *scheduling.Timeline) {
		h := tl.Lookup(handleID)
		if h == nil || h.Active() == nil {
			return
		}

		handleFound = true

		serializer := goseth.NewSerializer()
		serializer.SetRoot(h.Active())
		serializer.SetMaxDepth(1)

		if len(fields) > 0 {
			serr = serializer.SetEntryPoint(fields)
			if serr != nil {
				return
			}
		}

		serr = serializer.Serialize(buf)
	})

	switch {
	case !ok:
		return
	case !handleFound:
		http.Error(w, "handle not found", http.StatusNotFound)
	case serr != nil:
		http.Error(w, serr.Error(), http.StatusBadRequest)
	default:
		w.Header().Set("Content-Type", "application/json")
		m.write(w, buf.Bytes())
	}
}

func (m *Monitor) listCaches(w http.ResponseWriter, _ *http.Request) {
	caches := m.service.Caches()

	m.writeJSON(w, struct {
		Names   []string `json:"names"`
		Cleared uint64   `json:"cleared"`
	}{
		Names:   caches.Names(),
		Cleared: caches.Cleared(),
	})
}

type progressBarRsp struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Failed     uint64    `json:"failed"`
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		b.Lock()
		bars = append(bars, progressBarRsp{
			ID:         b.ID,
			Name:       b.Name,
			StartTime:  b.StartTime,
			Total:      b.Total,
			Finished:   b.Finished,
			InProgress: b.InProgress,
			Failed:     b.Failed,
		})
		b.Unlock()
	}
	m.progressBarsLock.Unlock()

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].StartTime.Before(bars[j].StartTime)
	})

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.internalError(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.internalError(w, err)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		m.internalError(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.internalError(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	m.write(w, data)
}

func (m *Monitor) write(w http.ResponseWriter, data []byte) {
	if _, err := w.Write(data); err != nil {
		m.logger.Debug("cannot write response", zap.Error(err))
	}
}

func (m *Monitor) internalError(w http.ResponseWriter, err error) {
	m.logger.Error("monitor request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
