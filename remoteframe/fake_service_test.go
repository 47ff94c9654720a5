package remoteframe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/launchdarkly/frame-test-harness/servicedef"
)

type fakeServiceFrame struct {
	params   servicedef.CreateFrameParams
	probes   int
	polls    int
	running  bool
	deleted  bool
	commands []servicedef.CommandParams
}

// fakeService implements the frame test service protocol. Each frame's root becomes ready after
// notReadyProbes status queries, and its case completes after incompletePolls status queries
// following the run command.
type fakeService struct {
	server          *httptest.Server
	capabilities    []string
	notReadyProbes  int
	incompletePolls int
	errors          string
	createStatus    int
	frames          map[string]*fakeServiceFrame
	order           []string
	stopped         bool
	lock            sync.Mutex
}

func newFakeService() *fakeService {
	s := &fakeService{
		capabilities: []string{servicedef.CapabilityFrames},
		frames:       make(map[string]*fakeServiceFrame),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.getInfo)
	mux.HandleFunc("POST /{$}", s.createFrame)
	mux.HandleFunc("DELETE /{$}", s.stop)
	mux.HandleFunc("GET /frames/{id}", s.getStatus)
	mux.HandleFunc("POST /frames/{id}", s.command)
	mux.HandleFunc("DELETE /frames/{id}", s.deleteFrame)
	s.server = httptest.NewServer(mux)
	return s
}

func (s *fakeService) close() { s.server.Close() }

// newestFrame returns a snapshot of the most recently created frame.
func (s *fakeService) newestFrame() *fakeServiceFrame {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	f := *s.frames[s.order[len(s.order)-1]]
	return &f
}

func (s *fakeService) getInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"capabilities": s.capabilities})
}

func (s *fakeService) stop(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	s.stopped = true
	s.lock.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeService) createFrame(w http.ResponseWriter, r *http.Request) {
	if s.createStatus != 0 {
		w.WriteHeader(s.createStatus)
		_, _ = w.Write([]byte("cannot create frames today"))
		return
	}
	var params servicedef.CreateFrameParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.lock.Lock()
	id := strconv.Itoa(len(s.order) + 1)
	f := &fakeServiceFrame{params: params}
	s.frames[id] = f
	s.order = append(s.order, id)
	s.lock.Unlock()

	// Deliver the callbacks out of order; the harness must put the log line before the load.
	go func() {
		s.sendCallback(params.CallbackURL, 2, servicedef.CallbackMessage{Kind: servicedef.CallbackKindLoad})
		s.sendCallback(params.CallbackURL, 1, servicedef.CallbackMessage{
			Kind: servicedef.CallbackKindLog, Message: "loading " + params.URL})
	}()

	w.Header().Set("Location", "/frames/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *fakeService) sendCallback(callbackURL string, counter int, message servicedef.CallbackMessage) {
	data, _ := json.Marshal(message)
	resp, err := http.Post(fmt.Sprintf("%s/%d", callbackURL, counter), "application/json", bytes.NewReader(data))
	if err == nil {
		_ = resp.Body.Close()
	}
}

func (s *fakeService) getStatus(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	f := s.frames[r.PathValue("id")]
	if f == nil || f.deleted {
		s.lock.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var status servicedef.FrameStatus
	f.probes++
	status.RootReady = f.probes > s.notReadyProbes
	if f.running {
		f.polls++
		status.Complete = f.polls > s.incompletePolls
		if status.Complete {
			status.Errors = s.errors
		}
	}
	s.lock.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *fakeService) command(w http.ResponseWriter, r *http.Request) {
	var params servicedef.CommandParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil || params.Command != servicedef.CommandRun {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	f := s.frames[r.PathValue("id")]
	if f == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.commands = append(f.commands, params)
	f.running = true
	w.WriteHeader(http.StatusAccepted)
}

func (s *fakeService) deleteFrame(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()
	f := s.frames[r.PathValue("id")]
	if f == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.deleted = true
	w.WriteHeader(http.StatusNoContent)
}
