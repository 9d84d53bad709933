// Package httpapi exposes the engine control surface over HTTP.
//
// The API has no authentication; bind it to localhost.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scanwatch/internal/config"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/scan/scheduler"
	logx "scanwatch/pkg/logx"
)

// Control is the part of the engine the API drives.
type Control interface {
	Status() scheduler.Status
	Searches() []registry.SavedSearch
	AddSearch(s registry.SavedSearch) (string, error)
	EnableSearch(id string) error
	DisableSearch(id string) error
	PauseSearch(id string, until time.Time) error
	RemoveSearch(id string) error
	TriggerNow(id string) error
	RecentJobs() []scheduler.Job
	TouchActivity()
	SetUserActive(active bool)
}

const maxBody = 1 << 20

type API struct {
	ctl      Control
	log      logx.Logger
	now      func() time.Time
	profiler bool
}

func New(ctl Control, log logx.Logger) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &API{ctl: ctl, log: log.With(logx.String("comp", "httpapi")), now: time.Now}
}

// EnableProfiler mounts the runtime profiler under /debug.
func (a *API) EnableProfiler() { a.profiler = true }

// Routes returns the API router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", a.status)
	r.Get("/jobs", a.jobs)
	r.Post("/activity", a.activity)
	if a.profiler {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/searches", func(r chi.Router) {
		r.Get("/", a.listSearches)
		r.Post("/", a.addSearch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getSearch)
			r.Delete("/", a.byID(a.ctl.RemoveSearch))
			r.Post("/enable", a.byID(a.ctl.EnableSearch))
			r.Post("/disable", a.byID(a.ctl.DisableSearch))
			r.Post("/trigger", a.trigger)
			r.Post("/pause", a.pause)
		})
	})
	return r
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctl.Status())
}

func (a *API) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"recent": a.ctl.RecentJobs()})
}

type activityRequest struct {
	Active *bool `json:"active"`
}

// activity records a touch. A body of {"active": bool} instead holds the host active,
// or releases it, until the next such call.
func (a *API) activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Active == nil {
		a.ctl.TouchActivity()
	} else {
		a.ctl.SetUserActive(*req.Active)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listSearches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctl.Searches())
}

func (a *API) getSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, s := range a.ctl.Searches() {
		if s.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, errors.Wrapf(registry.ErrNotFound, "id %q", id))
}

// addSearch accepts the same document as a config searches[] entry. An empty id is
// assigned by the engine.
func (a *API) addSearch(w http.ResponseWriter, r *http.Request) {
	var sc config.SearchConfig
	if err := decodeBody(w, r, &sc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	generated := strings.TrimSpace(sc.ID) == ""
	if generated {
		// placeholder so validation passes; cleared before Add
		sc.ID = "new"
	}
	s, err := sc.ToSearch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if generated {
		s.ID = ""
		if strings.TrimSpace(sc.Name) == "" {
			s.Name = ""
		}
	}
	id, err := a.ctl.AddSearch(s)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	a.log.Info("search added", logx.String("search_id", id), logx.String("kind", s.Source.Kind))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) byID(fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(chi.URLParam(r, "id")); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) trigger(w http.ResponseWriter, r *http.Request) {
	if err := a.ctl.TriggerNow(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type pauseRequest struct {
	// Until is RFC 3339. For is a Go duration relative to now. Exactly one is set.
	Until string `json:"until,omitempty"`
	For   string `json:"for,omitempty"`
}

func (a *API) pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	until, err := req.resolve(a.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.ctl.PauseSearch(chi.URLParam(r, "id"), until); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"paused_until": until})
}

func (p pauseRequest) resolve(now time.Time) (time.Time, error) {
	until, dur := strings.TrimSpace(p.Until), strings.TrimSpace(p.For)
	switch {
	case until != "" && dur != "":
		return time.Time{}, errors.New("set either until or for, not both")
	case until != "":
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, errors.Wrap(err, "until")
		}
		return t, nil
	case dur != "":
		d, err := config.ParseDurationField("for", dur)
		if err != nil {
			return time.Time{}, err
		}
		if d <= 0 {
			return time.Time{}, errors.New("for must be > 0")
		}
		return now.Add(d), nil
	default:
		return time.Time{}, errors.New("until or for is required")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicate), errors.Is(err, scheduler.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
