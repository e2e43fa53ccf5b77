package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flarelabs/flare/internal/activitylog"
	"github.com/flarelabs/flare/internal/report"
	"github.com/flarelabs/flare/internal/sampler"
	"github.com/flarelabs/flare/internal/threaddump"
	"github.com/flarelabs/flare/internal/threadgroup"
)

const activityCategory = "Profiler"

type (
	startRequest struct {
		IntervalMS      float64  `json:"interval_ms"`
		Threads         []string `json:"threads"`
		Regex           bool     `json:"regex"`
		CombineAll      bool     `json:"combine_all"`
		NotCombined     bool     `json:"not_combined"`
		OnlyTicksOverMS int64    `json:"only_ticks_over_ms"`
		TimeoutSec      int64    `json:"timeout_sec"`

		IgnoreSleeping       bool `json:"ignore_sleeping"`
		IgnoreNative         bool `json:"ignore_native"`
		ForceFallbackBackend bool `json:"force_fallback_backend"`

		// Report options used when the session auto-completes on timeout.
		Stop stopRequest `json:"stop"`
	}

	stopRequest struct {
		Comment          string `json:"comment"`
		OrderByTime      bool   `json:"order_by_time"`
		MergeParentCalls bool   `json:"merge_parent_calls"`
		SaveToFile       bool   `json:"save_to_file"`
		Actor            string `json:"actor"`
		ActorID          string `json:"actor_id"`
	}

	startResponse struct {
		State   string `json:"state"`
		Backend string `json:"backend"`
		Message string `json:"message"`
	}

	infoResponse struct {
		State        string `json:"state"`
		Backend      string `json:"backend"`
		RunningForMS int64  `json:"running_for_ms"`
		TimeoutInMS  int64  `json:"timeout_in_ms,omitempty"`
		SampleCount  uint64 `json:"sample_count"`
	}

	reportResponse struct {
		URL  string `json:"url,omitempty"`
		File string `json:"file,omitempty"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func (e *environment) postProfilerStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	cfg, err := toSamplerConfig(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var createErr error
	s := e.profiler.Create(cfg, func(err error) { createErr = err })
	if s == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: createErr.Error()})
		return
	}
	if err := s.Start(); err != nil {
		e.profiler.Clear()
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	// Session failures must reach somebody; they are never dropped.
	go e.watchSession(s)
	if req.TimeoutSec > 0 {
		go e.autoComplete(s, req.Stop)
	}

	msg := "profiler now active; stop it to upload the results"
	if req.TimeoutSec > 0 {
		msg = fmt.Sprintf("profiler now active; results will be returned after %d seconds", req.TimeoutSec)
	}
	writeJSON(w, http.StatusCreated, startResponse{
		State:   s.State().String(),
		Backend: s.Backend(),
		Message: msg,
	})
}

func (e *environment) getProfilerInfo(w http.ResponseWriter, _ *http.Request) {
	s := e.profiler.Active()
	if s == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active profiler"})
		return
	}
	resp := infoResponse{
		State:        s.State().String(),
		Backend:      s.Backend(),
		RunningForMS: s.Duration().Milliseconds(),
		SampleCount:  s.SampleCount(),
	}
	if end := s.AutoEndTime(); !end.IsZero() {
		resp.TimeoutInMS = time.Until(end).Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *environment) postProfilerStop(w http.ResponseWriter, r *http.Request) {
	s := e.profiler.Active()
	if s == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active profiler"})
		return
	}

	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.Stop()
	resp, err := e.handleReport(r.Context(), s, req)
	e.profiler.Clear()
	if err != nil {
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *environment) postProfilerCancel(w http.ResponseWriter, _ *http.Request) {
	if e.profiler.Active() == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active profiler"})
		return
	}
	e.profiler.CancelActive()
	writeJSON(w, http.StatusOK, map[string]string{"state": "cancelled"})
}

// handleReport builds and delivers the report: upload first, and on an
// upload failure fall back to a save. A save failure after that is terminal.
func (e *environment) handleReport(ctx context.Context, s *sampler.Sampler, req stopRequest) (reportResponse, error) {
	opts := report.Options{
		Order:            report.OrderByName,
		Comment:          req.Comment,
		MergeParentCalls: req.MergeParentCalls,
	}
	if req.OrderByTime {
		opts.Order = report.OrderByTime
	}
	if req.Actor != "" {
		id, _ := uuid.Parse(req.ActorID)
		opts.Submitter = &report.Submitter{Name: req.Actor, ID: id}
	}

	rep, err := report.Build(s, opts)
	if err != nil {
		return reportResponse{}, err
	}

	actor := req.Actor
	var actorID uuid.UUID
	if opts.Submitter != nil {
		actorID = opts.Submitter.ID
	}

	if !req.SaveToFile {
		url, err := e.uploadReport(ctx, rep)
		if err == nil {
			e.activity.Add(ctx, activitylog.URLActivity(actor, actorID, activityCategory, url))
			return reportResponse{URL: url}, nil
		}
		log.Warn().Err(err).Msg("upload failed, saving report to disk instead")
		sentry.CaptureException(err)
	}

	name, err := e.saveReport(ctx, rep)
	if err != nil {
		return reportResponse{}, fmt.Errorf("saving report: %w", err)
	}
	e.activity.Add(ctx, activitylog.FileActivity(actor, actorID, activityCategory, name))
	return reportResponse{File: name}, nil
}

// watchSession reports a session failure to the log and sentry. Clean stops
// and cancellations pass through silently.
func (e *environment) watchSession(s *sampler.Sampler) {
	<-s.Done()
	if err := s.Err(); err != nil && s.State() == sampler.StateFailed {
		log.Error().Err(err).Msg("profiler session failed")
		sentry.CaptureException(err)
	}
}

// autoComplete waits for a timed session to finish and runs the same
// upload/save flow a manual stop would.
func (e *environment) autoComplete(s *sampler.Sampler, req stopRequest) {
	<-s.Done()
	if s.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	resp, err := e.handleReport(ctx, s, req)
	e.profiler.Clear()
	if err != nil {
		log.Error().Err(err).Msg("delivering timed profiler report")
		sentry.CaptureException(err)
		return
	}
	log.Info().Str("url", resp.URL).Str("file", resp.File).Msg("timed profiler report delivered")
}

func toSamplerConfig(req startRequest) (sampler.Config, error) {
	b := sampler.NewBuilder()

	if len(req.Threads) > 0 && !contains(req.Threads, "*") {
		if req.Regex {
			dumper, err := threaddump.Regex(req.Threads...)
			if err != nil {
				return sampler.Config{}, err
			}
			b.Dumper(dumper)
		} else {
			b.Dumper(threaddump.Specific(req.Threads...))
		}
	} else {
		b.Dumper(threaddump.All)
	}

	switch {
	case req.CombineAll:
		b.Grouper(threadgroup.AsOne)
	case req.NotCombined:
		b.Grouper(threadgroup.ByName)
	default:
		b.Grouper(threadgroup.ByPool)
	}

	if req.IntervalMS > 0 {
		b.SamplingInterval(time.Duration(req.IntervalMS * float64(time.Millisecond)))
	}
	if req.TimeoutSec > 0 {
		b.CompleteAfter(time.Duration(req.TimeoutSec) * time.Second)
	}
	if req.OnlyTicksOverMS > 0 {
		b.MinimumTickDuration(time.Duration(req.OnlyTicksOverMS) * time.Millisecond)
	}
	b.IgnoreSleeping(req.IgnoreSleeping)
	b.IgnoreNative(req.IgnoreNative)
	b.ForceFallbackBackend(req.ForceFallbackBackend)

	return b.Build()
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	b, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
