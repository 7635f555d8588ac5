package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

type appResponse struct {
	Info          catalog.EntityInfo    `json:"info"`
	Metric        *catalog.EntityMetric `json:"metric"`
	Rating        *catalog.EntityRating `json:"rating"`
	IsNew         bool                  `json:"is_new"`
	InfoChanged   bool                  `json:"info_changed"`
	MetricChanged bool                  `json:"metric_changed"`
	RatingChanged bool                  `json:"rating_changed"`
}

// getApp handles GET /v1/apps/{key}?refresh=&listed_at=. By default the entity
// is fetched from the remote and ingested; refresh=false reads the store.
func (s *Server) getApp(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid key")
		return
	}
	key := catalog.ParseKey(raw)
	if err := key.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	refresh := true
	if v := r.URL.Query().Get("refresh"); v != "" {
		refresh, err = strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "refresh must be a boolean")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	if !refresh {
		if s.entities == nil {
			s.writeError(w, http.StatusServiceUnavailable, "entity store unavailable")
			return
		}
		view, err := s.entities.Lookup(ctx, key)
		if err != nil {
			s.writeFailure(w, key, err)
			return
		}
		s.writeJSON(w, http.StatusOK, appResponse{Info: view.Info, Metric: view.Metric, Rating: view.Rating})
		return
	}

	opts, err := ingestOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.ingester.Ingest(ctx, key, opts)
	if err != nil {
		s.writeFailure(w, key, err)
		return
	}
	s.writeJSON(w, http.StatusOK, appResponse{
		Info:          res.Info,
		Metric:        res.Metric,
		Rating:        res.Rating,
		IsNew:         res.IsNew,
		InfoChanged:   res.InfoChanged,
		MetricChanged: res.MetricChanged,
		RatingChanged: res.RatingChanged,
	})
}

func ingestOptions(r *http.Request) (store.IngestOptions, error) {
	var opts store.IngestOptions
	if v := strings.TrimSpace(r.URL.Query().Get("listed_at")); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("listed_at must be RFC3339: %w", err)
		}
		at = at.UTC()
		opts.ListedAt = &at
	}
	if v := strings.TrimSpace(r.URL.Query().Get("comment")); v != "" {
		if !json.Valid([]byte(v)) {
			return opts, errors.New("comment must be valid JSON")
		}
		opts.Comment = json.RawMessage(v)
	}
	return opts, nil
}

// writeFailure maps pipeline errors onto HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, key catalog.EntityKey, err error) {
	var (
		remoteErr *catalog.RemoteError
		decodeErr *catalog.DecodeError
		storeErr  *catalog.StoreError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "entity not found")
	case errors.As(err, &remoteErr) && remoteErr.Empty():
		s.writeError(w, http.StatusNotFound, "entity not found upstream")
	case errors.Is(err, catalog.ErrCredentialsUnavailable):
		s.logger.Warn("lookup without credentials", zap.String("candidate", key.String()), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "upstream credentials unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "lookup timed out")
	case errors.As(err, &remoteErr), errors.As(err, &decodeErr):
		s.logger.Warn("upstream lookup failed", zap.String("candidate", key.String()), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "upstream lookup failed")
	case errors.As(err, &storeErr):
		s.logger.Error("store failed", zap.String("candidate", key.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store failed")
	default:
		s.logger.Error("lookup failed", zap.String("candidate", key.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
	}
}

// listRuns handles GET /v1/runs?limit=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	runs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRunLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxRunLimit), nil
}
