// Package frontend implements the CIF HTTP API.
//
// The read path serves sources, generations, artifacts, and the four
// fragment search variants; the admin path queries deferred disaggregation
// work. Every paginated response uses the QueryResults envelope.
package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.skia.org/cif/go/cif/catalog"
	"go.skia.org/cif/go/cif/factory"
	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/httputils"
	"go.skia.org/cif/go/sklog"
	"go.skia.org/cif/go/util"
)

const defaultLimit = 100

// Frontend routes API requests to the catalog.
type Frontend struct {
	cat     catalog.Catalog
	fact    *factory.Factory
	version string
}

// New returns a Frontend serving the given catalog. version is reported by
// the health check.
func New(cat catalog.Catalog, fact *factory.Factory, version string) *Frontend {
	return &Frontend{
		cat:     cat,
		fact:    fact,
		version: version,
	}
}

// RegisterHandlers registers every API route on router.
func (f *Frontend) RegisterHandlers(router *chi.Mux) {
	router.Get("/1/ruok", f.ruokHandler)
	router.Get("/1/sources", f.sourcesHandler)
	router.Post("/1/source/search", f.searchSourcesHandler)
	router.Get("/1/source/{source_id}/generations", f.generationsHandler)
	router.Get("/1/source/{source_id}/generation/latest", f.latestGenerationHandler)
	router.Get("/1/source/{source_id}/generation/{generation_id}/artifacts", f.artifactsHandler)
	router.Get("/1/source/{source_id}/generation/{generation_id}/diff/{other_generation_id}", f.diffGenerationsHandler)
	router.Get("/1/artifact/{artifact_id}", f.artifactHandler)
	router.Post("/1/fragment/search", f.searchFragmentsHandler)
	router.Post("/1/fragment/search/ngram", f.searchFragmentsNgramHandler)
	router.Post("/1/fragment/search/json", f.searchFragmentsJSONHandler)
	router.Post("/1/fragment/search/key", f.searchFragmentsKeyHandler)
	router.Post("/1/admin/deferred_disaggregation", f.deferredDisaggregationsHandler)
	router.Post("/1/admin/deferred_disaggregation/summary", f.deferredSummariesHandler)
}

// QueryResults is the envelope for every paginated response. NextOffset is
// null once the last page has been returned.
type QueryResults struct {
	NextOffset *int        `json:"next_offset"`
	Records    interface{} `json:"records"`
}

// results wraps one page of records, translating the catalog's
// NoMoreResults sentinel into a null next_offset.
func results(records interface{}, next int) QueryResults {
	qr := QueryResults{Records: records}
	if next != catalog.NoMoreResults {
		qr.NextOffset = &next
	}
	return qr
}

// statusFor maps an error to the HTTP status code it should produce.
func statusFor(err error) int {
	switch {
	case types.IsNotFound(err):
		return http.StatusNotFound
	case types.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded) || status.Code(errors.Cause(err)) == codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func reportError(w http.ResponseWriter, err error, message string) {
	httputils.ReportError(w, err, message, statusFor(err))
}

func sendJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		sklog.Errorf("Failed to write response: %s", err)
	}
}

// decode parses a JSON request body. Undecodable bodies are rejected with
// 422, matching the validation behavior of the API's clients.
func decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		httputils.ReportError(w, err, "Failed to decode request", http.StatusUnprocessableEntity)
		return false
	}
	return true
}

// pagination reads the limit and offset query parameters, applying the
// default page size when absent.
func pagination(r *http.Request) (int, int, error) {
	limit, offset := defaultLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, types.Validationf("invalid limit %q", v)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		var err error
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, types.Validationf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

// orDefault substitutes the default page size for an unset limit.
func orDefault(limit int) int {
	if limit == 0 {
		return defaultLimit
	}
	return limit
}

func generationID(r *http.Request, param string) (int64, error) {
	v := chi.URLParam(r, param)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, types.Validationf("invalid generation id %q", v)
	}
	return id, nil
}

type ruokResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (f *Frontend) ruokHandler(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, ruokResponse{Status: "ok", Version: f.version})
}

func (f *Frontend) sourcesHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		reportError(w, err, "Invalid pagination")
		return
	}
	sources, next, err := f.cat.Sources(r.Context(), limit, offset)
	if err != nil {
		reportError(w, err, "Failed to list sources")
		return
	}
	sendJSON(w, results(sources, next))
}

// SourceSearchRequest selects sources whose external_id contains the given
// substring.
type SourceSearchRequest struct {
	ExternalIDLike string `json:"external_id_like"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

func (f *Frontend) searchSourcesHandler(w http.ResponseWriter, r *http.Request) {
	var req SourceSearchRequest
	if !decode(w, r, &req) {
		return
	}
	sources, next, err := f.cat.SearchSources(r.Context(), req.ExternalIDLike, orDefault(req.Limit), req.Offset)
	if err != nil {
		reportError(w, err, "Failed to search sources")
		return
	}
	sendJSON(w, results(sources, next))
}

func (f *Frontend) generationsHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	limit, offset, err := pagination(r)
	if err != nil {
		reportError(w, err, "Invalid pagination")
		return
	}
	if _, err := f.cat.Source(r.Context(), sourceID); err != nil {
		reportError(w, err, fmt.Sprintf("Source %s not found", sourceID))
		return
	}
	generations, next, err := f.cat.Generations(r.Context(), sourceID, limit, offset)
	if err != nil {
		reportError(w, err, "Failed to list generations")
		return
	}
	sendJSON(w, results(generations, next))
}

func (f *Frontend) latestGenerationHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	generation, err := f.cat.LatestGeneration(r.Context(), sourceID)
	if err != nil {
		reportError(w, err, fmt.Sprintf("No generations found for source %s", sourceID))
		return
	}
	sendJSON(w, generation)
}

func (f *Frontend) artifactsHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	limit, offset, err := pagination(r)
	if err != nil {
		reportError(w, err, "Invalid pagination")
		return
	}
	genID, err := generationID(r, "generation_id")
	if err != nil {
		reportError(w, err, "Invalid generation id")
		return
	}
	if _, err := f.cat.Source(r.Context(), sourceID); err != nil {
		reportError(w, err, fmt.Sprintf("Source %s not found", sourceID))
		return
	}
	if _, err := f.cat.Generation(r.Context(), sourceID, genID); err != nil {
		reportError(w, err, fmt.Sprintf("Generation %d not found", genID))
		return
	}
	list := f.cat.GenerationArtifacts
	if newOnly, _ := strconv.ParseBool(r.URL.Query().Get("new_only")); newOnly {
		list = f.cat.NewArtifacts
	}
	artifacts, next, err := list(r.Context(), sourceID, genID, limit, offset)
	if err != nil {
		reportError(w, err, "Failed to list artifacts")
		return
	}
	sendJSON(w, results(artifacts, next))
}

func (f *Frontend) diffGenerationsHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	limit, offset, err := pagination(r)
	if err != nil {
		reportError(w, err, "Invalid pagination")
		return
	}
	genIDA, err := generationID(r, "generation_id")
	if err != nil {
		reportError(w, err, "Invalid generation id")
		return
	}
	genIDB, err := generationID(r, "other_generation_id")
	if err != nil {
		reportError(w, err, "Invalid generation id")
		return
	}
	if _, err := f.cat.Source(r.Context(), sourceID); err != nil {
		reportError(w, err, fmt.Sprintf("Source %s not found", sourceID))
		return
	}
	if _, err := f.cat.Generation(r.Context(), sourceID, genIDA); err != nil {
		reportError(w, err, fmt.Sprintf("Generation %d not found", genIDA))
		return
	}
	changes, next, err := f.cat.DiffGenerations(r.Context(), sourceID, genIDA, genIDB, limit, offset)
	if err != nil {
		reportError(w, err, "Failed to diff generations")
		return
	}
	sendJSON(w, results(changes, next))
}

// extensionFor guesses a filename extension for a content type, or returns
// the empty string when none is registered.
func extensionFor(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// artifactHandler streams the artifact's content from its source's store.
func (f *Frontend) artifactHandler(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifact_id")
	artifact, err := f.cat.Artifact(r.Context(), artifactID)
	if err != nil {
		reportError(w, err, fmt.Sprintf("Artifact %s not found", artifactID))
		return
	}
	source, err := f.cat.Source(r.Context(), artifact.SourceID)
	if err != nil {
		reportError(w, err, fmt.Sprintf("Source %s not found", artifact.SourceID))
		return
	}
	conn, err := f.fact.Connector(source)
	if err != nil {
		reportError(w, err, "Failed to build connector")
		return
	}
	rc, _, err := conn.GetArtifact(r.Context(), artifact.ExternalID, artifact.Version)
	if err != nil {
		reportError(w, err, fmt.Sprintf("Failed to read artifact %s", artifactID))
		return
	}
	defer util.Close(rc)
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s%s", artifact.ArtifactID, extensionFor(artifact.ContentType)))
	if _, err := io.Copy(w, rc); err != nil {
		sklog.Errorf("Failed to stream artifact %s: %s", artifactID, err)
	}
}

// FragmentSearchRequest is the body of the text and ngram search routes.
type FragmentSearchRequest struct {
	SourceID         string                 `json:"source_id"`
	Query            string                 `json:"query"`
	ScoreQuery       string                 `json:"score_query"`
	Limit            int                    `json:"limit"`
	Offset           int                    `json:"offset"`
	AggregationLevel types.AggregationLevel `json:"aggregation_level"`
	ExternalID       string                 `json:"external_id"`
	GenerationID     int64                  `json:"generation_id"`
}

func (req FragmentSearchRequest) options() catalog.SearchOptions {
	return catalog.SearchOptions{
		AggregationLevel: req.AggregationLevel,
		GenerationID:     req.GenerationID,
		ExternalID:       req.ExternalID,
	}
}

func (f *Frontend) searchFragments(w http.ResponseWriter, r *http.Request, ngram bool) {
	var req FragmentSearchRequest
	if !decode(w, r, &req) {
		return
	}
	matches, next, err := f.cat.SearchFragments(r.Context(), req.SourceID, req.Query, req.ScoreQuery, ngram,
		req.options(), orDefault(req.Limit), req.Offset)
	if err != nil {
		reportError(w, err, "Failed to search fragments")
		return
	}
	sendJSON(w, results(matches, next))
}

func (f *Frontend) searchFragmentsHandler(w http.ResponseWriter, r *http.Request) {
	f.searchFragments(w, r, false)
}

func (f *Frontend) searchFragmentsNgramHandler(w http.ResponseWriter, r *http.Request) {
	f.searchFragments(w, r, true)
}

// FragmentJSONSearchRequest is the body of the JSON content search route.
type FragmentJSONSearchRequest struct {
	SourceID         string                 `json:"source_id"`
	Query            []types.JSONSearchTerm `json:"query"`
	Limit            int                    `json:"limit"`
	Offset           int                    `json:"offset"`
	AggregationLevel types.AggregationLevel `json:"aggregation_level"`
	ExternalID       string                 `json:"external_id"`
	GenerationID     int64                  `json:"generation_id"`
}

func (f *Frontend) searchFragmentsJSONHandler(w http.ResponseWriter, r *http.Request) {
	var req FragmentJSONSearchRequest
	if !decode(w, r, &req) {
		return
	}
	opts := catalog.SearchOptions{
		AggregationLevel: req.AggregationLevel,
		GenerationID:     req.GenerationID,
		ExternalID:       req.ExternalID,
	}
	matches, next, err := f.cat.SearchFragmentsJSON(r.Context(), req.SourceID, req.Query, opts,
		orDefault(req.Limit), req.Offset)
	if err != nil {
		reportError(w, err, "Failed to search fragments")
		return
	}
	sendJSON(w, results(matches, next))
}

// FragmentKeySearchRequest is the body of the fragment key search route.
type FragmentKeySearchRequest struct {
	SourceID         string                 `json:"source_id"`
	Query            []types.KeySearchTerm  `json:"query"`
	Limit            int                    `json:"limit"`
	Offset           int                    `json:"offset"`
	AggregationLevel types.AggregationLevel `json:"aggregation_level"`
	ExternalID       string                 `json:"external_id"`
	GenerationID     int64                  `json:"generation_id"`
}

func (f *Frontend) searchFragmentsKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req FragmentKeySearchRequest
	if !decode(w, r, &req) {
		return
	}
	opts := catalog.SearchOptions{
		AggregationLevel: req.AggregationLevel,
		GenerationID:     req.GenerationID,
		ExternalID:       req.ExternalID,
	}
	matches, next, err := f.cat.SearchFragmentsKey(r.Context(), req.SourceID, req.Query, opts,
		orDefault(req.Limit), req.Offset)
	if err != nil {
		reportError(w, err, "Failed to search fragments")
		return
	}
	sendJSON(w, results(matches, next))
}

// DeferredSearchRequest selects deferred disaggregation rows by source and
// creation time range. An absent range means the current day.
type DeferredSearchRequest struct {
	SourceID       string    `json:"source_id"`
	CreatedOnStart time.Time `json:"created_on_start"`
	CreatedOnEnd   time.Time `json:"created_on_end"`
	Limit          int       `json:"limit"`
	Offset         int       `json:"offset"`
}

func (req DeferredSearchRequest) query() catalog.DeferredQuery {
	return catalog.DeferredQuery{
		SourceID:       req.SourceID,
		CreatedOnStart: req.CreatedOnStart,
		CreatedOnEnd:   req.CreatedOnEnd,
		Limit:          orDefault(req.Limit),
		Offset:         req.Offset,
	}
}

func (f *Frontend) deferredDisaggregationsHandler(w http.ResponseWriter, r *http.Request) {
	var req DeferredSearchRequest
	if !decode(w, r, &req) {
		return
	}
	rows, next, err := f.cat.DeferredDisaggregations(r.Context(), req.query())
	if err != nil {
		reportError(w, err, "Failed to list deferred disaggregations")
		return
	}
	sendJSON(w, results(rows, next))
}

func (f *Frontend) deferredSummariesHandler(w http.ResponseWriter, r *http.Request) {
	var req DeferredSearchRequest
	if !decode(w, r, &req) {
		return
	}
	summaries, next, err := f.cat.DeferredDisaggregationSummaries(r.Context(), req.query())
	if err != nil {
		reportError(w, err, "Failed to summarize deferred disaggregations")
		return
	}
	sendJSON(w, results(summaries, next))
}
