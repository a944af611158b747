package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"idcheck.org/internal/audit"
	"idcheck.org/internal/auth"
	"idcheck.org/internal/checker"
	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

const defaultRecentLimit = 20

type validateRequest struct {
	Number string `json:"number"`
}

type checkRequest struct {
	Number         string          `json:"number"`
	ValidationType string          `json:"validation_type"`
	Source         string          `json:"source"`
	Details        json.RawMessage `json:"details"`
}

type correctRequest struct {
	ValidationType    *string    `json:"validation_type"`
	Source            *string    `json:"source"`
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at"`
}

type listResponse struct {
	Items  []validationlog.Record `json:"items"`
	Total  int64                  `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

type recordsResponse struct {
	Items []validationlog.Record `json:"items"`
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeError(w, r, http.StatusBadRequest, "number is required")
		return
	}
	writeJSON(w, http.StatusOK, checker.NewVerdict(req.Number, a.checker.Validate(req.Number)))
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeError(w, r, http.StatusBadRequest, "number is required")
		return
	}
	if bytes.Equal(bytes.TrimSpace(req.Details), []byte("null")) {
		req.Details = nil
	}
	actor, _ := auth.UserIDFromContext(r.Context())

	res, err := a.checker.Check(r.Context(), checker.Request{
		Number:         req.Number,
		ValidationType: strings.TrimSpace(req.ValidationType),
		Source:         strings.TrimSpace(req.Source),
		Details:        req.Details,
		Actor:          validationlog.ActorID(actor),
		IP:             clientIP(r),
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/validation-logs/"+string(res.Record.ID))
	writeJSON(w, http.StatusCreated, checker.CheckReply{
		Verdict: checker.NewVerdict(req.Number, res.Outcome),
		Record:  res.Record,
	})
}

func (a *API) handleListLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := a.checker.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	norm, _ := f.Normalize()
	writeJSON(w, http.StatusOK, listResponse{
		Items:  page.Items,
		Total:  page.Total,
		Limit:  norm.Limit,
		Offset: norm.Offset,
	})
}

func (a *API) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt(r.URL.Query().Get("limit"), "limit", defaultRecentLimit, 0, validationlog.MaxPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.checker.Recent(r.Context(), limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Items: items})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.checker.Stats(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleLogsByNumber(w http.ResponseWriter, r *http.Request) {
	items, err := a.checker.History(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Items: items})
}

func (a *API) handleLogsByActor(w http.ResponseWriter, r *http.Request) {
	items, err := a.checker.ByActor(r.Context(), validationlog.ActorID(chi.URLParam(r, "actor")))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Items: items})
}

func (a *API) handleGetLog(w http.ResponseWriter, r *http.Request) {
	rec, err := a.checker.Get(r.Context(), validationlog.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleCorrectLog(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ValidationType == nil && req.Source == nil {
		writeError(w, r, http.StatusBadRequest, "validation_type or source is required")
		return
	}
	c := validationlog.Correction{
		ValidationType: trimmed(req.ValidationType),
		Source:         trimmed(req.Source),
		UpdatedFromIP:  clientIP(r),
	}
	if req.ExpectedUpdatedAt != nil {
		c.ExpectedUpdatedAt = *req.ExpectedUpdatedAt
	}

	id := validationlog.ID(chi.URLParam(r, "id"))
	rec, err := a.checker.Correct(r.Context(), id, c)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	fields := map[string]any{"id": string(id)}
	if c.ValidationType != nil {
		fields["validation_type"] = *c.ValidationType
	}
	if c.Source != nil {
		fields["source"] = *c.Source
	}
	_ = audit.LogEvent(r.Context(), audit.EventRecordCorrected, fields)

	writeJSON(w, http.StatusOK, rec)
}

func parseFilter(q url.Values) (validationlog.Filter, error) {
	f := validationlog.Filter{
		Number:         strings.TrimSpace(q.Get("number")),
		ValidationType: strings.TrimSpace(q.Get("validation_type")),
		Source:         strings.TrimSpace(q.Get("source")),
		Actor:          validationlog.ActorID(strings.TrimSpace(q.Get("actor"))),
	}
	if raw := strings.TrimSpace(q.Get("valid")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errors.New("valid must be true or false")
		}
		f.Valid = &v
	}
	if raw := strings.TrimSpace(q.Get("gender")); raw != "" {
		g, err := idcard.ParseGender(raw)
		if err != nil {
			return f, fmt.Errorf("gender %q is not one of %s", raw, genderNames())
		}
		f.Gender = &g
	}
	var err error
	if f.CreatedFrom, err = parseTime(q.Get("created_from"), "created_from"); err != nil {
		return f, err
	}
	if f.CreatedTo, err = parseTime(q.Get("created_to"), "created_to"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q.Get("limit"), "limit", validationlog.DefaultPageSize, 1, validationlog.MaxPageSize); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt(q.Get("offset"), "offset", 0, 0, 1<<31-1); err != nil {
		return f, err
	}
	return f, nil
}

// parseTime accepts RFC 3339 timestamps or bare dates (midnight UTC).
func parseTime(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name)
}

func parseInt(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return val, nil
}

func genderNames() string {
	names := make([]string, len(idcard.Genders))
	for i, g := range idcard.Genders {
		names[i] = g.String()
	}
	return strings.Join(names, ", ")
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
