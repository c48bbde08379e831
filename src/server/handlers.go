package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"SpeedRecords/src/analysis"
	"SpeedRecords/src/processor"
	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a page of records
type PaginatedResponse struct {
	Data       []processor.Record `json:"data"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"total_pages"`
}

// SummaryResponse is the headline figures plus the map extent.
type SummaryResponse struct {
	RunID    string           `json:"run_id"`
	Source   string           `json:"source"`
	LoadedAt time.Time        `json:"loaded_at"`
	Summary  analysis.Summary `json:"summary"`
	Bounds   *analysis.Bounds `json:"bounds"`
	Limits   []float64        `json:"limits"`
	Counts   map[string]int   `json:"counts"`
}

// current loads the result or writes a 503 and returns nil.
func (s *Server) current(w http.ResponseWriter, r *http.Request) *processor.Result {
	res, err := s.results(r.Context())
	if err != nil {
		s.logError("load result failed", "path", r.URL.Path, "error", err)
		s.sendError(w, "data is not available: "+err.Error(), http.StatusServiceUnavailable)
		return nil
	}
	return res
}

// GET /api/records/filtered
func (s *Server) getFiltered(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}
	s.sendPage(w, r, res.Filtered)
}

// GET /api/records/valid?limite=90
func (s *Server) getValid(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}
	df, ok := s.limitFilter(w, r, res.Valid)
	if !ok {
		return
	}
	s.sendPage(w, r, df)
}

func (s *Server) getHourWeekday(w http.ResponseWriter, r *http.Request) {
	if res := s.current(w, r); res != nil {
		s.sendJSON(w, res.HourWeekday, http.StatusOK)
	}
}

func (s *Server) getWeekdayMonth(w http.ResponseWriter, r *http.Request) {
	if res := s.current(w, r); res != nil {
		s.sendJSON(w, res.WeekdayMonth, http.StatusOK)
	}
}

// GET /api/summary
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}

	sum, err := analysis.Summarize(res.Filtered)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	limits, err := analysis.UniqueLimits(res.Valid)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	resp := SummaryResponse{
		RunID:    res.RunID,
		Source:   res.Source,
		LoadedAt: res.LoadedAt,
		Summary:  sum,
		Limits:   limits,
		Counts: map[string]int{
			"read":     res.Diagnostics.RowsRead,
			"cleaned":  res.Diagnostics.RowsCleaned,
			"filtered": res.Diagnostics.RowsFiltered,
			"valid":    res.Diagnostics.RowsValid,
		},
	}
	if b, ok, err := analysis.CoordinateBounds(res.Valid); err != nil {
		s.internalError(w, r, err)
		return
	} else if ok {
		resp.Bounds = &b
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) getDescribe(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}
	desc, err := analysis.Describe(res.Filtered)
	if errors.Is(err, analysis.ErrNoRows) {
		s.sendJSON(w, map[string]map[string]*float64{}, http.StatusOK)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.sendJSON(w, desc, http.StatusOK)
}

func (s *Server) getLimits(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}
	limits, err := analysis.UniqueLimits(res.Valid)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.sendJSON(w, limits, http.StatusOK)
}

// GET /api/histogram?column=difference&bins=60&limite=90
// Without limite the filtered records are binned, with it the valid records
// at that limit.
func (s *Server) getHistogram(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}

	q := r.URL.Query()
	col := q.Get("column")
	if col == "" {
		col = processor.ColDifference
	}
	bins := analysis.DefaultBins
	if b := q.Get("bins"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil {
			s.sendError(w, "bins must be an integer", http.StatusBadRequest)
			return
		}
		bins = n
	}

	df := res.Filtered
	if q.Get("limite") != "" {
		var ok bool
		if df, ok = s.limitFilter(w, r, res.Valid); !ok {
			return
		}
	}

	h, err := analysis.NewHistogram(df, col, bins)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sendJSON(w, h, http.StatusOK)
}

// GET /api/distribution?column=weekday_name
func (s *Server) getDistribution(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}
	col := r.URL.Query().Get("column")
	if col == "" {
		col = processor.ColWeekdayName
	}
	dist, err := analysis.Distribution(res.Filtered, col)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sendJSON(w, dist, http.StatusOK)
}

func (s *Server) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	if res := s.current(w, r); res != nil {
		s.sendJSON(w, res.Diagnostics, http.StatusOK)
	}
}

// GET /api/export.xlsx
func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	res := s.current(w, r)
	if res == nil {
		return
	}
	var buf bytes.Buffer
	if err := utils.WriteExcel(&buf, res.Sheets()...); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="speed-records-%s.xlsx"`, res.LoadedAt.Format("20060102150405")))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GET /healthz
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	s.sendJSON(w, status, http.StatusOK)
}

func (s *Server) limitFilter(w http.ResponseWriter, r *http.Request, df dataframe.DataFrame) (dataframe.DataFrame, bool) {
	raw := r.URL.Query().Get("limite")
	if raw == "" {
		return df, true
	}
	limit, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.sendError(w, "limite must be a number", http.StatusBadRequest)
		return df, false
	}
	out, err := analysis.FilterByLimit(df, limit)
	if err != nil {
		s.internalError(w, r, err)
		return df, false
	}
	return out, true
}

func (s *Server) sendPage(w http.ResponseWriter, r *http.Request, df dataframe.DataFrame) {
	page, limit := 1, defaultPageSize
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageSize {
		limit = l
	}

	total := df.Nrow()
	// compare before multiplying so a huge page cannot overflow
	start := total
	if page-1 <= total/limit {
		start = (page - 1) * limit
	}
	idx := []int{}
	for i := start; i < total && len(idx) < limit; i++ {
		idx = append(idx, i)
	}
	recs, err := processor.Records(df.Subset(idx))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if recs == nil {
		recs = []processor.Record{}
	}

	s.sendJSON(w, PaginatedResponse{
		Data:       recs,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

func (s *Server) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logError("encode response", "status", statusCode, "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logError("request failed", "path", r.URL.Path, "error", err)
	s.sendError(w, "internal error", http.StatusInternalServerError)
}
