package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/logging"
)

// Upload form fields.
const (
	formFile                = "file"
	formImportName          = "importname"
	formEncoding            = "encoding"
	formDelimiter           = "delimiter"
	formIgnoreMissingGroups = "ignoremissinggroups"
	formGroupPattern        = "grouppattern"
	formGroupReplacement    = "groupreplacement"
	formFieldIDField        = "field_idfield"
	formFieldCohort         = "field_cohort"
	formFieldMainGroup      = "field_maingroup"
	formFieldOtherGroups    = "field_othergroups"
)

// errFileTooLarge is returned for uploads over the configured size.
var errFileTooLarge = errors.New("file too large")

// handleImport validates an uploaded roster and stores it as a new import.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	file, opts, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	result, err := s.service.Import(r.Context(), file, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("import stored",
		"import_id", result.ImportID,
		"rows", result.Rows,
		"actor", opts.ActorID,
	)
	writeJSON(w, http.StatusCreated, result)
}

// previewResponse lists the rows an upload would produce.
type previewResponse struct {
	Rows     []core.ImportRow    `json:"rows"`
	ByStatus map[core.Status]int `json:"bystatus"`
}

// handlePreview runs import validation without storing anything.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	file, opts, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	rows, err := s.service.Preview(r.Context(), file, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := previewResponse{Rows: rows, ByStatus: make(map[core.Status]int)}
	if resp.Rows == nil {
		resp.Rows = []core.ImportRow{}
	}
	for _, row := range rows {
		resp.ByStatus[row.Status]++
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseUpload reads the multipart form of an import or preview request.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (multipart.File, core.ImportOptions, error) {
	var opts core.ImportOptions

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, opts, fmt.Errorf("%w: %v", errFileTooLarge, err)
		}
		return nil, opts, badRequest("invalid upload form: %v", err)
	}

	delimiter, err := parseDelimiter(r.FormValue(formDelimiter), s.cfg.Import.DelimiterRune())
	if err != nil {
		return nil, opts, err
	}

	opts = core.ImportOptions{
		ImportName: r.FormValue(formImportName),
		Encoding:   r.FormValue(formEncoding),
		Delimiter:  delimiter,
		Fields: core.FieldNames{
			IDField:     r.FormValue(formFieldIDField),
			Cohort:      r.FormValue(formFieldCohort),
			MainGroup:   r.FormValue(formFieldMainGroup),
			OtherGroups: r.FormValue(formFieldOtherGroups),
		},
		IgnoreMissingGroups: parseBool(r.FormValue(formIgnoreMissingGroups)),
		ActorID:             s.actorID(r),
	}
	if opts.Encoding == "" {
		opts.Encoding = s.cfg.Import.Encoding
	}
	if vals, ok := r.MultipartForm.Value[formGroupPattern]; ok && len(vals) > 0 {
		opts.GroupPattern = &vals[0]
	}
	if vals, ok := r.MultipartForm.Value[formGroupReplacement]; ok && len(vals) > 0 {
		opts.GroupReplacement = &vals[0]
	}

	file, _, err := r.FormFile(formFile)
	if err != nil {
		return nil, opts, badRequest("no file provided")
	}
	return file, opts, nil
}

// runRequest is the optional JSON body of a run request.
type runRequest struct {
	RemoveOtherCohorts bool  `json:"removeothercohorts"`
	RemoveOtherGroups  bool  `json:"removeothergroups"`
	RowID              int64 `json:"rowid"`

	// Deferred defaults to true: rows are queued for the workers.
	Deferred *bool `json:"deferred"`
}

// handleRunImport reconciles the unprocessed rows of one import.
func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	importID, err := strconv.ParseInt(chi.URLParam(r, "importID"), 10, 64)
	if err != nil || importID <= 0 {
		s.respondError(w, r, badRequest("import id must be a positive integer"))
		return
	}

	var body runRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}

	req := core.RunRequest{
		ImportID:           importID,
		RemoveOtherCohorts: body.RemoveOtherCohorts,
		RemoveOtherGroups:  body.RemoveOtherGroups,
		RowID:              body.RowID,
		Deferred:           body.Deferred == nil || *body.Deferred,
		ActorID:            s.actorID(r),
	}
	result, err := s.service.RunImport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if req.Deferred {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// handleListUnprocessed lists imports with rows still to run.
func (s *Server) handleListUnprocessed(w http.ResponseWriter, r *http.Request) {
	imports, err := s.service.UnprocessedImports(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imports)
}

// handleImportStatuses reports the progress of every import.
func (s *Server) handleImportStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.service.ImportStatuses(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []core.ImportStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}
