package api

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"fieldbook/internal/domain"
	"fieldbook/internal/export"
	"fieldbook/internal/models"
	"fieldbook/internal/service"

	"github.com/rs/zerolog"
)

const (
	lookupLimit  = 10
	lookupWindow = 15 * time.Minute
	xlsxType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type lookupRequest struct {
	JobNumber string `json:"job_number"`
	Email     string `json:"email"`
}

// selfServiceRequest carries the capability key and the customer's changes.
type selfServiceRequest struct {
	lookupRequest
	service.SelfServicePatch
	Date *string `json:"date,omitempty"`
}

func (req lookupRequest) validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(req.JobNumber) == "" {
		fields["job_number"] = "is required"
	}
	if strings.TrimSpace(req.Email) == "" {
		fields["email"] = "is required"
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// throttleLookup limits job number and email guesses per client. It fails open
// when the session store is unreachable.
func (s *HTTPServer) throttleLookup(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Sessions == nil {
		return true
	}
	allowed, err := s.deps.Sessions.CheckRateLimit(r.Context(), "self-service:"+clientKey(r), lookupLimit, lookupWindow)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("self-service rate limit check failed")
		return true
	}
	if !allowed {
		writeMessage(w, http.StatusTooManyRequests, "Too many lookups. Please try again later.")
		return false
	}
	return true
}

func (s *HTTPServer) handleSelfServiceLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.throttleLookup(w, r) {
		return
	}

	res, err := s.deps.Bookings.SelfServiceLookup(r.Context(), req.JobNumber, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSelfServiceModify(w http.ResponseWriter, r *http.Request) {
	var req selfServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.throttleLookup(w, r) {
		return
	}

	patch := req.SelfServicePatch
	if req.Date != nil {
		d, err := s.parseDate("date", *req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Date = &d
	}

	res, err := s.deps.Bookings.SelfServiceModify(r.Context(), req.JobNumber, req.Email, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSelfServiceFile takes a multipart form with job_number, email and file.
func (s *HTTPServer) handleSelfServiceFile(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer upload.close()

	req := lookupRequest{JobNumber: r.FormValue("job_number"), Email: r.FormValue("email")}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.throttleLookup(w, r) {
		return
	}

	res, err := s.deps.Bookings.SelfServiceAttachFile(r.Context(), req.JobNumber, req.Email, upload.name, upload.file, upload.contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleAdminFile(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer upload.close()

	res, err := s.deps.Bookings.AttachFile(r.Context(), r.PathValue("id"), upload.name, upload.file, upload.contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type fileUpload struct {
	file        multipart.File
	name        string
	contentType string
}

func (u *fileUpload) close() {
	_ = u.file.Close()
}

// readUpload parses the multipart body, capped at the configured upload size.
func (s *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) (*fileUpload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Files must be smaller than %d MB.", s.maxUpload>>20))
			return nil, false
		}
		writeError(w, r, domain.NewValidationError("file", "must be sent as multipart/form-data"))
		return nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.NewValidationError("file", "is required"))
		return nil, false
	}
	if header.Size > s.maxUpload {
		f.Close()
		writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Files must be smaller than %d MB.", s.maxUpload>>20))
		return nil, false
	}

	return &fileUpload{
		file:        f,
		name:        header.Filename,
		contentType: header.Header.Get("Content-Type"),
	}, true
}

type filesResponse struct {
	Message string            `json:"message"`
	Files   []models.FileInfo `json:"files"`
}

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit <= 0 || limit > 1000 {
		writeError(w, r, domain.NewValidationError("limit", "must be between 1 and 1000"))
		return
	}

	files, err := s.deps.Bookings.ListFiles(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if files == nil {
		files = []models.FileInfo{}
	}
	writeJSON(w, http.StatusOK, filesResponse{Message: fmt.Sprintf("%d file(s).", len(files)), Files: files})
}

// handleExport streams the month schedule as an xlsx workbook.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Exports are not available right now.")
		return
	}
	year, month, err := s.monthParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Exporter.Write(r.Context(), &buf, year, month); err != nil {
		writeError(w, r, &domain.StorageError{Op: "export", Err: err})
		return
	}

	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(year, month)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
