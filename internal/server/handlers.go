package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/bami/internal/analytics"
	"github.com/hyperjump/bami/internal/assistant"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/chat"
	"github.com/hyperjump/bami/internal/config"
	"github.com/hyperjump/bami/internal/events"
	"github.com/hyperjump/bami/internal/intake"
	"github.com/hyperjump/bami/internal/keyword"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/internal/pipeline"
	"github.com/hyperjump/bami/internal/storage"
	"go.uber.org/zap"
)

const stuckEvent = "stuck"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"products": cases.Products()})
}

type ingestRequest struct {
	Product   string                 `json:"product"`
	Applicant map[string]interface{} `json:"applicant"`
	Channel   string                 `json:"channel"`
	Owner     string                 `json:"owner"`
}

func (s *Server) handleIngestLead(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.svc.Cases.CreateCase(r.Context(), cases.CreateInput{
		Product:   req.Product,
		Applicant: req.Applicant,
		Channel:   req.Channel,
		Owner:     req.Owner,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if err := s.svc.Chat.Welcome(r.Context(), c); err != nil {
		s.logger.Warn("welcome message not stored", zap.String("case_id", c.ID), zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"case": c.Public()})
}

type markRequest struct {
	ID   string   `json:"id"`
	Docs []string `json:"docs"`
}

func (s *Server) handleMarkDocuments(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.respondError(w, http.StatusBadRequest, "id requerido")
		return
	}
	res, err := s.svc.Intake.MarkSubmitted(r.Context(), req.ID, req.Docs)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "missing_after": res.After})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxFiles, maxBytes := s.config.Intake.MaxFiles, s.config.Intake.MaxFileBytes
	if maxFiles <= 0 {
		maxFiles = intake.DefaultMaxFiles
	}
	if maxBytes <= 0 {
		maxBytes = intake.DefaultMaxFileBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	id := r.FormValue("id")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "id requerido")
		return
	}
	files, err := readUploads(r, maxBytes)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.logger.Debug("upload request", zap.String("case_id", id), zap.Int("files", len(files)))
	c, err := s.svc.Intake.Upload(r.Context(), id, files)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "case": c})
}

// readUploads turns every multipart file into a File whose slot is its form field name.
func readUploads(r *http.Request, maxBytes int64) ([]models.File, error) {
	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var files []models.File
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			if fh.Size > maxBytes {
				return nil, intake.ErrFileTooLarge
			}
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			content, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
			f.Close()
			if err != nil {
				return nil, err
			}
			mimeType := fh.Header.Get("Content-Type")
			if mimeType == "" || mimeType == "application/octet-stream" {
				mimeType = http.DetectContentType(content)
			}
			files = append(files, models.File{
				Slot:         field,
				MimeType:     mimeType,
				Size:         int64(len(content)),
				OriginalName: fh.Filename,
				Content:      content,
			})
		}
	}
	return files, nil
}

func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Cases.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"case": c.Public()})
}

type stateRequest struct {
	Stage models.Stage `json:"stage"`
	Note  string       `json:"note"`
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Stage == "" {
		s.respondError(w, http.StatusBadRequest, "stage requerido")
		return
	}
	note := req.Note
	if note == "" {
		note = "ajuste manual"
	}
	c, err := s.svc.Cases.AdvanceStage(r.Context(), chi.URLParam(r, "id"), req.Stage, note)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"case": c.Public()})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, c, err := s.svc.Validator.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"result": result, "case": c.Public()})
}

type chatRequest struct {
	CaseID  string `json:"caseId"`
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CaseID == "" || strings.TrimSpace(req.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "caseId y message requeridos")
		return
	}
	res, err := s.svc.Chat.Send(r.Context(), req.CaseID, req.Message, assistant.ParseMode(req.Mode))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.Chat.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if history == nil {
		history = []models.ChatMessage{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": history})
}

type webhookRequest struct {
	CaseID string `json:"caseId"`
	Type   string `json:"type"`
	Note   string `json:"note"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if _, err := s.svc.Cases.GetCase(ctx, req.CaseID); err != nil {
		if errors.Is(err, cases.ErrNotFound) {
			s.respondJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error": "case not found"})
			return
		}
		s.respondServiceError(w, err)
		return
	}
	if req.Type == stuckEvent {
		note := req.Note
		if note == "" {
			note = "desatascado"
		}
		if _, err := s.svc.Cases.AdvanceStage(ctx, req.CaseID, models.StageUnderReview, note); err != nil {
			s.respondServiceError(w, err)
			return
		}
	} else {
		s.logger.Debug("webhook event ignored", zap.String("case_id", req.CaseID), zap.String("type", req.Type))
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	auth := &s.config.Auth
	if req.Email != auth.AdminEmail || req.Password != auth.AdminPassword {
		s.respondError(w, http.StatusUnauthorized, "Credenciales inválidas")
		return
	}
	token, expiresAt, err := GenerateToken(req.Email, auth, s.now())
	if err != nil {
		s.logger.Error("failed to sign admin token", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "token error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"token": token, "expires_at": expiresAt})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.Cases.ListCases(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, analytics.Summarize(all))
}

// handleAdminCases lists cases newest first. With ?q= or ?stage= and an index it
// returns search hits in relevance order; ?fuzzy=true tolerates typos.
func (s *Server) handleAdminCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := s.svc.Cases.ListCases(ctx)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	stage := models.Stage(r.URL.Query().Get("stage"))
	if s.svc.Index == nil || (q == "" && stage == "") {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": analytics.Items(all)})
		return
	}

	fuzzy, _ := strconv.ParseBool(r.URL.Query().Get("fuzzy"))
	hits, err := s.svc.Index.Search(ctx, q, &keyword.SearchOptions{Limit: len(all) + 1, Stage: stage, FuzzyEnabled: fuzzy})
	if err != nil {
		s.logger.Error("case search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byID := make(map[string]*models.Case, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	matched := make([]*models.Case, 0, len(hits))
	for _, h := range hits {
		if c, ok := byID[h.ID]; ok {
			matched = append(matched, c)
		}
	}
	items := make([]analytics.CaseItem, 0, len(matched))
	for _, c := range matched {
		items = append(items, analytics.CaseItem{ID: c.ID, Product: c.Product, Stage: c.Stage, Channel: c.Channel, CreatedAt: c.CreatedAt})
	}
	resp := map[string]interface{}{"items": items}
	if len(items) == 0 && q != "" {
		if suggestion, err := s.svc.Index.DidYouMean(q); err == nil && suggestion != "" {
			resp["suggestion"] = suggestion
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.svc.Cases.CountCases(ctx)
	if err != nil {
		s.logger.Error("status: count cases failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"cases":          count,
		"uptime_seconds": int64(s.now().Sub(s.started) / time.Second),
	}
	if s.svc.Runner != nil {
		resp["pipeline_pending"] = s.svc.Runner.Pending()
	}
	if s.svc.Index != nil {
		if n, err := s.svc.Index.DocCount(); err == nil {
			resp["indexed_cases"] = n
		}
	}
	resp["config"] = map[string]interface{}{
		"storage_driver":     s.config.Storage.Driver,
		"blob_driver":        s.config.Blobs.Driver,
		"model":              s.config.AI.Model,
		"max_concurrent":     s.config.Pipeline.MaxConcurrent,
		"serialize_per_case": s.config.Pipeline.SerializePerCaseOrDefault(),
	}
	if fp, err := storage.Measure(s.dataLocations()); err == nil {
		resp["disk_usage"] = fp
		resp["disk_usage_bytes"] = fp.Total()
	} else {
		s.logger.Warn("status: disk usage unavailable", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// dataLocations lists where this server keeps data on disk.
func (s *Server) dataLocations() storage.Locations {
	var loc storage.Locations
	if s.config.Storage.Driver == config.DriverSQLite {
		loc.DatabasePath = s.config.Storage.DatabasePath
	}
	loc.IndexPath = s.config.Storage.IndexPath
	if dir := s.config.Intake.DropDir; dir != "" {
		loc.DropDir = dir
		loc.RejectedDir = filepath.Join(dir, intake.RejectedDir)
	}
	return loc
}

// handleStream keeps an event stream open for one case until the client leaves or the
// server stops.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Cases.GetCase(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	sink, err := events.NewSSESink(w)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()

	s.logger.Debug("stream opened", zap.String("case_id", id))
	s.svc.Hub.Serve(ctx, id, sink)
	s.logger.Debug("stream closed", zap.String("case_id", id))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondServiceError maps domain errors to HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cases.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "case not found")
	case errors.Is(err, intake.ErrNoFiles),
		errors.Is(err, intake.ErrTooManyFiles),
		errors.Is(err, intake.ErrFileTooLarge),
		errors.Is(err, intake.ErrNoSlot),
		errors.Is(err, chat.ErrEmptyMessage):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrCollaborator):
		s.logger.Warn("ai collaborator failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
