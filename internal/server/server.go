package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/thamizh-labs/palmscribe/internal/common"
	"github.com/thamizh-labs/palmscribe/internal/config"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
	"github.com/thamizh-labs/palmscribe/internal/orchestrator"
	"github.com/thamizh-labs/palmscribe/internal/storage"
)

type Service struct {
	Log    *slog.Logger
	Cfg    *config.Config
	Orch   *orchestrator.Orchestrator
	Intake *storage.Intake
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathManuscripts, svc.withCommon(svc.handleSubmit))
	mux.HandleFunc(http.MethodGet+" "+common.PathManuscripts, svc.withCommon(svc.handleList))
	mux.HandleFunc(http.MethodDelete+" "+common.PathManuscripts+"/{id}", svc.withCommon(svc.handleDelete))

	mux.HandleFunc(http.MethodGet+" "+common.PathSession, svc.withCommon(svc.handleSession))
	mux.HandleFunc(http.MethodPost+" "+common.PathSession+"/reset", svc.withCommon(svc.handleReset))
	mux.HandleFunc(http.MethodPost+" "+common.PathSession+"/select", svc.withCommon(svc.handleSelect))
	mux.HandleFunc(http.MethodPost+" "+common.PathSession+"/retry", svc.withCommon(svc.handleRetry))
	mux.HandleFunc(http.MethodPost+" "+common.PathSession+"/edit", svc.withCommon(svc.handleEdit))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		// Enforce max body size
		max := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type submitResponse struct {
	RecordID  int64  `json:"record_id"`
	StatusURL string `json:"status_url,omitempty"`
}

func (svc *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	fileHeaders := r.MultipartForm.File["file"]
	if len(fileHeaders) == 0 {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}

	data, mimeType, err := svc.Intake.ReadImage(fileHeaders[0])
	if err != nil {
		http.Error(w, "upload failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	svc.Log.Info("manuscript received", "mime", mimeType, "size", humanize.Bytes(uint64(len(data))))

	prefer := strings.ToLower(strings.TrimSpace(r.Header.Get(common.HeaderPrefer)))
	if strings.Contains(prefer, common.PreferRespondAsync) {
		// Detach from the request context; the submission outlives the response.
		go func() {
			if _, err := svc.Orch.Submit(context.Background(), data, mimeType); err != nil {
				svc.Log.Error("async submission failed", "err", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, submitResponse{StatusURL: common.PathSession})
		return
	}

	id, err := svc.Orch.Submit(r.Context(), data, mimeType)
	if err != nil {
		svc.Log.Error("submission failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{RecordID: id, StatusURL: common.PathSession})
}

func (svc *Service) handleList(w http.ResponseWriter, r *http.Request) {
	snap := svc.Orch.Snapshot()
	if len(snap.History) == 0 {
		// Session may not have listed yet; serve the store's view.
		if err := svc.Orch.RefreshHistory(); err != nil {
			svc.Log.Error("list manuscripts", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		snap = svc.Orch.Snapshot()
	}
	writeJSON(w, http.StatusOK, snap.History)
}

func (svc *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := svc.Orch.Delete(id); err != nil {
		if errors.Is(err, manuscript.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		svc.Log.Error("delete manuscript", "id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.Orch.Snapshot())
}

func (svc *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	svc.Orch.Reset()
	writeJSON(w, http.StatusOK, svc.Orch.Snapshot())
}

type selectRequest struct {
	ID int64 `json:"id"`
}

func (svc *Service) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := svc.Orch.SelectRecord(req.ID); err != nil {
		if errors.Is(err, manuscript.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		svc.Log.Error("select manuscript", "id", req.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, svc.Orch.Snapshot())
}

func (svc *Service) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := svc.Orch.RetryRestoration(r.Context()); err != nil {
		svc.redoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.Orch.Snapshot())
}

type editRequest struct {
	Instruction string `json:"instruction"`
}

func (svc *Service) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Instruction == "" {
		http.Error(w, "instruction is required", http.StatusBadRequest)
		return
	}
	if err := svc.Orch.EditRestoration(r.Context(), req.Instruction); err != nil {
		svc.redoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.Orch.Snapshot())
}

func (svc *Service) redoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNoDisplayedImage), errors.Is(err, orchestrator.ErrEmptyInstruction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, manuscript.ErrInvalidImageEncoding):
		http.Error(w, "invalid image encoding", http.StatusUnprocessableEntity)
	default:
		svc.Log.Error("redo failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(b config.ByteSize) int64 {
	if uint64(b) > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}
