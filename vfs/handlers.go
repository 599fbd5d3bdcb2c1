package vfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v4/disk"
)

// StatsResponse holds aggregate engine statistics.
type StatsResponse struct {
	Sources        int            `json:"sources"`
	DiskTotal      int64          `json:"diskTotal"`
	DiskFree       int64          `json:"diskFree"`
	DiskTotalHuman string         `json:"diskTotalHuman"`
	DiskFreeHuman  string         `json:"diskFreeHuman"`
	Transfers      map[string]int `json:"transfers"`
	OpsCompleted   int            `json:"opsCompleted"`
	OpsFailed      int            `json:"opsFailed"`
	RecentErrors   []LogEntry     `json:"recentErrors"`
}

// Handlers holds the HTTP handlers for the engine API.
type Handlers struct {
	registry  *Registry
	clip      *Clipboard
	native    *NativeBridge
	ops       *FileOps
	engine    *Engine
	tiering   *Coordinator
	transcode *TranscodeService
	ledger    *Ledger
	bus       *EventBus

	upgrader websocket.Upgrader
}

// NewHandlers creates the engine HTTP handlers.
func NewHandlers(registry *Registry, clip *Clipboard, native *NativeBridge, ops *FileOps,
	engine *Engine, tiering *Coordinator, transcode *TranscodeService, ledger *Ledger, bus *EventBus) *Handlers {
	return &Handlers{
		registry:  registry,
		clip:      clip,
		native:    native,
		ops:       ops,
		engine:    engine,
		tiering:   tiering,
		transcode: transcode,
		ledger:    ledger,
		bus:       bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the API router.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/vfs").Subrouter()

	api.HandleFunc("/sources", h.HandleListSources).Methods("GET")
	api.HandleFunc("/sources/{id}/entries", h.HandleListEntries).Methods("GET")
	api.HandleFunc("/sources/{id}/presign", h.HandlePresign).Methods("GET")

	api.HandleFunc("/clipboard", h.HandleGetClipboard).Methods("GET")
	api.HandleFunc("/clipboard", h.HandleClearClipboard).Methods("DELETE")
	api.HandleFunc("/clipboard/copy", h.HandleClipboardCopy).Methods("POST")
	api.HandleFunc("/clipboard/cut", h.HandleClipboardCut).Methods("POST")
	api.HandleFunc("/clipboard/paste", h.HandlePaste).Methods("POST")
	api.HandleFunc("/clipboard/copy-for-native", h.HandleCopyForNative).Methods("POST")
	api.HandleFunc("/clipboard/paste-native", h.HandlePasteNative).Methods("POST")
	api.HandleFunc("/clipboard/read-native", h.HandleReadNative).Methods("GET")

	api.HandleFunc("/files/move", h.HandleMove).Methods("POST")
	api.HandleFunc("/files/copy", h.HandleCopy).Methods("POST")
	api.HandleFunc("/files/rename", h.HandleRename).Methods("POST")
	api.HandleFunc("/files/delete", h.HandleDelete).Methods("POST")
	api.HandleFunc("/files/mkdir", h.HandleMkdir).Methods("POST")

	api.HandleFunc("/tier/warm", h.HandleWarm).Methods("POST")
	api.HandleFunc("/tier/change", h.HandleChangeTier).Methods("POST")
	api.HandleFunc("/tier/status", h.HandleTierStatus).Methods("GET")
	api.HandleFunc("/transcode", h.HandleTranscode).Methods("POST")

	api.HandleFunc("/transfers/upload", h.HandleUpload).Methods("POST")
	api.HandleFunc("/transfers/download", h.HandleDownload).Methods("POST")
	api.HandleFunc("/transfers", h.HandleListTransfers).Methods("GET")
	api.HandleFunc("/transfers/{id}", h.HandleGetTransfer).Methods("GET")
	api.HandleFunc("/transfers/{id}/pause", h.HandlePauseTransfer).Methods("POST")
	api.HandleFunc("/transfers/{id}/resume", h.HandleResumeTransfer).Methods("POST")
	api.HandleFunc("/transfers/{id}/cancel", h.HandleCancelTransfer).Methods("POST")

	api.HandleFunc("/operations", h.HandleListOperations).Methods("GET")
	api.HandleFunc("/stats", h.HandleStats).Methods("GET")
	api.HandleFunc("/events", h.HandleSSE).Methods("GET")
	api.HandleFunc("/ws", h.HandleWebsocket).Methods("GET")

	return r
}

// writeError maps engine errors onto HTTP statuses. A cold file that needs
// warming is not a server fault: it comes back as 409 with the retrieval
// estimate so the caller can decide whether to wait.
func writeError(w http.ResponseWriter, err error) {
	var rr *RetrievalRequiredError
	if errors.As(err, &rr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error":  rr.Error(),
			"path":   rr.Path,
			"etaSec": rr.EtaSec,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrClipboardEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrNameConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrDestinationFull):
		status = http.StatusInsufficientStorage
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// HandleListSources handles GET /api/vfs/sources
func (h *Handlers) HandleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"sources": h.registry.List()})
}

// HandleListEntries handles GET /api/vfs/sources/{id}/entries?path=<path>
func (h *Handlers) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	sourceID := mux.Vars(r)["id"]
	path := NormalizeTarget(r.URL.Query().Get("path"))
	l.Debug("HTTP list entries", "source", sourceID, "path", path)

	drv, err := h.registry.Driver(sourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := drv.List(r.Context(), path)
	if err != nil {
		l.Warn("list entries failed", "source", sourceID, "path", path, "err", err)
		writeError(w, err)
		return
	}
	for i := range entries {
		entries[i].SourceID = sourceID
	}
	writeJSON(w, map[string]any{"items": entries})
}

// HandlePresign handles GET /api/vfs/sources/{id}/presign?path=<path>
// Returns a short-lived direct download URL for backends that support it.
func (h *Handlers) HandlePresign(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	path := r.URL.Query().Get("path")

	drv, err := h.registry.Driver(sourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	p, ok := drv.(Presigner)
	if !ok || !drv.Capabilities().Has(CapPresignedURL) {
		http.Error(w, "source does not support presigned URLs", http.StatusBadRequest)
		return
	}
	url, err := p.PresignGet(r.Context(), path, 15*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"url": url, "path": NormalizeTarget(path)})
}

// ClipboardRequest is the request body for clipboard copy/cut and
// copy-for-native.
type ClipboardRequest struct {
	SourceID string   `json:"sourceId"`
	Paths    []string `json:"paths"`
}

// HandleClipboardCopy handles POST /api/vfs/clipboard/copy
func (h *Handlers) HandleClipboardCopy(w http.ResponseWriter, r *http.Request) {
	h.handleStage(w, r, h.clip.Copy)
}

// HandleClipboardCut handles POST /api/vfs/clipboard/cut
func (h *Handlers) HandleClipboardCut(w http.ResponseWriter, r *http.Request) {
	h.handleStage(w, r, h.clip.Cut)
}

func (h *Handlers) handleStage(w http.ResponseWriter, r *http.Request, stage func(string, []string) error) {
	var req ClipboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := stage(req.SourceID, req.Paths); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleGetClipboard handles GET /api/vfs/clipboard
func (h *Handlers) HandleGetClipboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"hasFiles": h.clip.HasFiles(),
		"payload":  h.clip.Get(),
	})
}

// HandleClearClipboard handles DELETE /api/vfs/clipboard
func (h *Handlers) HandleClearClipboard(w http.ResponseWriter, r *http.Request) {
	h.clip.Clear()
	writeJSON(w, map[string]string{"status": "ok"})
}

// PasteRequest is the request body for paste and paste-native.
type PasteRequest struct {
	DestSourceID     string `json:"destSourceId"`
	DestPath         string `json:"destPath"`
	WaitForRetrieval bool   `json:"waitForRetrieval"`
}

// HandlePaste handles POST /api/vfs/clipboard/paste
func (h *Handlers) HandlePaste(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	var req PasteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	l.Info("HTTP paste", "dest", req.DestSourceID, "path", req.DestPath)

	result, err := h.clip.Paste(r.Context(), req.DestSourceID, req.DestPath,
		TransferOptions{WaitForRetrieval: req.WaitForRetrieval})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// HandleCopyForNative handles POST /api/vfs/clipboard/copy-for-native
func (h *Handlers) HandleCopyForNative(w http.ResponseWriter, r *http.Request) {
	var req ClipboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	paths, err := h.native.CopyForNative(r.Context(), req.SourceID, req.Paths)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"paths": paths})
}

// HandlePasteNative handles POST /api/vfs/clipboard/paste-native
func (h *Handlers) HandlePasteNative(w http.ResponseWriter, r *http.Request) {
	var req PasteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.native.PasteNativeIntoVFS(r.Context(), req.DestSourceID, req.DestPath,
		TransferOptions{WaitForRetrieval: req.WaitForRetrieval})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// HandleReadNative handles GET /api/vfs/clipboard/read-native
func (h *Handlers) HandleReadNative(w http.ResponseWriter, r *http.Request) {
	paths, err := h.native.ReadNative(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"paths": paths})
}

// MoveRequest is the request body for move and rename. ToSourceID is
// optional; when set and different from SourceID the move crosses sources.
type MoveRequest struct {
	SourceID   string `json:"sourceId"`
	From       string `json:"from"`
	ToSourceID string `json:"toSourceId,omitempty"`
	To         string `json:"to"`
}

// HandleMove handles POST /api/vfs/files/move
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	toSource := req.ToSourceID
	if toSource == "" {
		toSource = req.SourceID
	}
	l.Info("HTTP move", "source", req.SourceID, "from", req.From, "toSource", toSource, "to", req.To)

	err := h.ops.MoveToSource(r.Context(), req.SourceID, req.From, toSource, req.To,
		TransferOptions{WaitForRetrieval: true})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// CopyRequest is the request body for a direct copy.
type CopyRequest struct {
	FromSourceID string `json:"fromSourceId"`
	FromPath     string `json:"fromPath"`
	ToSourceID   string `json:"toSourceId"`
	ToPath       string `json:"toPath"`
	Recursive    bool   `json:"recursive"`
}

// HandleCopy handles POST /api/vfs/files/copy
func (h *Handlers) HandleCopy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	bytes, err := h.ops.CopyPath(r.Context(), req.FromSourceID, req.FromPath,
		req.ToSourceID, req.ToPath, req.Recursive, TransferOptions{WaitForRetrieval: true})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "bytes": bytes})
}

// HandleRename handles POST /api/vfs/files/rename
func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.ops.Rename(r.Context(), req.SourceID, req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// PathRequest is the request body for delete and mkdir.
type PathRequest struct {
	SourceID string `json:"sourceId"`
	Path     string `json:"path"`
}

// HandleDelete handles POST /api/vfs/files/delete
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sub("handlers").Info("HTTP delete", "source", req.SourceID, "path", req.Path)
	if err := h.ops.DeleteRecursive(r.Context(), req.SourceID, req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleMkdir handles POST /api/vfs/files/mkdir
func (h *Handlers) HandleMkdir(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.ops.Mkdir(r.Context(), req.SourceID, req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// WarmRequest is the request body for warming a file.
type WarmRequest struct {
	SourceID string `json:"sourceId"`
	Path     string `json:"path"`
	Priority int    `json:"priority"`
	Wait     bool   `json:"wait"`
}

// HandleWarm handles POST /api/vfs/tier/warm
func (h *Handlers) HandleWarm(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	var req WarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	l.Info("HTTP warm", "source", req.SourceID, "path", req.Path, "priority", req.Priority)

	handle, err := h.tiering.Warm(r.Context(), req.SourceID, req.Path, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Wait {
		if err := handle.Wait(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, map[string]string{"requestId": handle.RequestID, "status": "ok"})
}

// ChangeTierRequest is the request body for a bulk tier change.
type ChangeTierRequest struct {
	SourceID   string     `json:"sourceId"`
	Paths      []string   `json:"paths"`
	TargetTier TierStatus `json:"targetTier"`
}

// HandleChangeTier handles POST /api/vfs/tier/change
func (h *Handlers) HandleChangeTier(w http.ResponseWriter, r *http.Request) {
	var req ChangeTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.tiering.ChangeTier(r.Context(), req.SourceID, req.Paths, req.TargetTier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// HandleTierStatus handles GET /api/vfs/tier/status?sourceId=<id>&path=<path>
func (h *Handlers) HandleTierStatus(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("sourceId")
	path := r.URL.Query().Get("path")
	tier, err := h.tiering.TierStatusOf(r.Context(), sourceID, path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"sourceId": sourceID, "path": NormalizeTarget(path), "tier": tier})
}

// TranscodeRequest is the request body for a transcode.
type TranscodeRequest struct {
	SourceID string `json:"sourceId"`
	Path     string `json:"path"`
	Format   string `json:"format"`
}

// HandleTranscode handles POST /api/vfs/transcode
func (h *Handlers) HandleTranscode(w http.ResponseWriter, r *http.Request) {
	var req TranscodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	handle, err := h.transcode.Start(r.Context(), req.SourceID, req.Path, req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"requestId": handle.RequestID, "status": "ok"})
}

// TransferRequest is the request body for upload and download.
type TransferRequest struct {
	SourceID         string `json:"sourceId"`
	LocalPath        string `json:"localPath"`
	RemotePath       string `json:"remotePath"`
	WaitForRetrieval bool   `json:"waitForRetrieval"`
}

// HandleUpload handles POST /api/vfs/transfers/upload
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := h.engine.EnqueueUpload(r.Context(), req.SourceID, req.LocalPath, req.RemotePath,
		TransferOptions{WaitForRetrieval: req.WaitForRetrieval})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

// HandleDownload handles POST /api/vfs/transfers/download
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := h.engine.EnqueueDownload(r.Context(), req.SourceID, req.RemotePath, req.LocalPath,
		TransferOptions{WaitForRetrieval: req.WaitForRetrieval})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

// HandleListTransfers handles GET /api/vfs/transfers?kind=<kind>
func (h *Handlers) HandleListTransfers(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.List(TransferKind(r.URL.Query().Get("kind")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": recs})
}

// HandleGetTransfer handles GET /api/vfs/transfers/{id}
func (h *Handlers) HandleGetTransfer(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

// HandlePauseTransfer handles POST /api/vfs/transfers/{id}/pause
func (h *Handlers) HandlePauseTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleResumeTransfer handles POST /api/vfs/transfers/{id}/resume
func (h *Handlers) HandleResumeTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"sourceId"`
	}
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	if err := h.engine.Resume(r.Context(), mux.Vars(r)["id"], req.SourceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleCancelTransfer handles POST /api/vfs/transfers/{id}/cancel
func (h *Handlers) HandleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Cancel(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleListOperations handles GET /api/vfs/operations?categories=a,b
func (h *Handlers) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	var categories []SourceCategory
	if param := r.URL.Query().Get("categories"); param != "" {
		for _, c := range strings.Split(param, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, SourceCategory(c))
			}
		}
	}
	ops, err := h.ledger.List(categories)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": ops})
}

// HandleStats handles GET /api/vfs/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	l.Debug("HTTP stats")

	completed, failed, err := h.ledger.CountByStatus()
	if err != nil {
		l.Error("stats failed", "err", err)
		writeError(w, err)
		return
	}

	recs, err := h.engine.List("")
	if err != nil {
		writeError(w, err)
		return
	}
	transfers := make(map[string]int)
	for _, rec := range recs {
		transfers[string(rec.Status)]++
	}

	resp := StatsResponse{
		Sources:      len(h.registry.List()),
		Transfers:    transfers,
		OpsCompleted: completed,
		OpsFailed:    failed,
		RecentErrors: RecentErrors(),
	}
	if usage, err := disk.Usage("/"); err == nil {
		resp.DiskTotal = int64(usage.Total)
		resp.DiskFree = int64(usage.Free)
		resp.DiskTotalHuman = humanize.Bytes(usage.Total)
		resp.DiskFreeHuman = humanize.Bytes(usage.Free)
	}
	writeJSON(w, resp)
}

// HandleSSE handles GET /api/vfs/events?topics=a,b (Server-Sent Events).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var topics []string
	if param := r.URL.Query().Get("topics"); param != "" {
		topics = strings.Split(param, ",")
	}
	ch := h.bus.Subscribe(topics...)
	defer h.bus.Unsubscribe(ch)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}

// HandleWebsocket handles GET /api/vfs/ws — the same event stream over a
// websocket for clients that cannot hold an SSE connection.
func (h *Handlers) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	var topics []string
	if param := r.URL.Query().Get("topics"); param != "" {
		topics = strings.Split(param, ",")
	}
	ch := h.bus.Subscribe(topics...)
	defer h.bus.Unsubscribe(ch)

	// Drain client frames so close/ping handling keeps working.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event := <-ch:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
