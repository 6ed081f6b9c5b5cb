package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/httputil"
	"crowdloc/internal/notify"
	"crowdloc/internal/service"
	"crowdloc/internal/stream"
)

// Maximum stream durations. Reaching the cap ends the stream without an
// error; clients reconnect per the retry directive.
const (
	DeviceStreamMax = 15 * time.Minute
	SyncStreamMax   = time.Hour
	MergeStreamMax  = 15 * time.Minute
)

// StreamHandler serves the three SSE endpoints: device linking, document
// sync, and merge completion. All three ride the same session loop and
// differ only in watched counters and event shapes.
type StreamHandler struct {
	devices *service.DeviceLinkService
	sync    *service.SyncService
	bus     notify.Bus
	logger  *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(
	devices *service.DeviceLinkService,
	sync *service.SyncService,
	bus notify.Bus,
	logger *slog.Logger,
) *StreamHandler {
	return &StreamHandler{devices: devices, sync: sync, bus: bus, logger: logger}
}

// subscribeWake turns a bus subscription on one topic into a wake channel
// for the session loop. When the subscription cannot be established the
// stream degrades to pure polling.
func (h *StreamHandler) subscribeWake(ctx context.Context, topic string) (<-chan struct{}, func()) {
	events, cancel, err := h.bus.Subscribe(ctx, topic)
	if err != nil {
		h.logger.Debug("listen unavailable, polling only", "topic", topic, "error", err)
		return nil, func() {}
	}
	wake := make(chan struct{}, 1)
	go func() {
		for range events {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, cancel
}

// DeviceLink streams the device side of the pairing flow
// GET /api/device/stream?device_code=…
// Unauthenticated: possession of the opaque device code is the proof.
// Emits "authorized" with the minted credential, or "expired" when the
// pairing window closes.
func (h *StreamHandler) DeviceLink(w http.ResponseWriter, r *http.Request) {
	deviceCode := r.URL.Query().Get("device_code")
	if deviceCode == "" {
		httputil.RespondError(w, http.StatusBadRequest, "device_code is required")
		return
	}

	sw, err := stream.NewWriter(w, stream.ParseLastEventID(r))
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	key := notify.DeviceKey(deviceCode)

	// Claim on every step, not only on counter bumps: expiry is a clock
	// event and never bumps the counter.
	step := func(ctx context.Context) (bool, error) {
		cred, err := h.devices.Claim(ctx, deviceCode)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Record gone: either a parallel stream claimed it (the
			// result slot holds the credential) or the window closed.
			if payload, slotErr := h.bus.TakeResult(ctx, key); slotErr == nil && payload != nil {
				var stored service.LinkedCredential
				if json.Unmarshal(payload, &stored) == nil {
					return true, sw.Event("authorized", stored)
				}
			}
			return true, sw.Event("expired", map[string]string{"device_code": deviceCode})
		case err != nil:
			return false, err
		case cred != nil:
			return true, sw.Event("authorized", cred)
		}
		return false, nil
	}

	wake, cancel := h.subscribeWake(r.Context(), key)
	defer cancel()

	cfg := stream.NewConfig(DeviceStreamMax)
	cfg.Wake = wake
	if err := stream.Run(r.Context(), sw, cfg, step); err != nil {
		h.logger.Debug("device stream ended", "error", err)
	}
}

// syncDelta is the payload of a translation_updated event.
type syncDelta struct {
	TranslationID string `json:"translation_id"`
	FileHash      string `json:"file_hash"`
	LineCount     int    `json:"line_count"`
	VoteCount     int    `json:"vote_count"`
	Status        string `json:"status"`
}

// DocumentSync streams lineage changes to a client holding a local copy
// GET /api/lineages/{uuid}/stream
// The first event is always a full "state" snapshot, which also makes
// reconnection resume correct without replay. Afterwards, counter bumps
// produce "translation_updated" deltas, or a fresh "state" when the
// caller's relationship to the lineage itself changed.
func (h *StreamHandler) DocumentSync(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	lineageID := r.PathValue("uuid")

	sw, err := stream.NewWriter(w, stream.ParseLastEventID(r))
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lineageKey := notify.LineageKey(lineageID)
	var (
		lastLineage     int64 = -1
		lastTranslation int64 = -1
		trackedID       string
		trackedRole     models.SyncRole
		sentSnapshot    bool
	)

	emitState := func(ctx context.Context) (*models.SyncState, error) {
		state, err := h.sync.BuildState(ctx, userID, lineageID, "")
		if err != nil {
			return nil, err
		}
		return state, sw.Event("state", state)
	}

	// trackedTranslation is the document whose per-id counter the stream
	// watches: the caller's own, or the lineage Main when they hold none.
	trackedTranslation := func(state *models.SyncState) string {
		if state.Translation != nil {
			return state.Translation.ID
		}
		if state.Main != nil {
			return state.Main.TranslationID
		}
		return ""
	}

	step := func(ctx context.Context) (bool, error) {
		if !sentSnapshot {
			state, err := emitState(ctx)
			if err != nil {
				return false, err
			}
			trackedID = trackedTranslation(state)
			trackedRole = state.Role
			sentSnapshot = true

			lastLineage, _ = h.bus.Current(ctx, lineageKey)
			if trackedID != "" {
				lastTranslation, _ = h.bus.Current(ctx, notify.TranslationKey(trackedID))
			}
			return false, nil
		}

		lineageVersion, err := h.bus.Current(ctx, lineageKey)
		if err != nil {
			h.logger.Warn("lineage counter read failed", "error", err)
			return false, nil
		}
		var translationVersion int64
		if trackedID != "" {
			if translationVersion, err = h.bus.Current(ctx, notify.TranslationKey(trackedID)); err != nil {
				h.logger.Warn("translation counter read failed", "error", err)
				return false, nil
			}
		}
		if lineageVersion == lastLineage && translationVersion == lastTranslation {
			return false, nil
		}
		lastLineage = lineageVersion
		lastTranslation = translationVersion

		state, err := h.sync.BuildState(ctx, userID, lineageID, "")
		if err != nil {
			return false, err
		}
		newTracked := trackedTranslation(state)

		// Identity change (role flip, deletion, fork) resets the client
		// with a full snapshot; an in-place change gets a small delta.
		if newTracked != trackedID || state.Role != trackedRole {
			trackedID = newTracked
			trackedRole = state.Role
			if trackedID != "" {
				lastTranslation, _ = h.bus.Current(ctx, notify.TranslationKey(trackedID))
			}
			return false, sw.Event("state", state)
		}

		if state.Translation != nil {
			return false, sw.Event("translation_updated", syncDelta{
				TranslationID: state.Translation.ID,
				FileHash:      state.Translation.FileHash,
				LineCount:     state.Translation.LineCount,
				VoteCount:     state.Translation.VoteCount,
				Status:        string(state.Translation.Status),
			})
		}
		if state.Main != nil {
			return false, sw.Event("translation_updated", syncDelta{
				TranslationID: state.Main.TranslationID,
				FileHash:      state.Main.FileHash,
				LineCount:     state.Main.LineCount,
			})
		}
		return false, nil
	}

	// Wake on lineage-level changes only; per-document bumps (votes) are
	// picked up by the regular poll.
	wake, cancel := h.subscribeWake(r.Context(), lineageKey)
	defer cancel()

	cfg := stream.NewConfig(SyncStreamMax)
	cfg.Wake = wake
	if err := stream.Run(r.Context(), sw, cfg, step); err != nil {
		h.logger.Debug("sync stream ended", "error", err)
	}
}

// MergeCompletion notifies an external client that the browser-side merge
// it handed off has been committed
// GET /api/preview-tokens/{token}/stream
// Possession of the token is the proof. The outcome lives in a result
// slot, so a stream that connects after the merge still observes it.
func (h *StreamHandler) MergeCompletion(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	sw, err := stream.NewWriter(w, stream.ParseLastEventID(r))
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	key := notify.PreviewKey(token)
	step := func(ctx context.Context) (bool, error) {
		payload, err := h.bus.TakeResult(ctx, key)
		if err != nil {
			h.logger.Warn("merge result read failed", "error", err)
			return false, nil
		}
		if payload == nil {
			return false, nil
		}
		return true, sw.Event("merge_completed", json.RawMessage(payload))
	}

	wake, cancel := h.subscribeWake(r.Context(), key)
	defer cancel()

	cfg := stream.NewConfig(MergeStreamMax)
	cfg.Wake = wake
	if err := stream.Run(r.Context(), sw, cfg, step); err != nil {
		h.logger.Debug("merge stream ended", "error", err)
	}
}
