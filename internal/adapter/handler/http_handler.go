package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/core/service"
)

type HTTPHandler struct {
	ledger      *service.LedgerService
	allocations *service.AllocationService
	transfers   *service.TransferService
	activity    *service.ActivityService
}

func NewHTTPHandler(ledger *service.LedgerService, allocations *service.AllocationService, transfers *service.TransferService, activity *service.ActivityService) *HTTPHandler {
	return &HTTPHandler{
		ledger:      ledger,
		allocations: allocations,
		transfers:   transfers,
		activity:    activity,
	}
}

type apiResponse struct {
	OK        bool        `json:"ok"`
	Data      interface{} `json:"data,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Message   string      `json:"message"`
}

type createItemRequest struct {
	Kind             string `json:"kind"`
	InitialDelivered int    `json:"initial_delivered"`
	LocationID       string `json:"location_id"`
}

type updateDeliveredRequest struct {
	ItemID       string `json:"item_id"`
	NewDelivered int    `json:"new_delivered"`
}

type reportIssueRequest struct {
	ItemID      string `json:"item_id"`
	Kind        string `json:"kind"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
}

type allocateRequest struct {
	RequestID      string   `json:"request_id"`
	ItemID         string   `json:"item_id"`
	ProjectID      string   `json:"project_id"`
	ProjectDayIDs  []string `json:"project_day_ids"`
	QuantityPerDay int      `json:"quantity_per_day"`
	ApplyToAllDays bool     `json:"apply_to_all_days"`
}

type returnRequest struct {
	AssignmentID  string `json:"assignment_id"`
	ReturnedDelta int    `json:"returned_delta"`
	DamagedDelta  int    `json:"damaged_delta"`
	LostDelta     int    `json:"lost_delta"`
}

type closeRequest struct {
	AssignmentID string `json:"assignment_id"`
}

type moveLocationRequest struct {
	ItemID        string `json:"item_id"`
	NewLocationID string `json:"new_location_id"`
}

type itemView struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Delivered  int    `json:"delivered"`
	Available  int    `json:"available"`
	Damaged    int    `json:"damaged"`
	Lost       int    `json:"lost"`
	LocationID string `json:"location_id,omitempty"`
}

type assignmentView struct {
	ID           string `json:"id"`
	ItemID       string `json:"item_id"`
	ProjectDayID string `json:"project_day_id"`
	Allocated    int    `json:"allocated"`
	Damaged      int    `json:"damaged"`
	Lost         int    `json:"lost"`
	Returned     int    `json:"returned"`
	Status       string `json:"status"`
}

type eventView struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id,omitempty"`
	AssignmentID  string    `json:"assignment_id,omitempty"`
	Kind          string    `json:"kind"`
	QuantityDelta int       `json:"quantity_delta"`
	Actor         string    `json:"actor"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// Item serves GET state reads and POST item creation on /api/item.
func (h *HTTPHandler) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.itemState(w, r)
	case http.MethodPost:
		h.createItem(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) itemState(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("id")
	if itemID == "" {
		writeBadRequest(w, "missing id parameter")
		return
	}

	state, err := h.ledger.State(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: state, Message: "ok"})
}

func (h *HTTPHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	item, err := h.ledger.CreateItem(r.Context(), domain.ItemKind(req.Kind), req.InitialDelivered, req.LocationID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: toItemView(item), Message: "item created"})
}

func (h *HTTPHandler) UpdateDelivered(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateDeliveredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ItemID == "" {
		writeBadRequest(w, "missing item_id")
		return
	}

	item, err := h.ledger.UpdateDelivered(r.Context(), req.ItemID, req.NewDelivered)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: toItemView(item), Message: "delivered quantity updated"})
}

func (h *HTTPHandler) ReportIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reportIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ItemID == "" {
		writeBadRequest(w, "missing item_id")
		return
	}

	item, err := h.ledger.ReportIssue(r.Context(), req.ItemID, req.Kind, req.Quantity, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: toItemView(item), Message: "issue recorded"})
}

func (h *HTTPHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ItemID == "" {
		writeBadRequest(w, "missing item_id")
		return
	}

	assignments, err := h.allocations.Allocate(r.Context(), service.AllocateRequest{
		RequestID:      req.RequestID,
		ItemID:         req.ItemID,
		ProjectID:      req.ProjectID,
		ProjectDayIDs:  req.ProjectDayIDs,
		QuantityPerDay: req.QuantityPerDay,
		ApplyToAllDays: req.ApplyToAllDays,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]assignmentView, 0, len(assignments))
	for _, a := range assignments {
		views = append(views, toAssignmentView(&a))
	}
	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: views, Message: "allocation created"})
}

func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.AssignmentID == "" {
		writeBadRequest(w, "missing assignment_id")
		return
	}

	assignment, err := h.allocations.RecordPartialReturn(r.Context(), req.AssignmentID,
		req.ReturnedDelta, req.DamagedDelta, req.LostDelta)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: toAssignmentView(assignment), Message: "return recorded"})
}

func (h *HTTPHandler) CloseAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.AssignmentID == "" {
		writeBadRequest(w, "missing assignment_id")
		return
	}

	assignment, err := h.allocations.Close(r.Context(), req.AssignmentID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: toAssignmentView(assignment), Message: "assignment closed"})
}

func (h *HTTPHandler) MoveLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req moveLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ItemID == "" || req.NewLocationID == "" {
		writeBadRequest(w, "missing required fields")
		return
	}

	if err := h.transfers.MoveLocation(r.Context(), req.ItemID, req.NewLocationID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Message: "location updated"})
}

// Events serves the audit log. Storage order is oldest first; order=desc
// reverses for the recent-activity view.
func (h *HTTPHandler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	itemID := r.URL.Query().Get("item_id")
	assignmentID := r.URL.Query().Get("assignment_id")
	if (itemID == "") == (assignmentID == "") {
		writeBadRequest(w, "exactly one of item_id or assignment_id is required")
		return
	}

	var (
		events []domain.LedgerEvent
		err    error
	)
	if itemID != "" {
		events, err = h.activity.ItemHistory(r.Context(), itemID)
	} else {
		events, err = h.activity.AssignmentHistory(r.Context(), assignmentID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID:            e.ID,
			ItemID:        e.ItemID,
			AssignmentID:  e.AssignmentID,
			Kind:          string(e.Kind),
			QuantityDelta: e.QuantityDelta,
			Actor:         e.Actor,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	if r.URL.Query().Get("order") == "desc" {
		for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
			views[i], views[j] = views[j], views[i]
		}
	}

	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: views, Message: "ok"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toItemView(item *domain.InventoryItem) itemView {
	return itemView{
		ID:         item.ID,
		Kind:       string(item.Kind),
		Delivered:  item.DeliveredQuantity,
		Available:  item.AvailableQuantity,
		Damaged:    item.DamagedQuantity,
		Lost:       item.LostQuantity,
		LocationID: item.LocationID,
	}
}

func toAssignmentView(a *domain.ProjectItemAssignment) assignmentView {
	return assignmentView{
		ID:           a.ID,
		ItemID:       a.ItemID,
		ProjectDayID: a.ProjectDayID,
		Allocated:    a.AllocatedQuantity,
		Damaged:      a.DamagedQuantity,
		Lost:         a.LostQuantity,
		Returned:     a.ReturnedQuantity,
		Status:       string(a.Status),
	}
}

// errorKind maps a service error to its HTTP status and wire kind.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrOverAllocation):
		return http.StatusBadRequest, "over_allocation"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientAvailable):
		return http.StatusConflict, "insufficient_available"
	case errors.Is(err, domain.ErrInvalidAssignmentState):
		return http.StatusConflict, "invalid_assignment_state"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := errorKind(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, apiResponse{OK: false, ErrorKind: kind, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, apiResponse{OK: false, ErrorKind: "bad_request", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
