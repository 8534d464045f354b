package scheduling

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docbook/booking/internal/platform/auth"
	"github.com/docbook/booking/pkg/pagination"
)

type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors/:id/availability", h.GetAvailability)
	api.GET("/doctors/:id/availability/first", h.GetFirstAvailable)
	api.GET("/doctors/:id/booking-status", h.GetBookingStatus)
	api.GET("/appointments/:id", h.GetAppointment)

	api.GET("/doctors/:id/commissions", h.GetCommissionSummary, auth.RequireRole(RoleDoctor, RoleOperator))
	api.POST("/appointments", h.CreateAppointment, auth.RequireRole(RolePatient, RoleDoctor, RoleOperator))
	api.GET("/appointments", h.ListAppointments, auth.RequireRole(RoleDoctor, RoleOperator))
	api.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus, auth.RequireRole(RoleDoctor, RoleOperator))
	api.POST("/commissions/reconcile", h.ReconcileCommissions, auth.RequireRole(RoleOperator))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: msg})
}

// httpError translates a service error into its HTTP status and code.
// Unrecognized errors are treated as the store being unavailable.
func (h *Handler) httpError(c echo.Context, err error) error {
	var status int
	var code string
	switch {
	case errors.Is(err, ErrDoctorUnavailable):
		status, code = http.StatusUnprocessableEntity, "doctor_unavailable"
	case errors.Is(err, ErrSlotUnavailable):
		status, code = http.StatusConflict, "slot_unavailable"
	case errors.Is(err, ErrInvalidPatientReference):
		status, code = http.StatusBadRequest, "invalid_patient_reference"
	case errors.Is(err, ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, ErrInvalidSource), errors.Is(err, ErrInvalidStatus):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrAppointmentNotFound), errors.Is(err, ErrNoAvailability):
		status, code = http.StatusNotFound, "not_found"
	default:
		rid, _ := c.Get("request_id").(string)
		h.log.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("store unavailable")
		return echo.NewHTTPError(http.StatusServiceUnavailable, errorBody{
			Error:   "service_unavailable",
			Message: "scheduling store is unavailable, retry later",
		})
	}
	return echo.NewHTTPError(status, errorBody{Error: code, Message: err.Error()})
}

func actorFromContext(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		UserID:   auth.UserIDFromContext(ctx),
		Roles:    auth.RolesFromContext(ctx),
		DoctorID: auth.DoctorIDFromContext(ctx),
	}
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}

// -- Availability --

type availabilityResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     Date      `json:"date"`
	Slots    []Slot    `json:"slots"`
}

// GetAvailability serves ?date=YYYY-MM-DD, defaulting to today.
func (h *Handler) GetAvailability(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date := h.svc.Today()
	if q := c.QueryParam("date"); q != "" {
		if date, err = ParseDate(q); err != nil {
			return badRequest(err.Error())
		}
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

func (h *Handler) GetFirstAvailable(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	first, err := h.svc.FirstAvailableSlot(c.Request().Context(), doctorID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, first)
}

func (h *Handler) GetBookingStatus(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	ok, reason, err := h.svc.DoctorBookingStatus(c.Request().Context(), doctorID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"bookable":  ok,
		"reason":    reason,
	})
}

// -- Appointments --

// bookingBody is the wire form of a booking. Time is a pointer so that an
// absent value is not mistaken for 00:00.
type bookingBody struct {
	DoctorID  uuid.UUID     `json:"doctor_id"`
	Date      Date          `json:"date"`
	Time      *SlotTime     `json:"time"`
	PatientID *uuid.UUID    `json:"patient_id,omitempty"`
	Guest     *GuestDetails `json:"guest_details,omitempty"`
	Source    Source        `json:"source"`
}

// scopeBooking applies the caller's identity to a booking. Only operators
// and the doctor who owns the calendar may record direct bookings. Anyone
// else books through the platform, so the source is website and a
// patient_id must be the caller's own.
func scopeBooking(req *BookingRequest, actor Actor) error {
	if actor.IsOperator() {
		return nil
	}
	if req.Source == SourceDirect {
		if !actor.Owns(req.DoctorID) {
			return fmt.Errorf("%w: direct bookings are recorded by the doctor or an operator", ErrForbidden)
		}
		return nil
	}
	if actor.HasRole(RoleDoctor) {
		return nil
	}
	if req.Source == "" {
		req.Source = SourceWebsite
	}
	self, err := uuid.Parse(actor.UserID)
	switch {
	case req.PatientID != nil && (err != nil || *req.PatientID != self):
		return fmt.Errorf("%w: patients may only book for themselves", ErrForbidden)
	case req.PatientID == nil && req.Guest == nil && err == nil:
		req.PatientID = &self
	}
	return nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var body bookingBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed booking request")
	}
	if body.DoctorID == uuid.Nil {
		return badRequest("doctor_id is required")
	}
	if body.Date.IsZero() {
		return badRequest("date is required")
	}
	if body.Time == nil {
		return badRequest("time is required")
	}
	req := BookingRequest{
		DoctorID:  body.DoctorID,
		Date:      body.Date,
		Time:      *body.Time,
		PatientID: body.PatientID,
		Guest:     body.Guest,
		Source:    body.Source,
	}
	if err := scopeBooking(&req, actorFromContext(c)); err != nil {
		return h.httpError(c, err)
	}
	a, err := h.svc.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments filters by doctor_id, patient_id, date and status.
// Doctors only ever see their own appointments.
func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	for name, dst := range map[string]**uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
		if v := c.QueryParam(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return badRequest("invalid " + name)
			}
			*dst = &id
		}
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return badRequest(err.Error())
		}
		f.Date = &d
	}
	f.Status = Status(c.QueryParam("status"))

	actor := actorFromContext(c)
	if !actor.IsOperator() {
		if actor.DoctorID == nil {
			return h.httpError(c, ErrForbidden)
		}
		f.DoctorID = actor.DoctorID
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c.Request().URL))
}

type statusUpdateRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var body statusUpdateRequest
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed status update")
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status, actorFromContext(c))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Commission --

type reconcileRequest struct {
	AppointmentIDs []uuid.UUID `json:"appointment_ids"`
}

func (h *Handler) ReconcileCommissions(c echo.Context) error {
	var body reconcileRequest
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed reconcile request")
	}
	if len(body.AppointmentIDs) == 0 {
		return badRequest("appointment_ids is required")
	}
	n, err := h.svc.ReconcileCommissions(c.Request().Context(), body.AppointmentIDs, actorFromContext(c))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) GetCommissionSummary(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	sum, err := h.svc.CommissionSummary(c.Request().Context(), doctorID, actorFromContext(c))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}
