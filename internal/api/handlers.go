package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/booking"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// Request/Response types

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// ListBookingsQuery defines query parameters for listing bookings.
type ListBookingsQuery struct {
	Status string `form:"status"`
	Skip   int    `form:"skip"`
	Limit  int    `form:"limit"`
}

// RatingRequest rates a completed booking.
type RatingRequest struct {
	Rating float64 `json:"rating" binding:"required,min=1,max=5"`
	Review string  `json:"review,omitempty"`
}

// ProviderRegisterRequest creates the caller's provider profile.
type ProviderRegisterRequest struct {
	BusinessName    string   `json:"business_name" binding:"required"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Pincode         string   `json:"pincode,omitempty"`
	ExperienceYears int      `json:"experience_years,omitempty"`
}

// LinkServiceRequest links the caller's provider profile to a service.
type LinkServiceRequest struct {
	ServiceID   string   `json:"service_id" binding:"required"`
	CustomPrice *float64 `json:"custom_price,omitempty"`
}

// UpsertProfileRequest creates or updates the caller's customer profile.
type UpsertProfileRequest struct {
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

// CreateServiceRequest is the admin request to add a catalog service.
type CreateServiceRequest struct {
	Name            string   `json:"name" binding:"required"`
	Description     string   `json:"description,omitempty"`
	BasePrice       *float64 `json:"base_price,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
	CategoryID      string   `json:"category_id,omitempty"`
}

// AdminStatsResponse summarizes booking counts by status for the admin
// dashboard.
type AdminStatsResponse struct {
	BookingsByStatus map[models.BookingStatus]int `json:"bookings_by_status"`
	ProviderCount    int                           `json:"provider_count"`
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error(), RequestID: requestID(c)})
}

func respondErrorMsg(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{Error: msg, RequestID: requestID(c)})
}

// Health and readiness

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.reconciler != nil && s.reconciler.IsRunning() {
		response.Services["reconciler"] = "running"
	} else {
		response.Services["reconciler"] = "stopped"
	}

	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{Ready: s.ready.Load(), Timestamp: time.Now()}
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Catalog (public)

func (s *Server) handleListServices(c *gin.Context) {
	ctx := c.Request.Context()
	services, err := s.catalog.ListServices(ctx, c.Query("category_id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services, "count": len(services)})
}

func (s *Server) handleListCategories(c *gin.Context) {
	ctx := c.Request.Context()
	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories, "count": len(categories)})
}

// Customer-facing: bookings, profile

func (s *Server) handleCreateBooking(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusBadRequest, "service not found: "+req.ServiceID)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	serviceDate, err := time.Parse("2006-01-02", req.ServiceDate)
	if err != nil {
		respondErrorMsg(c, http.StatusBadRequest, "invalid service_date, expected YYYY-MM-DD: "+req.ServiceDate)
		return
	}

	lat, lon := req.Latitude, req.Longitude
	if lat == nil && lon == nil && req.Location != "" {
		if resolvedLat, resolvedLon, err := s.geocoder.Resolve(ctx, req.Location); err != nil {
			s.logger.Warn("geocoding failed during booking creation", "error", err.Error())
		} else {
			lat, lon = resolvedLat, resolvedLon
		}
	}

	now := time.Now().UTC()
	b := &models.Booking{
		ID:             uuid.NewString(),
		BookingNumber:  newBookingNumber(),
		UserID:         userID,
		ServiceID:      req.ServiceID,
		ServiceDate:    serviceDate,
		ServiceTime:    req.ServiceTime,
		Location:       req.Location,
		Latitude:       lat,
		Longitude:      lon,
		Pincode:        req.Pincode,
		Special:        req.Special,
		Status:         models.BookingPending,
		EstimatedPrice: svc.BasePrice,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.bookings.Create(ctx, b); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	metricsCategory := svc.CategoryID
	if metricsCategory == "" {
		metricsCategory = "uncategorized"
	}
	metrics.RecordBookingCreated(metricsCategory)
	logging.Audit(ctx, "booking_created", "booking_id", b.ID, "service_id", b.ServiceID, "user_id", userID)

	bookingID := b.ID
	go func() {
		dispatchCtx := logging.WithBookingID(context.Background(), bookingID)
		if _, err := s.dispatcher.Dispatch(dispatchCtx, bookingID); err != nil {
			s.logger.Error("async dispatch failed", "booking_id", bookingID, "error", err.Error())
		}
	}()

	c.JSON(http.StatusCreated, gin.H{"booking": b, "service": svc})
}

func (s *Server) handleListMyBookings(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")

	var q ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	filter := models.BookingListFilter{
		UserID: userID,
		Status: models.BookingStatus(q.Status),
		Skip:   q.Skip,
		Limit:  q.Limit,
	}
	bookings, err := s.bookings.List(ctx, filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

func (s *Server) handleGetMyBooking(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")
	id := c.Param("id")

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if b.UserID != userID {
		respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleCancelBooking(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")
	id := c.Param("id")

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if b.UserID != userID {
		respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
		return
	}

	if err := s.stateMachine.Cancel(ctx, id); err != nil {
		writeStateMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "booking cancelled", "booking_id": id})
}

func (s *Server) handleRateBooking(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")
	id := c.Param("id")

	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if b.UserID != userID {
		respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
		return
	}

	if err := s.stateMachine.SubmitRating(ctx, id, req.Rating, req.Review); err != nil {
		writeStateMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rating recorded", "booking_id": id})
}

func (s *Server) handleGetMyProfile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")

	p, err := s.catalog.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "profile not found")
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpsertMyProfile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")

	var req UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}

	existing, err := s.catalog.GetProfile(ctx, userID)
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	if err == nil {
		id = existing.ID
		createdAt = existing.CreatedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	p := &models.Profile{
		ID:        id,
		UserID:    userID,
		FullName:  req.FullName,
		Phone:     req.Phone,
		Address:   req.Address,
		CreatedAt: createdAt,
	}
	if err := s.catalog.UpsertProfile(ctx, p); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Provider-facing

func (s *Server) resolveProvider(c *gin.Context) (*models.Provider, bool) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")
	p, err := s.providers.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "no provider profile for this account")
			return nil, false
		}
		respondError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return p, true
}

func (s *Server) handleRegisterProvider(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("user_id")

	var req ProviderRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}

	now := time.Now().UTC()
	p := &models.Provider{
		ID:              uuid.NewString(),
		UserID:          userID,
		BusinessName:    req.BusinessName,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Pincode:         req.Pincode,
		ExperienceYears: req.ExperienceYears,
		IsAvailable:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.providers.Create(ctx, p); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			respondErrorMsg(c, http.StatusConflict, "a provider profile already exists for this account")
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetMyProviderProfile(c *gin.Context) {
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateMyProviderProfile(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}

	var req models.UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}

	if req.BusinessName != nil {
		p.BusinessName = *req.BusinessName
	}
	if req.Latitude != nil {
		p.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		p.Longitude = req.Longitude
	}
	if req.Pincode != nil {
		p.Pincode = *req.Pincode
	}
	if req.ExperienceYears != nil {
		p.ExperienceYears = *req.ExperienceYears
	}
	if req.IsAvailable != nil {
		p.IsAvailable = *req.IsAvailable
	}
	p.UpdatedAt = time.Now().UTC()

	if err := s.providers.Update(ctx, p); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleListMyProviderBookings(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}

	var q ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	filter := models.BookingListFilter{
		ProviderID: p.ID,
		Status:     models.BookingStatus(q.Status),
		Skip:       q.Skip,
		Limit:      q.Limit,
	}
	bookings, err := s.bookings.List(ctx, filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

func (s *Server) handleListMyProviderServices(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	links, err := s.catalog.ListProviderServices(ctx, p.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": links, "count": len(links)})
}

func (s *Server) handleLinkMyProviderService(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}

	var req LinkServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}

	if _, err := s.catalog.GetService(ctx, req.ServiceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusBadRequest, "service not found: "+req.ServiceID)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	link := &models.ProviderService{
		ID:          uuid.NewString(),
		ProviderID:  p.ID,
		ServiceID:   req.ServiceID,
		CustomPrice: req.CustomPrice,
		IsActive:    true,
	}
	if err := s.catalog.LinkProviderService(ctx, link); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (s *Server) handleListMyOffers(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	offers, err := s.arbitration.ListPending(ctx, p.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

func (s *Server) handleAcceptOffer(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	offerID := c.Param("id")

	result, err := s.arbitration.Accept(ctx, offerID, p.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeclineOffer(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	offerID := c.Param("id")

	result, err := s.arbitration.Decline(ctx, offerID, p.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStartWork(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	id := c.Param("id")

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if b.ProviderID != p.ID {
		respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
		return
	}
	if err := s.stateMachine.StartWork(ctx, id); err != nil {
		writeStateMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "work started", "booking_id": id})
}

func (s *Server) handleCompleteWork(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.resolveProvider(c)
	if !ok {
		return
	}
	id := c.Param("id")

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if b.ProviderID != p.ID {
		respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
		return
	}
	if err := s.stateMachine.CompleteWork(ctx, id); err != nil {
		writeStateMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "work completed", "booking_id": id})
}

// Admin

func (s *Server) handleAdminListProviders(c *gin.Context) {
	ctx := c.Request.Context()
	skip, _ := strconv.Atoi(c.Query("skip"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	providers, err := s.providers.List(ctx, skip, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers, "count": len(providers)})
}

func (s *Server) handleAdminGetProvider(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	p, err := s.providers.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "provider not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleAdminListBookings(c *gin.Context) {
	ctx := c.Request.Context()
	var q ListBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	filter := models.BookingListFilter{
		Status: models.BookingStatus(q.Status),
		Skip:   q.Skip,
		Limit:  q.Limit,
	}
	bookings, err := s.bookings.List(ctx, filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

func (s *Server) handleAdminGetBooking(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondErrorMsg(c, http.StatusNotFound, "booking not found: "+id)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleAdminListBookingOffers(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	offers, err := s.arbitration.ListForBooking(ctx, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

func (s *Server) handleAdminCreateService(c *gin.Context) {
	ctx := c.Request.Context()
	var req CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, sanitizeValidationError(err))
		return
	}
	svc := &models.Service{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Description:     req.Description,
		BasePrice:       req.BasePrice,
		DurationMinutes: req.DurationMinutes,
		CategoryID:      req.CategoryID,
	}
	if err := s.catalog.CreateService(ctx, svc); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, svc)
}

func (s *Server) handleAdminStats(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := s.bookings.CountByStatus(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	providerCount, err := s.providers.Count(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, AdminStatsResponse{BookingsByStatus: counts, ProviderCount: providerCount})
}

// handleAdminReconcile triggers an out-of-band reconciliation sweep (A/B/C,
// plus D if requested), for operators who don't want to wait for the next
// scheduled tick.
func (s *Server) handleAdminReconcile(c *gin.Context) {
	if s.reconciler == nil {
		respondErrorMsg(c, http.StatusServiceUnavailable, "reconciler not configured")
		return
	}
	ctx := c.Request.Context()
	s.reconciler.RunSweeps(ctx)
	if c.Query("scheduled") == "true" {
		s.reconciler.RunScheduledSweep(ctx)
	}
	c.JSON(http.StatusOK, gin.H{"message": "reconciliation sweep completed"})
}

// writeStateMachineError maps the booking state machine's typed errors to
// HTTP status codes: terminal/invalid-transition/rating-not-allowed are all
// state conflicts (409); anything else is either a 404 or a 500.
func writeStateMachineError(c *gin.Context, err error) {
	if booking.IsNotFound(err) {
		respondErrorMsg(c, http.StatusNotFound, err.Error())
		return
	}
	var terminalErr *booking.TerminalError
	var transitionErr *booking.InvalidTransitionError
	var ratingErr *booking.RatingNotAllowedError
	if errors.As(err, &terminalErr) || errors.As(err, &transitionErr) || errors.As(err, &ratingErr) {
		respondError(c, http.StatusConflict, err)
		return
	}
	respondError(c, http.StatusInternalServerError, err)
}

// newBookingNumber produces a short human-facing booking reference.
func newBookingNumber() string {
	return "BK-" + strings.ToUpper(uuid.NewString()[:8])
}

// sanitizeValidationError converts validator field names to JSON field names
// in validation error messages so they don't leak internal struct shape.
func sanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		field := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toSnakeCase converts a PascalCase field name to snake_case.
func toSnakeCase(s string) string {
	re := regexp.MustCompile("([a-z0-9])([A-Z])")
	return strings.ToLower(re.ReplaceAllString(s, "${1}_${2}"))
}
