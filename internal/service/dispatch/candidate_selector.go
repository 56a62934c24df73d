// Package dispatch implements the candidate selector, offer dispatcher, and
// arbitration engine: the three components that turn a pending booking into
// a dispatched, accepted offer.
package dispatch

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// SelectorConfig tunes the scoring function.
type SelectorConfig struct {
	EarthRadiusKM                       float64
	MissingProviderCoordsAsZeroDistance bool
}

// CandidateSelector ranks available providers for a booking (C1).
type CandidateSelector struct {
	providers *storage.ProviderStore
	bookings  *storage.BookingStore
	cfg       SelectorConfig
	logger    *slog.Logger
}

// NewCandidateSelector builds a CandidateSelector.
func NewCandidateSelector(providers *storage.ProviderStore, bookings *storage.BookingStore, cfg SelectorConfig, logger *slog.Logger) *CandidateSelector {
	if cfg.EarthRadiusKM == 0 {
		cfg.EarthRadiusKM = 6371.0
	}
	return &CandidateSelector{providers: providers, bookings: bookings, cfg: cfg, logger: logger}
}

// Select returns candidates ranked by score descending, ties broken by
// provider id ascending. Returns an empty slice (never nil error on the
// no-match path) when no eligible or fallback provider exists.
func (s *CandidateSelector) Select(ctx context.Context, serviceID string, booking *models.Booking) ([]models.Candidate, error) {
	start := time.Now()
	defer func() { metrics.RecordCandidateSelectionDuration(time.Since(start)) }()

	eligible, err := s.providers.EligibleForService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	pool := eligible
	if len(pool) == 0 {
		fallback, err := s.providers.AllAvailable(ctx)
		if err != nil {
			return nil, err
		}
		if len(fallback) > 0 {
			metrics.RecordFallbackActivation()
			s.logger.Warn("candidate selector fallback activated",
				slog.String("booking_id", booking.ID),
				slog.String("service_id", serviceID),
				slog.Int("fallback_pool_size", len(fallback)))
			logging.Audit(ctx, "fallback_activated", "booking_id", booking.ID, "service_id", serviceID)
		}
		pool = fallback
	}

	if len(pool) == 0 {
		metrics.RecordNoCandidatesFound()
		return []models.Candidate{}, nil
	}

	workload, err := s.bookings.CountActiveByProvider(ctx, providerIDs(pool))
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(pool))
	for _, p := range pool {
		distance := s.distanceKM(booking, p)
		score := s.score(p, booking, distance, workload[p.ID])
		candidates = append(candidates, models.Candidate{
			ProviderID: p.ID,
			Score:      score,
			DistanceKM: distance,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ProviderID < candidates[j].ProviderID
	})

	return candidates, nil
}

// score computes the additive, floored-at-zero score for one provider.
func (s *CandidateSelector) score(p *models.Provider, booking *models.Booking, distance *float64, activeBookings int) float64 {
	score := 25.0 // base: available at all

	if p.Rating != nil {
		score += *p.Rating * 4
	} else {
		score += 12
	}

	score += 30.0 // service-match bonus

	if distance != nil {
		score += math.Max(0, 20-*distance)
	}

	if booking.Pincode != "" && p.Pincode != "" && booking.Pincode == p.Pincode {
		score += 10.0
	}

	workloadPenalty := math.Min(float64(activeBookings)*2, 15)
	score -= workloadPenalty

	if p.ExperienceYears > 0 {
		score += math.Min(float64(p.ExperienceYears), 10)
	}

	return math.Max(score, 0)
}

// distanceKM returns the Haversine distance between the booking and
// provider, or 0 (per MissingProviderCoordsAsZeroDistance) if the booking
// has coordinates but the provider does not, or nil if the booking itself
// has no coordinates.
func (s *CandidateSelector) distanceKM(booking *models.Booking, p *models.Provider) *float64 {
	if booking.Latitude == nil || booking.Longitude == nil {
		return nil
	}
	if p.Latitude == nil || p.Longitude == nil {
		if s.cfg.MissingProviderCoordsAsZeroDistance {
			zero := 0.0
			return &zero
		}
		return nil
	}
	d := haversineKM(*booking.Latitude, *booking.Longitude, *p.Latitude, *p.Longitude, s.cfg.EarthRadiusKM)
	return &d
}

func haversineKM(lat1, lon1, lat2, lon2, radiusKM float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return radiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func providerIDs(providers []*models.Provider) []string {
	ids := make([]string, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}
	return ids
}
