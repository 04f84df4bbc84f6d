package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/geo"
	"wastewatch-backend/internal/ledger"
	"wastewatch-backend/internal/middleware"
	"wastewatch-backend/internal/models"
	"wastewatch-backend/internal/pipeline"
	"wastewatch-backend/internal/services"
	"wastewatch-backend/pkg/utils"
)

// ReportCreator is implemented by stores that accept new reports.
type ReportCreator interface {
	Create(ctx context.Context, report *models.Report) (*models.Report, error)
}

type CreateReportRequest struct {
	ImageBefore string          `json:"imageBefore" validate:"required"`
	Location    LocationRequest `json:"location" validate:"required"`
}

type LocationRequest struct {
	Lat       float64    `json:"lat" validate:"latitude"`
	Lng       float64    `json:"lng" validate:"longitude"`
	Accuracy  *float64   `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type AwardRequest struct {
	Points int `json:"points" validate:"gt=0"`
}

// CreateReport registers a citizen report before its photo is analyzed.
func CreateReport(creator ReportCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req CreateReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		report, err := creator.Create(r.Context(), &models.Report{
			CitizenID:   user.UserID,
			ImageBefore: req.ImageBefore,
			Location: models.Location{
				Lat:       req.Location.Lat,
				Lng:       req.Location.Lng,
				Accuracy:  req.Location.Accuracy,
				Timestamp: req.Location.Timestamp,
			},
			Status:    models.StatusPending,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create report")
			return
		}
		utils.RespondJSON(w, http.StatusCreated, report)
	}
}

// GetReport returns one report. Citizens only see their own.
func GetReport(store database.ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, database.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Report not found")
			return
		}
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch report")
			return
		}

		if user, ok := middleware.GetUserFromContext(r); ok && user.Role == middleware.RoleCitizen && user.UserID != report.CitizenID {
			utils.RespondError(w, http.StatusNotFound, "Report not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, report)
	}
}

// GetReportGroups batches open reports that lie close together.
func GetReportGroups(store database.ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := store.Find(r.Context(), database.Filter{
			Statuses:    []models.Status{models.StatusAssigned, models.StatusPending},
			OldestFirst: true,
		})
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch reports")
			return
		}
		groups := geo.GroupReports(reports)
		if groups == nil {
			groups = []models.ReportGroup{}
		}
		utils.RespondJSON(w, http.StatusOK, groups)
	}
}

// GetDispatchQueue orders assigned reports for a sweeper starting at lat,lng.
func GetDispatchQueue(store database.ReportStore, planner *services.DispatchPlanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if errLat != nil || errLng != nil {
			utils.RespondError(w, http.StatusBadRequest, "lat and lng query parameters are required")
			return
		}

		reports, err := store.Find(r.Context(), database.Filter{
			Statuses:    []models.Status{models.StatusAssigned},
			OldestFirst: true,
		})
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch reports")
			return
		}
		utils.RespondJSON(w, http.StatusOK, planner.PlanQueue(models.LatLng{Lat: lat, Lng: lng}, reports))
	}
}

// ReanalyzeReport reruns intake analysis on demand.
func ReanalyzeReport(reanalyzer pipeline.Reanalyzer, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res := reanalyzer.Reanalyze(r.Context(), id)

		log := logger.WithFields(logrus.Fields{"component": "reports", "report_id": id, "outcome": res.Outcome})
		if res.Err != nil {
			log = log.WithError(res.Err)
		}
		log.Info("manual reanalysis")

		switch res.Outcome {
		case pipeline.OutcomeUnmatched:
			utils.RespondError(w, http.StatusNotFound, "Report not found")
		case pipeline.OutcomeRetry:
			utils.RespondError(w, http.StatusServiceUnavailable, "Analysis temporarily unavailable")
		default:
			resp := map[string]interface{}{
				"success": res.Outcome != pipeline.OutcomeFailed,
				"outcome": res.Outcome,
				"status":  res.Status,
			}
			if res.Err != nil {
				resp["error"] = res.Err.Error()
			}
			utils.RespondJSON(w, http.StatusOK, resp)
		}
	}
}

// AwardPoints credits an account manually, used to reconcile failed payouts.
func AwardPoints(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")

		var req AwardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := l.Award(r.Context(), accountID, req.Points); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to award points")
			return
		}
		account, err := l.Balance(r.Context(), accountID)
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch account")
			return
		}
		utils.RespondJSON(w, http.StatusOK, account)
	}
}

// GetMyAccount returns the caller's points and counters.
func GetMyAccount(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		account, err := l.Balance(r.Context(), user.UserID)
		if errors.Is(err, database.ErrNotFound) {
			// no points yet
			account, err = &models.Account{ID: user.UserID}, nil
		}
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch account")
			return
		}
		utils.RespondJSON(w, http.StatusOK, account)
	}
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
