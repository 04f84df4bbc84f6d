package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/pipeline"
	"wastewatch-backend/pkg/utils"
)

const maxBatchCoordinates = 50

type Coordinates struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

type AddressResponse struct {
	FormattedAddress string      `json:"formattedAddress"`
	Coordinates      Coordinates `json:"coordinates"`
}

type BatchReverseGeocodeRequest struct {
	Coordinates []Coordinates `json:"coordinates" validate:"required,min=1,max=50,dive"`
}

// BatchReverseGeocodeResponse keeps Addresses aligned with the request; a
// failed lookup leaves an empty address and an entry in Errors.
type BatchReverseGeocodeResponse struct {
	Addresses []AddressResponse `json:"addresses"`
	Errors    []string          `json:"errors,omitempty"`
}

// ReverseGeocode handles POST /api/geocoding/reverse for the report consoles.
func ReverseGeocode(geocoder pipeline.Geocoder, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Coordinates
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		address, err := geocoder.ReverseGeocode(r.Context(), req.Lat, req.Lng)
		if err != nil {
			logger.WithError(err).WithField("component", "geocoding").Warn("reverse geocoding failed")
			utils.RespondError(w, http.StatusBadGateway, "Failed to reverse geocode")
			return
		}
		utils.RespondJSON(w, http.StatusOK, AddressResponse{FormattedAddress: address, Coordinates: req})
	}
}

// BatchReverseGeocode handles POST /api/geocoding/reverse/batch
func BatchReverseGeocode(geocoder pipeline.Geocoder, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchReverseGeocodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("between 1 and %d valid coordinates required", maxBatchCoordinates))
			return
		}

		response := BatchReverseGeocodeResponse{Addresses: make([]AddressResponse, 0, len(req.Coordinates))}
		for i, coord := range req.Coordinates {
			address, err := geocoder.ReverseGeocode(r.Context(), coord.Lat, coord.Lng)
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"component": "geocoding",
					"index":     i,
				}).Warn("reverse geocoding failed")
				response.Errors = append(response.Errors, fmt.Sprintf("Index %d: %v", i, err))
			}
			response.Addresses = append(response.Addresses, AddressResponse{FormattedAddress: address, Coordinates: coord})
		}
		utils.RespondJSON(w, http.StatusOK, response)
	}
}
