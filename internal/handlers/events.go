package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/models"
	"wastewatch-backend/internal/pipeline"
	"wastewatch-backend/pkg/utils"
)

// FinalizedEventType is the CloudEvents type of a storage object finalize.
const FinalizedEventType = "google.cloud.storage.object.v1.finalized"

const maxEventBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventProcessor runs the pipeline for one finalize event.
type EventProcessor interface {
	HandleFinalize(ctx context.Context, ev models.FinalizeEvent) pipeline.Result
}

var errEmptyEvent = errors.New("empty event body")

// storageObject is the GCS object resource carried as event data. The JSON API
// encodes 64-bit integers as strings.
type storageObject struct {
	Bucket         string            `json:"bucket"`
	Name           string            `json:"name"`
	ContentType    string            `json:"contentType"`
	Size           json.Number       `json:"size"`
	Generation     json.Number       `json:"generation"`
	Metageneration json.Number       `json:"metageneration"`
	TimeCreated    string            `json:"timeCreated"`
	Metadata       map[string]string `json:"metadata"`
}

type structuredEvent struct {
	SpecVersion string          `json:"specversion"`
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	DataBase64  string          `json:"data_base64"`
}

type pubsubPush struct {
	Message struct {
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// decodeFinalizeEvent accepts a structured CloudEvent, a binary-mode
// CloudEvent (ce-* headers), a Pub/Sub push envelope from a bucket
// notification, or a bare object resource. eventType is empty when the
// delivery does not name one.
func decodeFinalizeEvent(r *http.Request, body []byte) (ev models.FinalizeEvent, eventType string, err error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return ev, "", errEmptyEvent
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var id string
	data := body

	switch {
	case r.Header.Get("ce-specversion") != "":
		id = r.Header.Get("ce-id")
		eventType = r.Header.Get("ce-type")
	case mediaType == "application/cloudevents+json":
		var se structuredEvent
		if err := json.Unmarshal(body, &se); err != nil {
			return ev, "", fmt.Errorf("decode cloudevent: %w", err)
		}
		id, eventType = se.ID, se.Type
		if data, err = structuredData(se); err != nil {
			return ev, "", err
		}
	default:
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return ev, "", fmt.Errorf("decode event: %w", err)
		}
		if _, ok := envelope["specversion"]; ok {
			var se structuredEvent
			if err := json.Unmarshal(body, &se); err != nil {
				return ev, "", fmt.Errorf("decode cloudevent: %w", err)
			}
			id, eventType = se.ID, se.Type
			if data, err = structuredData(se); err != nil {
				return ev, "", err
			}
		} else if _, ok := envelope["message"]; ok {
			var push pubsubPush
			if err := json.Unmarshal(body, &push); err != nil {
				return ev, "", fmt.Errorf("decode pubsub push: %w", err)
			}
			if data, err = base64.StdEncoding.DecodeString(push.Message.Data); err != nil {
				return ev, "", fmt.Errorf("decode pubsub data: %w", err)
			}
			id = push.Message.MessageID
			if t := push.Message.Attributes["eventType"]; t == "OBJECT_FINALIZE" {
				eventType = FinalizedEventType
			} else if t != "" {
				eventType = t
			}
		}
	}

	var obj storageObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return ev, eventType, fmt.Errorf("decode storage object: %w", err)
	}
	ev, err = obj.toEvent(id)
	return ev, eventType, err
}

func structuredData(se structuredEvent) ([]byte, error) {
	if se.DataBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(se.DataBase64)
		if err != nil {
			return nil, fmt.Errorf("decode data_base64: %w", err)
		}
		return data, nil
	}
	if len(se.Data) == 0 {
		return nil, errEmptyEvent
	}
	return se.Data, nil
}

func (o storageObject) toEvent(id string) (models.FinalizeEvent, error) {
	ev := models.FinalizeEvent{
		ID:             id,
		Bucket:         o.Bucket,
		Name:           o.Name,
		ContentType:    o.ContentType,
		Generation:     o.Generation.String(),
		Metageneration: o.Metageneration.String(),
		Metadata:       o.Metadata,
	}
	if o.Size != "" {
		size, err := strconv.ParseInt(o.Size.String(), 10, 64)
		if err != nil {
			return ev, fmt.Errorf("invalid size %q", o.Size)
		}
		ev.SizeBytes = size
	}
	if o.TimeCreated != "" {
		created, err := time.Parse(time.RFC3339Nano, o.TimeCreated)
		if err != nil {
			return ev, fmt.Errorf("invalid timeCreated %q", o.TimeCreated)
		}
		ev.TimeCreated = created
	}
	return ev, nil
}

// HandleStorageEvent receives upload-bucket finalize events. A 503 asks the
// event source to redeliver; everything else is acknowledged.
func HandleStorageEvent(processor EventProcessor, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithField("component", "events")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "could not read event body")
			return
		}

		ev, eventType, err := decodeFinalizeEvent(r, body)
		if eventType != "" && eventType != FinalizedEventType {
			log.WithField("event_type", eventType).Debug("ignoring non-finalize event")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			log.WithError(err).Warn("malformed storage event")
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validate.Struct(ev); err != nil {
			log.WithError(err).Warn("invalid storage event")
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		res := processor.HandleFinalize(r.Context(), ev)
		entry := log.WithFields(logrus.Fields{
			"event_id":  ev.ID,
			"object":    ev.Name,
			"outcome":   res.Outcome,
			"report_id": res.ReportID,
		})
		if res.Err != nil {
			entry = entry.WithError(res.Err)
		}

		if res.Retryable() {
			entry.Warn("event processing failed, requesting redelivery")
			utils.RespondError(w, http.StatusServiceUnavailable, "temporarily unable to process event")
			return
		}
		entry.Info("event processed")
		w.WriteHeader(http.StatusNoContent)
	}
}
