package pipeline

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
	"time"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/models"
)

// ObjectKind tells which trigger a finalized object belongs to.
type ObjectKind int

const (
	KindOther ObjectKind = iota
	KindBefore
	KindAfter
)

func (k ObjectKind) String() string {
	switch k {
	case KindBefore:
		return "before"
	case KindAfter:
		return "after"
	default:
		return "other"
	}
}

const (
	// FilenameProximity is how far an embedded upload timestamp may be from
	// the report's createdAt for the legacy match.
	FilenameProximity = 60 * time.Second

	// MetadataReportID is the object metadata key carrying the owning report.
	MetadataReportID = "reportId"

	legacyScanLimit = 50
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ClassifyObject matches an object path to the before or after trigger:
// "*_before.jpg", "reports/before/<id>.png" and their after counterparts.
// Anything else is KindOther and must be ignored.
func ClassifyObject(name string) ObjectKind {
	ext := strings.ToLower(path.Ext(name))
	if !imageExtensions[ext] {
		return KindOther
	}
	stem := strings.ToLower(strings.TrimSuffix(path.Base(name), path.Ext(name)))
	switch {
	case strings.HasSuffix(stem, "_before"):
		return KindBefore
	case strings.HasSuffix(stem, "_after"):
		return KindAfter
	}
	switch path.Dir(name) {
	case "reports/before":
		return KindBefore
	case "reports/after":
		return KindAfter
	}
	return KindOther
}

// candidateIDs returns path segments that may be a report id:
// reports/{before,after}/<id>.ext and reports/<id>/<file>.
func candidateIDs(name string) []string {
	parts := strings.Split(name, "/")
	if len(parts) < 3 || parts[0] != "reports" {
		return nil
	}
	if parts[1] == "before" || parts[1] == "after" {
		if len(parts) == 3 {
			return []string{strings.TrimSuffix(parts[2], path.Ext(parts[2]))}
		}
		return nil
	}
	return []string{parts[1]}
}

// embeddedTimestamp reads the "<unix millis>_before.jpg" convention.
func embeddedTimestamp(name string) (time.Time, bool) {
	stem := strings.TrimSuffix(path.Base(name), path.Ext(name))
	prefix, _, found := strings.Cut(stem, "_")
	if !found {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n < 1e11 {
		return time.Unix(n, 0), true
	}
	return time.UnixMilli(n), true
}

// correlate finds the report owning a finalized object. Lookups go from most
// to least reliable: object metadata, exact URI, download-URL prefix, id in
// the path, then the legacy scan when enabled.
func (o *Orchestrator) correlate(ctx context.Context, ev models.FinalizeEvent, kind ObjectKind) (*models.Report, string, error) {
	if id := o.metadataReportID(ctx, ev); id != "" {
		r, err := o.store.Get(ctx, id)
		switch {
		case err == nil:
			return r, "metadata", nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, "", err
		}
		o.logger.WithField("report_id", id).Warn("object metadata names an unknown report")
	}

	for _, uri := range []string{ev.GSURI(), ev.PublicURL()} {
		f := database.Filter{Limit: 1}
		if kind == KindBefore {
			f.ImageBefore = uri
		} else {
			f.ImageAfter = uri
		}
		if r, err := o.findOne(ctx, f); r != nil || err != nil {
			return r, "uri", err
		}
	}

	f := database.Filter{Limit: 1}
	if kind == KindBefore {
		f.ImageBeforePrefix = ev.DownloadURLPrefix()
	} else {
		f.ImageAfterPrefix = ev.DownloadURLPrefix()
	}
	if r, err := o.findOne(ctx, f); r != nil || err != nil {
		return r, "download_url", err
	}

	for _, id := range candidateIDs(ev.Name) {
		r, err := o.store.Get(ctx, id)
		if err == nil {
			return r, "path_id", nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, "", err
		}
	}

	if !o.legacyFallback {
		return nil, "", ErrCorrelationMiss
	}
	return o.correlateLegacy(ctx, ev, kind)
}

func (o *Orchestrator) metadataReportID(ctx context.Context, ev models.FinalizeEvent) string {
	if id := ev.Metadata[MetadataReportID]; id != "" {
		return id
	}
	if o.metadata == nil {
		return ""
	}
	md, err := o.metadata.Metadata(ctx, ev.Bucket, ev.Name)
	if err != nil {
		o.logger.WithError(err).WithField("path", ev.Name).Debug("could not read object metadata")
		return ""
	}
	return md[MetadataReportID]
}

func (o *Orchestrator) findOne(ctx context.Context, f database.Filter) (*models.Report, error) {
	reports, err := o.store.Find(ctx, f)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return reports[0], nil
}

// correlateLegacy scans recent reports in the trigger's eligible statuses and
// matches by file name, path id or upload time. The newest report is the last
// resort.
func (o *Orchestrator) correlateLegacy(ctx context.Context, ev models.FinalizeEvent, kind ObjectKind) (*models.Report, string, error) {
	statuses := []models.Status{models.StatusPending}
	if kind == KindAfter {
		statuses = []models.Status{models.StatusAssigned, models.StatusCleaned}
	}
	recent, err := o.store.Find(ctx, database.Filter{Statuses: statuses, Limit: legacyScanLimit})
	if err != nil {
		return nil, "", err
	}
	if len(recent) == 0 {
		return nil, "", ErrCorrelationMiss
	}

	fileName := path.Base(ev.Name)
	uploadedAt, hasTimestamp := embeddedTimestamp(ev.Name)
	if !hasTimestamp && !ev.TimeCreated.IsZero() {
		uploadedAt, hasTimestamp = ev.TimeCreated, true
	}
	ids := candidateIDs(ev.Name)

	for _, r := range recent {
		image := r.ImageBefore
		if kind == KindAfter {
			image = r.ImageAfter
		}
		if image != "" && (strings.Contains(image, fileName) || strings.Contains(image, ev.Name)) {
			return r, "legacy_filename", nil
		}
		if kind == KindAfter && containsAny(image, ids) {
			return r, "legacy_filename", nil
		}
		if kind == KindBefore && hasTimestamp && absDuration(r.CreatedAt.Sub(uploadedAt)) < FilenameProximity {
			return r, "legacy_timestamp", nil
		}
	}
	return recent[0], "legacy_most_recent", nil
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
