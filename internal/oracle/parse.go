package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errNoObject = errors.New("no JSON object found")

// decodeObject turns free model text into a JSON object. Code fences are
// stripped first; if the remainder does not parse, the first balanced {...}
// span is tried.
func decodeObject(raw string) (map[string]interface{}, error) {
	text := stripFences(raw)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}

	candidate := extractJSONObject(text)
	if candidate == "" {
		return nil, &ResponseError{Raw: raw, Err: errNoObject}
	}
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, &ResponseError{Raw: raw, Err: fmt.Errorf("recovered object: %w", err)}
	}
	return obj, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first brace-balanced object in s, ignoring
// braces inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '{' && !inString:
			depth++
		case c == '}' && !inString:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// ParseIntake normalizes raw model output for the intake task.
func ParseIntake(raw string) (IntakeJudgement, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return IntakeJudgement{}, err
	}
	return NormalizeIntake(obj), nil
}

// ParseComparison normalizes raw model output for the comparison task.
func ParseComparison(raw string) (ComparisonJudgement, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return ComparisonJudgement{}, err
	}
	return NormalizeComparison(obj), nil
}

// NormalizeIntake coerces untrusted fields. Malformed signals never read as
// positive: a broken isFake is false, but so are imageValid and isRealPhoto,
// and wasteDetected falls back to "no".
func NormalizeIntake(obj map[string]interface{}) IntakeJudgement {
	wasteType := asString(obj["wasteType"])
	return IntakeJudgement{
		ImageValid:     asBool(obj["imageValid"], false),
		IsRealPhoto:    asBool(obj["isRealPhoto"], false),
		WasteDetected:  asYesNo(obj["wasteDetected"]),
		WasteType:      wasteType,
		WasteAmount:    asString(obj["wasteAmount"]),
		Classification: normalizeClassification(asString(obj["classification"]), wasteType),
		Severity:       normalizeSeverity(asString(obj["severity"])),
		IsFake:         asBool(obj["isFake"], false),
		Confidence:     asConfidence(obj["confidence"]),
		Description:    asString(obj["description"]),
	}
}

// NormalizeComparison coerces untrusted comparison fields. remainingWaste and
// afterIsCleaner stay nil when the model omitted them.
func NormalizeComparison(obj map[string]interface{}) ComparisonJudgement {
	return ComparisonJudgement{
		SameLocation:     asBool(obj["sameLocation"], false),
		Cleaned:          asBool(obj["cleaned"], false),
		CleanlinessLevel: normalizeLevel(asString(obj["cleanlinessLevel"])),
		RemainingWaste:   asOptionalBool(obj["remainingWaste"]),
		CleaningQuality:  strings.ToLower(asString(obj["cleaningQuality"])),
		AfterIsCleaner:   asOptionalBool(obj["afterIsCleaner"]),
		Suspicious:       asBool(obj["suspicious"], false),
		SuspiciousReason: asString(obj["suspiciousReason"]),
		Confidence:       asConfidence(obj["confidence"]),
		Description:      asString(obj["description"]),
	}
}

var (
	wetHints = []string{"organic", "food", "kitchen", "wet", "vegetable", "garden"}
	dryHints = []string{"plastic", "paper", "metal", "glass", "cardboard", "dry"}
)

func normalizeClassification(classification, wasteType string) string {
	switch c := strings.ToLower(strings.TrimSpace(classification)); c {
	case "dry", "wet", "mixed", "none":
		return c
	}

	wt := strings.ToLower(wasteType)
	if strings.Contains(wt, "mixed") {
		return "mixed"
	}
	wet := containsAny(wt, wetHints)
	dry := containsAny(wt, dryHints)
	switch {
	case wet && dry:
		return "mixed"
	case wet:
		return "wet"
	case dry:
		return "dry"
	}
	return "unknown"
}

func normalizeSeverity(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case SeverityRed, SeverityYellow, SeverityGreen:
		return s
	}
	return SeverityNone
}

func normalizeLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func asOptionalBool(v interface{}) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return &b
		}
	}
	return nil
}

func asBool(v interface{}, fallback bool) bool {
	if b := asOptionalBool(v); b != nil {
		return *b
	}
	return fallback
}

func asYesNo(v interface{}) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "yes"
		}
	case string:
		if strings.EqualFold(strings.TrimSpace(t), "yes") {
			return "yes"
		}
	}
	return "no"
}

func asConfidence(v interface{}) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(t, "%")), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 && f <= 100 {
		// some answers come back as a percentage
		f /= 100
	}
	return math.Min(f, 1)
}
