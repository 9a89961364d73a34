package derivation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RuleDeriver implements Deriver with keyword rules and no network calls.
// It backs the derivation routes when no model API key is configured.
type RuleDeriver struct{}

// NewRuleDeriver creates a rule-based deriver.
func NewRuleDeriver() *RuleDeriver {
	return &RuleDeriver{}
}

type domainRule struct {
	domain      string
	criticality int
	keywords    []string
}

// Checked in order, specific to general.
var domainRules = []domainRule{
	{"EmergencyServices", 5, []string{"emergency", "ambulance", "fire", "police", "911", "incident"}},
	{"PublicSafety", 5, []string{"flood", "earthquake", "crime", "safety", "alert"}},
	{"Transport", 4, []string{"bus", "tram", "metro", "train", "traffic", "transit", "gps", "vehicle", "parking"}},
	{"Energy", 4, []string{"energy", "electricity", "meter", "grid", "power", "solar"}},
	{"AirQuality", 3, []string{"air quality", "pollution", "pm2.5", "pm10", "no2", "ozone"}},
	{"Water", 3, []string{"water", "sewer", "rain", "reservoir"}},
	{"Waste", 2, []string{"waste", "garbage", "recycling", "bin"}},
	{"Events", 2, []string{"event", "concert", "festival", "news"}},
}

type fieldRule struct {
	field    string
	typ      string
	keywords []string
}

var fieldRules = []fieldRule{
	{"location", "GEOGRAPHY", []string{"gps", "location", "coordinates", "latitude", "longitude", "position", "geo"}},
	{"timestamp", "TIMESTAMP", []string{"time", "timestamp", "date", "every", "real-time", "realtime"}},
	{"speed", "FLOAT", []string{"speed", "velocity"}},
	{"value", "FLOAT", []string{"reading", "measurement", "level", "concentration", "usage"}},
	{"count", "INTEGER", []string{"count", "number of", "occupancy", "passengers"}},
	{"status", "STRING", []string{"status", "state"}},
	{"description", "STRING", []string{"description", "report", "text", "comment"}},
	{"is_active", "BOOLEAN", []string{"active", "enabled", "open"}},
}

var attachmentTypes = []string{"pdf", "csv", "excel", "xlsx", "parquet", "json file"}

var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// DefineDomain derives a domain definition by keyword matching.
func (r *RuleDeriver) DefineDomain(ctx context.Context, prompt string) (DomainDefinition, error) {
	if err := requirePrompt("prompt", prompt); err != nil {
		return DomainDefinition{}, err
	}

	lower := strings.ToLower(prompt)
	rule := matchDomain(lower)

	schema := map[string]string{"id": "STRING"}
	for _, fr := range fieldRules {
		if containsAny(lower, fr.keywords) {
			schema[fr.field] = fr.typ
		}
	}

	labels := []string{strings.ToLower(rule.domain)}
	for _, kw := range rule.keywords {
		if strings.Contains(lower, kw) {
			labels = append(labels, kw)
		}
	}

	users := []string{"Admin"}
	if rule.criticality >= 4 {
		users = append(users, "Operations")
	}
	users = append(users, "Analyst")

	return DomainDefinition{
		DomainName:       rule.domain,
		CriticalityLevel: rule.criticality,
		Labels:           labels,
		AuthorizedUsers:  users,
		SchemaDefinition: schema,
		TableName:        SnakeCase(rule.domain) + "_" + subjectWord(lower, rule),
	}, nil
}

// ExtractAPIMetadata derives API metadata by keyword matching.
func (r *RuleDeriver) ExtractAPIMetadata(ctx context.Context, prompt string) (APIMetadata, error) {
	if err := requirePrompt("prompt", prompt); err != nil {
		return APIMetadata{}, err
	}

	lower := strings.ToLower(prompt)
	rule := matchDomain(lower)
	subject := subjectWord(lower, rule)

	meta := APIMetadata{
		Domain:                rule.domain,
		EndpointID:            subject + "_v1",
		Source:                "unknown",
		IngestionType:         "RestAPI",
		TableName:             SnakeCase(rule.domain) + "_" + subject,
		DataUsageInstructions: fmt.Sprintf("Records describe %s data for the %s domain.", subject, rule.domain),
		DataUsagePrompt:       fmt.Sprintf("Label each record as %s data and flag anomalies.", rule.domain),
		DataUsers:             []string{"Administrators/Governance", "Users"},
	}

	if u := urlPattern.FindString(prompt); u != "" {
		meta.Source = u
	}

	switch {
	case containsAny(lower, []string{"stream", "kafka", "mqtt", "real-time", "realtime"}):
		meta.IngestionType = "Streaming"
	case containsAny(lower, []string{"webhook", "push", "callback"}):
		meta.IngestionType = "Webhooks"
	case containsAny(lower, []string{"upload", "file", "spreadsheet"}):
		meta.IngestionType = "FileUpload"
	}

	for _, t := range attachmentTypes {
		if strings.Contains(lower, t) {
			meta.IsAttachment = true
			meta.AttachmentType = strings.ToUpper(strings.Fields(t)[0])
			break
		}
	}

	meta.IsTransformationRequired = containsAny(lower, []string{"convert", "transform", "normalize", "translate", "clean"})
	return meta, nil
}

// GenerateTransformScript returns a script skeleton that documents the request.
func (r *RuleDeriver) GenerateTransformScript(ctx context.Context, prompt string) (TransformScript, error) {
	if err := requirePrompt("transformationPrompt", prompt); err != nil {
		return TransformScript{}, err
	}

	var b strings.Builder
	b.WriteString("import pandas as pd\n\n\n")
	b.WriteString("def transform(data):\n")
	for _, line := range strings.Split(strings.TrimSpace(prompt), "\n") {
		b.WriteString("    # " + strings.TrimSpace(line) + "\n")
	}
	b.WriteString("    df = pd.DataFrame([data])\n")
	b.WriteString("    return df.to_dict(orient=\"records\")[0]\n")

	return TransformScript{PythonScript: b.String()}, nil
}

// SummarizeRecord lists the record's fields in a sentence.
func (r *RuleDeriver) SummarizeRecord(ctx context.Context, in SummarizeRecordInput) (RecordSummary, error) {
	if err := in.Validate(); err != nil {
		return RecordSummary{}, err
	}

	keys := make([]string, 0, len(in.Data))
	for k := range in.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s is %v", k, in.Data[k]))
	}

	summary := fmt.Sprintf("A record from %s with %d field(s)", in.TableName, len(keys))
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	summary += "."
	return RecordSummary{Summary: summary}, nil
}

func matchDomain(lower string) domainRule {
	for _, rule := range domainRules {
		if containsAny(lower, rule.keywords) {
			return rule
		}
	}
	return domainRule{domain: "General", criticality: 1}
}

// subjectWord picks the first domain keyword present in the text.
func subjectWord(lower string, rule domainRule) string {
	for _, kw := range rule.keywords {
		if strings.Contains(lower, kw) {
			if s := SnakeCase(kw); s != "" && s[0] >= 'a' && s[0] <= 'z' {
				return s
			}
		}
	}
	return "data"
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
