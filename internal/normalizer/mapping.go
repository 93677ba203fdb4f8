package normalizer

import "github.com/helixsec/fusion/internal/config"

// defaultMappings cover the field conventions of the supported source
// systems. Config-provided mappings override these per source name;
// genericMapping is the fallback for unknown sources.
var defaultMappings = map[string]config.SourceMapping{
	// Microsoft security products (Defender, Entra) share the EventTime /
	// EventSource / Customer convention.
	"microsoft_defender": {
		TenantID:          []string{"Customer", "TenantId"},
		AlertType:         []string{"AlertType", "Category"},
		SourceAlertID:     []string{"EventID", "AlertId"},
		Timestamp:         []string{"EventTime", "CreatedDateTime"},
		Severity:          []string{"Alert_Severity", "Severity"},
		ServiceOrProvider: []string{"EventSource", "ServiceSource"},
		FailureReason:     []string{"FailureReason", "ResultType"},
	},
	"entra": {
		TenantID:          []string{"tenantId", "Customer"},
		AlertType:         []string{"activityDisplayName", "AlertType"},
		SourceAlertID:     []string{"id", "correlationId"},
		Timestamp:         []string{"activityDateTime", "createdDateTime"},
		Severity:          []string{"riskLevel", "Severity"},
		ServiceOrProvider: []string{"appDisplayName", "resourceDisplayName"},
		FailureReason:     []string{"failureReason", "errorCode"},
	},
	"okta": {
		TenantID:          []string{"org", "tenant"},
		AlertType:         []string{"eventType", "displayMessage"},
		SourceAlertID:     []string{"uuid", "transactionId"},
		Timestamp:         []string{"published"},
		Severity:          []string{"severity"},
		ServiceOrProvider: []string{"target", "provider"},
		FailureReason:     []string{"outcome_reason", "reason"},
	},
	"proofpoint": {
		TenantID:          []string{"customer", "clusterId"},
		AlertType:         []string{"threatType", "classification"},
		SourceAlertID:     []string{"threatID", "messageID"},
		Timestamp:         []string{"threatTime", "messageTime"},
		Severity:          []string{"threatStatus", "severity"},
		ServiceOrProvider: []string{"sender_domain", "campaignId"},
		FailureReason:     []string{"quarantineRule"},
	},
}

// genericMapping tries common lowercase field names before giving up.
var genericMapping = config.SourceMapping{
	TenantID:          []string{"tenant_id", "tenant", "customer", "Customer"},
	AlertType:         []string{"alert_type", "type", "AlertType"},
	SourceAlertID:     []string{"source_alert_id", "alert_id", "id", "EventID"},
	Timestamp:         []string{"timestamp", "timestamp_utc", "event_time", "EventTime"},
	Severity:          []string{"severity", "Alert_Severity"},
	ServiceOrProvider: []string{"service", "provider", "source", "EventSource"},
	FailureReason:     []string{"failure_reason", "reason", "error_code"},
}

// buildMappings merges configured mappings over the built-in defaults.
func buildMappings(sources config.SourcesConfig) map[string]config.SourceMapping {
	merged := make(map[string]config.SourceMapping, len(defaultMappings)+len(sources.Mappings))
	for name, m := range defaultMappings {
		merged[name] = m
	}
	for name, m := range sources.Mappings {
		merged[name] = m
	}
	return merged
}
