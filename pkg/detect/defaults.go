package detect

import "github.com/sentinelsec/sentinel/pkg/models"

// DefaultRules is the built-in rule set seeded into an empty rule store:
// the classic Windows Security channel identifiers plus the common Sysmon
// operational events.
func DefaultRules() []models.DetectionRule {
	return []models.DetectionRule{
		{
			EventID: 4624, Channel: "Security",
			EventType: models.EventTypeAuthSuccess, RiskLevel: models.RiskLow,
			Confidence: 90, Summary: "Successful account logon",
			MitreTechniques: []string{"T1078"},
			Enabled:         true, Priority: 10,
			Tags: []string{"authentication"},
		},
		{
			EventID: 4625, Channel: "Security",
			EventType: models.EventTypeAuthFailure, RiskLevel: models.RiskHigh,
			Confidence: 85, Summary: "Failed account logon",
			MitreTechniques:    []string{"T1110.001"},
			RecommendedActions: []string{"Review source address", "Check for repeated failures against the same account"},
			Enabled:            true, Priority: 10,
			Tags: []string{"authentication", "brute-force"},
		},
		{
			EventID: 4672, Channel: "Security",
			EventType: models.EventTypePrivilegeEscalation, RiskLevel: models.RiskMedium,
			Confidence: 80, Summary: "Special privileges assigned to new logon",
			MitreTechniques: []string{"T1078.002"},
			Enabled:         true, Priority: 20,
			Tags: []string{"privilege"},
		},
		{
			EventID: 4688, Channel: "Security",
			EventType: models.EventTypeProcessCreation, RiskLevel: models.RiskLow,
			Confidence: 75, Summary: "New process created",
			MitreTechniques: []string{"T1059"},
			Enabled:         true, Priority: 10,
			Tags: []string{"process"},
		},
		{
			EventID: 4697, Channel: "Security",
			EventType: models.EventTypeProcessCreation, RiskLevel: models.RiskHigh,
			Confidence: 85, Summary: "Service installed on the system",
			MitreTechniques:    []string{"T1543.003"},
			RecommendedActions: []string{"Verify the service binary path and signer"},
			Enabled:            true, Priority: 20,
			Tags: []string{"persistence"},
		},
		{
			EventID: 4698, Channel: "Security",
			EventType: models.EventTypeProcessCreation, RiskLevel: models.RiskMedium,
			Confidence: 80, Summary: "Scheduled task created",
			MitreTechniques: []string{"T1053.005"},
			Enabled:         true, Priority: 20,
			Tags: []string{"persistence"},
		},
		{
			EventID: 4720, Channel: "Security",
			EventType: models.EventTypeOther, RiskLevel: models.RiskMedium,
			Confidence: 85, Summary: "User account created",
			MitreTechniques: []string{"T1136.001"},
			Enabled:         true, Priority: 20,
			Tags: []string{"account-management"},
		},
		{
			EventID: 1102, Channel: "Security",
			EventType: models.EventTypeOther, RiskLevel: models.RiskCritical,
			Confidence: 95, Summary: "Audit log cleared",
			MitreTechniques:    []string{"T1070.001"},
			RecommendedActions: []string{"Treat as hostile until proven otherwise", "Correlate with preceding privileged logons"},
			Enabled:            true, Priority: 30,
			Tags: []string{"defense-evasion"},
		},
		{
			EventID: 1, Channel: "Microsoft-Windows-Sysmon/Operational",
			EventType: models.EventTypeProcessCreation, RiskLevel: models.RiskLow,
			Confidence: 80, Summary: "Sysmon process creation",
			MitreTechniques: []string{"T1059"},
			Enabled:         true, Priority: 10,
			Tags: []string{"process", "sysmon"},
		},
		{
			EventID: 3, Channel: "Microsoft-Windows-Sysmon/Operational",
			EventType: models.EventTypeNetworkConnection, RiskLevel: models.RiskLow,
			Confidence: 75, Summary: "Sysmon network connection",
			MitreTechniques: []string{"T1071"},
			Enabled:         true, Priority: 10,
			Tags: []string{"network", "sysmon"},
		},
	}
}
