package assessor

import (
	"github.com/kestrelsec/kestrel/internal/assessment"
)

// Config is the declarative specialization of one domain analyzer. The
// generic Assess path is identical across domains; everything that differs
// (prompt, payload field priority, fallback heuristics) lives here as data.
type Config struct {
	Domain       assessment.Domain
	AgentName    string
	SystemPrompt string

	// PriorityFields is the trim order handed to the prompt budgeter.
	PriorityFields []string

	// Fallback heuristics. The primary categorical field drives the base
	// score; the secondary field can only raise it via max().
	PrimaryField      string
	PrimaryHigh       int
	PrimaryModerate   int
	SecondaryField    string
	SecondaryHigh     int
	SecondaryModerate int
}

const assessmentOutputContract = `
Respond with a single JSON object and nothing else, in exactly this shape:
{
  "risk_level": <float 0.0-1.0>,
  "risk_factors": [<short string>, ...],
  "anomaly_details": [<specific, evidence-citing string>, ...],
  "confidence": <float 0.0-1.0>,
  "summary": "<one or two sentences>",
  "thoughts": "<multi-sentence rationale>"
}
Scoring bands: 0.0-0.3 low risk, 0.4-0.6 medium risk, 0.7-1.0 high risk.
If the evidence shows activity from multiple countries within a window too
short for physical travel (impossible travel), score in the 0.8-1.0 range.
risk_factors must not be empty unless risk_level is 0.0.`

const devicePrompt = `You are a fraud analyst assessing DEVICE risk for one user account.
You will receive a "signals" list of recent device sightings. Each signal may
contain: fingerprint, user_agent, os, browser, country, first_seen, last_seen.
Weigh new or rapidly changing fingerprints, user-agent churn, and sightings
from unexpected countries.` + assessmentOutputContract

const locationPrompt = `You are a fraud analyst assessing LOCATION risk for one user account.
You will receive a "signals" list of recent geolocated events. Each signal may
contain: country, city, latitude, longitude, timestamp. You will also receive
"registered_country", the authoritative country on the account record; treat
activity far from it as elevated.` + assessmentOutputContract

const networkPrompt = `You are a fraud analyst assessing NETWORK risk for one user account.
You will receive a "signals" list of recent network observations. Each signal
may contain: ip, isp, organization, asn, is_proxy, is_hosting, timestamp.
Weigh ISP churn, hosting-provider or proxy egress, and IP diversity.` + assessmentOutputContract

const logsPrompt = `You are a fraud analyst assessing AUTHENTICATION LOG risk for one user
account. You will receive a "signals" list of recent authentication events.
Each signal may contain: ip, city, country, outcome, method, timestamp.
Weigh failed-then-successful sequences, source IP spread, and method changes.` + assessmentOutputContract

var domainConfigs = map[assessment.Domain]Config{
	assessment.DomainDevice: {
		Domain:            assessment.DomainDevice,
		AgentName:         "device-analyzer",
		SystemPrompt:      devicePrompt,
		PriorityFields:    []string{"signals"},
		PrimaryField:      "country",
		PrimaryHigh:       3,
		PrimaryModerate:   1,
		SecondaryField:    "fingerprint",
		SecondaryHigh:     3,
		SecondaryModerate: 1,
	},
	assessment.DomainLocation: {
		Domain:            assessment.DomainLocation,
		AgentName:         "location-analyzer",
		SystemPrompt:      locationPrompt,
		PriorityFields:    []string{"signals"},
		PrimaryField:      "country",
		PrimaryHigh:       3,
		PrimaryModerate:   1,
		SecondaryField:    "city",
		SecondaryHigh:     5,
		SecondaryModerate: 2,
	},
	assessment.DomainNetwork: {
		Domain:            assessment.DomainNetwork,
		AgentName:         "network-analyzer",
		SystemPrompt:      networkPrompt,
		PriorityFields:    []string{"signals"},
		PrimaryField:      "isp",
		PrimaryHigh:       3,
		PrimaryModerate:   1,
		SecondaryField:    "ip",
		SecondaryHigh:     10,
		SecondaryModerate: 5,
	},
	assessment.DomainLogs: {
		Domain:            assessment.DomainLogs,
		AgentName:         "logs-analyzer",
		SystemPrompt:      logsPrompt,
		PriorityFields:    []string{"signals"},
		PrimaryField:      "ip",
		PrimaryHigh:       10,
		PrimaryModerate:   5,
		SecondaryField:    "city",
		SecondaryHigh:     5,
		SecondaryModerate: 2,
	},
}

// ConfigFor returns the specialization for a domain.
func ConfigFor(d assessment.Domain) (Config, bool) {
	cfg, ok := domainConfigs[d]
	return cfg, ok
}
