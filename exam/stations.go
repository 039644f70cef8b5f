package exam

import (
	"strings"

	"github.com/google/uuid"
	"github.com/krshsl/cascprep/models"
)

// RawStation is a station as produced by a generator, before ids, circuits
// and timings are assigned.
type RawStation struct {
	Title    string   `json:"title"`
	Scenario string   `json:"scenario"`
	Tags     []string `json:"tags"`
}

var fallbackStations = []RawStation{
	{
		Title:    "Cognitive Assessment in Confused Elderly",
		Scenario: "Perform a cognitive examination on Mr Smith, an elderly gentleman found wandering the streets. Assess orientation, attention, short-term memory, and red flags.",
		Tags:     []string{"Cognition", "Assessment", "Elderly"},
	},
	{
		Title:    "Medication Counselling - Rivastigmine",
		Scenario: "Mr Paul Smith has a new diagnosis of Alzheimer's disease and you have decided to start rivastigmine. His brother wants to discuss effects, side-effects, monitoring, and expectations.",
		Tags:     []string{"Counselling", "Dementia", "Medicines"},
	},
	{
		Title:    "Acute Chest Pain in Middle-Aged Adult",
		Scenario: "A 56-year-old presents with central chest pain radiating to the left arm. Take a focused history, assess red flags, and explain immediate management and safety netting.",
		Tags:     []string{"Cardiology", "Emergency", "ACS"},
	},
	{
		Title:    "Asthma Exacerbation Safety-Net",
		Scenario: "A 22-year-old with asthma has increasing wheeze and night symptoms. Optimise control, check inhaler technique, and give clear safety-netting.",
		Tags:     []string{"Respiratory", "Asthma", "Safety-netting"},
	},
	{
		Title:    "Fever in a 2-Year-Old",
		Scenario: "A toddler has had fever for 3 days. Take a focused paediatric history, look for red flags, address parental concerns, and discuss home care and when to seek help.",
		Tags:     []string{"Paediatrics", "Fever", "Red flags"},
	},
	{
		Title:    "New-Onset Low Mood with Risk Assessment",
		Scenario: "A 29-year-old reports low mood and poor sleep. Explore symptoms, risk including self-harm, contributing factors, and agree a management plan.",
		Tags:     []string{"Mental Health", "Depression", "Risk"},
	},
	{
		Title:    "Back Pain with Red-Flag Screening",
		Scenario: "A 48-year-old has acute lower back pain after lifting. Screen for red flags such as cauda equina, malignancy and infection, then provide advice and safety-netting.",
		Tags:     []string{"MSK", "Back pain", "Red flags"},
	},
	{
		Title:    "TIA Assessment in Primary Care",
		Scenario: "A 67-year-old describes transient right-sided weakness resolving within 30 minutes. Take a history, assess stroke risk, and arrange urgent management.",
		Tags:     []string{"Neurology", "TIA", "Urgent care"},
	},
	{
		Title:    "Abdominal Pain - Possible Appendicitis",
		Scenario: "A 21-year-old has peri-umbilical pain migrating to the right iliac fossa, with nausea and anorexia. Take a focused history, consider differentials, and give an immediate plan.",
		Tags:     []string{"Surgery", "Abdomen", "Appendicitis"},
	},
	{
		Title:    "Antenatal Vaginal Bleeding",
		Scenario: "A 28-year-old at 28 weeks presents with painless vaginal bleeding. Prioritise red flags and arrange urgent obstetric assessment.",
		Tags:     []string{"Obs & Gynae", "Antenatal", "Emergency"},
	},
	{
		Title:    "Elderly UTI with Delirium",
		Scenario: "An 82-year-old in a care home is acutely confused with reduced intake. Consider UTI against other causes of delirium, then assess, manage, and safety-net.",
		Tags:     []string{"Geriatrics", "Delirium", "Infection"},
	},
	{
		Title:    "COPD Exacerbation - Community Plan",
		Scenario: "A 71-year-old smoker with COPD has increased cough and sputum. Optimise inhalers, explain rescue pack use, and agree when to escalate.",
		Tags:     []string{"Respiratory", "COPD", "Planning"},
	},
	{
		Title:    "Head Injury with Anticoagulation",
		Scenario: "A 74-year-old on apixaban tripped and hit his head with no loss of consciousness. Assess risk, indications for imaging, and safety-netting.",
		Tags:     []string{"Emergency", "Head injury", "Anticoagulation"},
	},
	{
		Title:    "Anaphylaxis - Immediate Management",
		Scenario: "A 19-year-old has sudden facial swelling and wheeze after eating peanuts. Outline recognition and immediate management of anaphylaxis.",
		Tags:     []string{"Allergy", "Emergency", "Anaphylaxis"},
	},
	{
		Title:    "Diabetes - Foot Ulcer Advice",
		Scenario: "A patient with type 2 diabetes presents with a small plantar ulcer. Assess infection risk, give off-loading advice, and explain referral thresholds.",
		Tags:     []string{"Diabetes", "Foot", "Wound care"},
	},
	{
		Title:    "Suicidal Ideation - Crisis Plan",
		Scenario: "A 35-year-old describes hopelessness with thoughts of jumping from a bridge. Perform a thorough risk assessment and agree a crisis plan.",
		Tags:     []string{"Mental Health", "Suicide risk", "Crisis"},
	},
}

// FallbackStations returns the built-in station list with fresh ids.
func FallbackStations() []models.Station {
	return NormalizeStations(nil)
}

// NormalizeStations turns generated stations into exactly StationCount
// complete stations. Items missing a title or scenario are dropped and the
// list is padded from the built-in bank, skipping titles already used.
func NormalizeStations(raw []RawStation) []models.Station {
	picked := make([]RawStation, 0, StationCount)
	seen := make(map[string]bool)

	add := func(r RawStation) {
		r.Title = strings.TrimSpace(r.Title)
		r.Scenario = strings.TrimSpace(r.Scenario)
		if r.Title == "" || r.Scenario == "" || len(picked) == StationCount {
			return
		}
		key := strings.ToLower(r.Title)
		if seen[key] {
			return
		}
		seen[key] = true
		r.Tags = cleanTags(r.Tags)
		picked = append(picked, r)
	}

	for _, r := range raw {
		add(r)
	}
	for _, r := range fallbackStations {
		add(r)
	}

	out := make([]models.Station, len(picked))
	for i, r := range picked {
		circuit, dur := models.CircuitMorning, MorningStationTime
		if i >= MorningStations {
			circuit, dur = models.CircuitAfternoon, AfternoonStationTime
		}
		out[i] = models.Station{
			ID:          uuid.NewString(),
			Title:       r.Title,
			Scenario:    r.Scenario,
			Tags:        r.Tags,
			Circuit:     circuit,
			DurationSec: int(dur.Seconds()),
		}
	}
	return out
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == 4 {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, "General")
	}
	return out
}
