package exam

import "github.com/krshsl/cascprep/models"

var practiceStations = []models.PracticeStation{
	{
		ID:                    1,
		Title:                 "Station 1: General Adult Patient Management",
		CandidateInstructions: "You are working in liaison psychiatry and have assessed Mr Septimus Harding, a 63-year-old man on the cardiology ward who had an NSTEMI three weeks ago. A medical student has asked you to explain your assessment and management plan.",
		ActorInstructions:     "You are Henrietta Lacks, a medical student on the liaison psychiatry team. The doctor is going to teach you about Mr Harding. Ask why he might be depressed, whether antidepressants are safe after a heart attack, and what happens next.",
		FeedbackDomains: map[string]string{
			"Differential Diagnosis": "Identifies mild to moderate depression following myocardial infarction and considers adjustment disorder and organic causes.",
			"Management":             "Recommends sertraline as a cardiac-safe option, psychological support, and liaison with the cardiology team.",
			"Communication":          "Explains clearly at a level suitable for a student and checks understanding.",
		},
	},
	{
		ID:                    2,
		Title:                 "Station 2: General Adult Patient Management",
		CandidateInstructions: "You are on an acute inpatient unit. Review Mrs Agatha Achebe, a 31-year-old woman with paranoid schizophrenia who has become restless since her antipsychotic dose was increased.",
		ActorInstructions:     "You are Mrs Agatha Achebe, 31, diagnosed with paranoid schizophrenia at 23. Since the dose went up you cannot sit still and feel terrible inside. You worry the staff think you are getting worse.",
		FeedbackDomains: map[string]string{
			"Knowledge":     "Correctly identifies akathisia and recognises its core subjective and objective features.",
			"Management":    "Discusses dose reduction, switching, propranolol, and monitoring.",
			"Communication": "Validates distress and explains the side-effect without dismissing her concerns.",
		},
	},
	{
		ID:                    3,
		Title:                 "Station 3: History Taking - Alcohol Use",
		CandidateInstructions: "Mr Derek Holt, 48, was admitted after a fall and the ward team are worried about his drinking. Take an alcohol history and assess for dependence.",
		ActorInstructions:     "You are Derek Holt, 48. You drink about a bottle of vodka a day since your divorce. You shake in the mornings and have a drink to settle. You are defensive at first but open up if treated kindly.",
		FeedbackDomains: map[string]string{
			"Data Gathering": "Quantifies intake and screens for dependence features, withdrawal and seizures.",
			"Risk":           "Assesses withdrawal risk, Wernicke's, driving and self-harm.",
			"Rapport":        "Non-judgemental approach that manages initial defensiveness.",
		},
	},
	{
		ID:                    4,
		Title:                 "Station 4: Explaining a Diagnosis - Bipolar Disorder",
		CandidateInstructions: "Ms Hannah Price, 26, has recently been diagnosed with bipolar affective disorder. Explain the diagnosis and discuss lithium as a treatment option.",
		ActorInstructions:     "You are Hannah Price, 26. You were admitted with a manic episode and now feel embarrassed. You have read that lithium is toxic and you are planning a pregnancy in a few years.",
		FeedbackDomains: map[string]string{
			"Knowledge":        "Accurate explanation of bipolar disorder and of lithium benefits, monitoring and toxicity.",
			"Shared Decisions": "Addresses pregnancy planning and alternatives in a balanced way.",
			"Communication":    "Avoids jargon and checks understanding.",
		},
	},
	{
		ID:                    5,
		Title:                 "Station 5: Risk Assessment - Self-Harm",
		CandidateInstructions: "Miss Chloe Baker, 19, presented to the emergency department after taking 20 paracetamol tablets. She is medically fit. Assess her risk.",
		ActorInstructions:     "You are Chloe Baker, 19. You took the tablets after an argument with your boyfriend. You told nobody and left a note. You are relieved to be alive but still feel hopeless about university.",
		FeedbackDomains: map[string]string{
			"Risk Assessment": "Explores intent, planning, final acts, current ideation and protective factors.",
			"Formulation":     "Summarises risk clearly and proposes a safe disposition.",
			"Empathy":         "Warm, non-judgemental and paced to her distress.",
		},
	},
	{
		ID:                    6,
		Title:                 "Station 6: Old Age Psychiatry - Collateral History",
		CandidateInstructions: "Mrs Joan Walsh's daughter is worried about her 79-year-old mother's memory. Take a collateral history.",
		ActorInstructions:     "You are Sarah, Joan's daughter. Over two years your mother has become forgetful, left the gas on twice, and got lost driving home. You feel guilty for not noticing sooner.",
		FeedbackDomains: map[string]string{
			"Data Gathering": "Establishes onset, progression, functional decline and safety concerns.",
			"Risk":           "Covers driving, cooking, finances and vulnerability.",
			"Carer Support":  "Acknowledges carer strain and signposts support.",
		},
	},
	{
		ID:                    7,
		Title:                 "Station 7: Child and Adolescent - ADHD",
		CandidateInstructions: "The mother of Liam, aged 9, has been told by school that he may have ADHD. Discuss her concerns and the assessment process.",
		ActorInstructions:     "You are Liam's mother. You are worried he will be labelled and drugged. You have noticed he cannot sit still at dinner and loses everything.",
		FeedbackDomains: map[string]string{
			"Knowledge":     "Explains ADHD features, multi-setting assessment and treatment options.",
			"Concerns":      "Addresses fears about stimulant medication honestly.",
			"Communication": "Collaborative tone that builds trust.",
		},
	},
	{
		ID:                    8,
		Title:                 "Station 8: Forensic - Violence Risk",
		CandidateInstructions: "Mr Craig Dunn, 34, with a history of psychosis, has made threats towards his neighbour. Assess the risk of violence.",
		ActorInstructions:     "You are Craig Dunn, 34. You believe your neighbour is pumping gas through the walls. You have bought a knife to protect yourself. You are guarded and irritable.",
		FeedbackDomains: map[string]string{
			"Risk Assessment": "Explores threats, weapons, past violence, substance use and psychotic drivers.",
			"Safety":          "Maintains personal safety and considers duty to warn.",
			"Engagement":      "De-escalates and keeps the patient talking.",
		},
	},
	{
		ID:                    9,
		Title:                 "Station 9: Eating Disorders - Physical Risk",
		CandidateInstructions: "Miss Priya Shah, 22, with anorexia nervosa, has a BMI of 13.5. Discuss her physical risk and the need for admission.",
		ActorInstructions:     "You are Priya Shah, 22. You feel fat and refuse admission. You exercise three hours a day. You are scared of losing control.",
		FeedbackDomains: map[string]string{
			"Knowledge":     "Identifies high-risk markers and refeeding risk.",
			"Negotiation":   "Balances autonomy with risk and explains legal frameworks appropriately.",
			"Communication": "Remains calm and empathic with an ambivalent patient.",
		},
	},
	{
		ID:                    10,
		Title:                 "Station 10: Perinatal Psychiatry",
		CandidateInstructions: "Mrs Emma Rowe, 30, is two weeks postpartum and her husband reports strange behaviour. Assess her mental state.",
		ActorInstructions:     "You are Emma Rowe, 30. You believe the baby has been swapped at the hospital. You have hardly slept in four days. You are frightened.",
		FeedbackDomains: map[string]string{
			"Diagnosis":  "Recognises postpartum psychosis as a psychiatric emergency.",
			"Risk":       "Assesses risk to mother and baby including infanticidal ideation.",
			"Management": "Plans urgent admission to a mother and baby unit.",
		},
	},
	{
		ID:                    11,
		Title:                 "Station 11: Psychopharmacology - Clozapine",
		CandidateInstructions: "Mr Tom Ellis, 41, has treatment-resistant schizophrenia. Discuss starting clozapine with his father.",
		ActorInstructions:     "You are Tom's father. You have heard clozapine can kill people through blood problems. You want to know why nothing else has worked.",
		FeedbackDomains: map[string]string{
			"Knowledge":       "Explains treatment resistance, clozapine benefits, neutropenia monitoring and other side-effects.",
			"Confidentiality": "Handles information sharing with the relative appropriately.",
			"Communication":   "Responds to anxiety with clear reassurance.",
		},
	},
	{
		ID:                    12,
		Title:                 "Station 12: Capacity Assessment",
		CandidateInstructions: "Mrs Ada Green, 72, with schizophrenia, is refusing a below-knee amputation for a gangrenous foot. Assess her capacity to refuse.",
		ActorInstructions:     "You are Ada Green, 72. You believe your foot is fine and the surgeons want to sell it. You can repeat back what they told you but do not believe it.",
		FeedbackDomains: map[string]string{
			"Capacity":      "Tests understanding, retention, weighing and communication of the decision.",
			"Reasoning":     "Identifies that delusional beliefs impair weighing information.",
			"Communication": "Respectful and patient throughout.",
		},
	},
	{
		ID:                    13,
		Title:                 "Station 13: Substance Misuse - Opioid Substitution",
		CandidateInstructions: "Mr Jamie Cole, 29, uses heroin daily and wants help. Discuss opioid substitution therapy.",
		ActorInstructions:     "You are Jamie Cole, 29. You inject heroin and want to stop for your daughter. You are worried methadone is just swapping one drug for another.",
		FeedbackDomains: map[string]string{
			"Knowledge":      "Explains methadone and buprenorphine, supervised consumption and overdose risk.",
			"Harm Reduction": "Covers naloxone, injecting safety and blood-borne virus testing.",
			"Motivation":     "Uses motivational techniques to support change.",
		},
	},
	{
		ID:                    14,
		Title:                 "Station 14: Learning Disability - Challenging Behaviour",
		CandidateInstructions: "A support worker reports that Ben, 25, who has a moderate learning disability, has started hitting staff. Take a history from the support worker.",
		ActorInstructions:     "You are Ben's support worker. The behaviour started after a change of house. Ben has been holding his jaw and not eating well.",
		FeedbackDomains: map[string]string{
			"Data Gathering": "Explores triggers, environment changes and physical health causes such as dental pain.",
			"Formulation":    "Considers pain, communication needs and mental illness.",
			"Management":     "Proposes a functional assessment and physical review before medication.",
		},
	},
	{
		ID:                    15,
		Title:                 "Station 15: Psychotherapy - Explaining CBT",
		CandidateInstructions: "Mr Omar Farouk, 37, has panic disorder. Explain cognitive behavioural therapy and what it would involve.",
		ActorInstructions:     "You are Omar Farouk, 37. You think talking will not help because your heart attacks are real. You want tablets.",
		FeedbackDomains: map[string]string{
			"Knowledge":     "Describes the CBT model of panic, structure of sessions and homework.",
			"Engagement":    "Addresses scepticism and links the model to his symptoms.",
			"Communication": "Clear, jargon-free explanation.",
		},
	},
	{
		ID:                    16,
		Title:                 "Station 16: Mental State Examination",
		CandidateInstructions: "You are on an acute psychiatric ward where Mr Josiah Crawley, 54, has just been admitted. Perform a mental state examination.",
		ActorInstructions:     "You are Josiah Crawley, 54. You feel very low and anxious. You believe your insides are rotting and that you have ruined your family. You speak slowly and quietly.",
		FeedbackDomains: map[string]string{
			"Knowledge":   "Identifies psychotic depression with nihilistic delusions.",
			"Examination": "Covers mood, thought content, perception, cognition and insight systematically.",
			"Risk":        "Asks about suicidal ideation and self-neglect.",
		},
	},
}

// PracticeStations returns the static practice bank.
func PracticeStations() []models.PracticeStation {
	out := make([]models.PracticeStation, len(practiceStations))
	copy(out, practiceStations)
	return out
}

// FindPracticeStation looks a practice station up by id.
func FindPracticeStation(id int) (models.PracticeStation, bool) {
	for _, st := range practiceStations {
		if st.ID == id {
			return st, true
		}
	}
	return models.PracticeStation{}, false
}
