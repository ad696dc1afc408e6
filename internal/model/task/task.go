package task

import "github.com/zhouzirui/medlens/backend/internal/model/analysis"

// Task describes one extraction mode exposed to clients.
type Task struct {
	ID          analysis.Kind `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Prompt      string        `json:"-"`
}

// Seed returns the two fixed extraction tasks.
func Seed() []Task {
	return []Task{
		{
			ID:          analysis.KindPrescription,
			Name:        "Prescription Analysis",
			Description: "Extract patient details and the medicine schedule from a prescription image.",
			Prompt:      prescriptionPrompt,
		},
		{
			ID:          analysis.KindDiagnostic,
			Name:        "Diagnostic Image Analysis",
			Description: "Predict the condition shown in a diagnostic scan with causes and recommended actions.",
			Prompt:      diagnosticPrompt,
		},
	}
}

const prescriptionPrompt = `You are a highly accurate AI specialized in extracting structured information from medical prescriptions.
Your task is to analyze the provided prescription image and return the details in the following strict JSON format:

{
    "Date": "<Extracted Date>",
    "Patient": {
        "Name": "<Extracted Name>",
        "Age": "<Extracted Age>"
    },
    "Medicines": [
        {
            "Type": "<Tablet/Capsule/Syrup/etc.>",
            "Medicine": "<Medicine Name>",
            "Dosage": "<Dosage Instructions>",
            "Timings": [<morning hour if X is 1>, <afternoon hour if Y is 1>, <night hour if Z is 1>]
        }
    ]
}

Timings Extraction Rules:
- If the dosage format is in "X-Y-Z" (e.g., "1-0-1"):
  - If X is 1, add a morning time (e.g., 8 or 9).
  - If Y is 1, add an afternoon time (e.g., 13 or 14).
  - If Z is 1, add a night/evening time (e.g., 19 or 20).
  - If any of these are 0, do not include a time for that slot.
- Ensure "Timings" always contains integers only.
Return only the JSON output, without additional text or explanations.`

const diagnosticPrompt = `Analyze the provided medical image and provide analysis in this JSON format:
{
    "Predicted_Disease": "<Predict accurate name of the Disease/Condition Name>",
    "Confidence_Score": "<AI Confidence Level (0-100%)>",
    "Description": "<Brief explanation of the disease>",
    "Possible_Causes": ["<Cause 1>", "<Cause 2>", "<Cause 3>"],
    "Recommended_Actions": ["<Action 1>", "<Action 2>", "<Action 3>"]
}
Ensure the response is accurate and useful for a medical specialist. If the image is unclear, specify that in the Description field.`
