package models

// BackendKind tells which class of backend produced a translation.
type BackendKind string

const (
	BackendSpecialized BackendKind = "specialized"
	BackendGeneral     BackendKind = "general"
)

type TranslationResult struct {
	TranslatedText string      `json:"translated_text"`
	BackendKind    BackendKind `json:"backend_kind"`
	Backend        string      `json:"backend"`
	Confidence     int         `json:"confidence"`
}
