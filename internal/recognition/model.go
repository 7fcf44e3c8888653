package recognition

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ModelType identifies the provider that owns a model reference.
type ModelType string

const (
	ModelLocal        ModelType = "local"
	ModelWhisperCloud ModelType = "whisper_cloud"
	ModelSarvamCloud  ModelType = "sarvam_cloud"
)

func ParseModelType(s string) (ModelType, error) {
	switch t := ModelType(strings.ToLower(strings.TrimSpace(s))); t {
	case ModelLocal, ModelWhisperCloud, ModelSarvamCloud:
		return t, nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

// ModelReference points at an installed or virtual model. Path is the
// identity: two references are the same model iff their paths match.
type ModelReference struct {
	Path string    `json:"path"`
	Name string    `json:"name"`
	Type ModelType `json:"type"`
}

func (m ModelReference) Same(other ModelReference) bool {
	return m.Path == other.Path
}

// Virtual model paths used as stable keys for cloud backends.
const (
	WhisperCloudPath = "whisper://cloud"
	SarvamCloudPath  = "sarvam://cloud"
)

// AddSpacesFor reports whether words of the locale's language are
// separated by spaces.
func AddSpacesFor(tag language.Tag) bool {
	base, _ := tag.Base()
	switch base.String() {
	case "ja", "zh":
		return false
	default:
		return true
	}
}

// RemoveSpaceForLocale strips spaces from text in languages written without
// them and returns text unchanged otherwise.
func RemoveSpaceForLocale(text string, tag language.Tag) string {
	if AddSpacesFor(tag) {
		return text
	}
	return strings.ReplaceAll(text, " ", "")
}

// LanguageHint returns the ISO 639 code for tag, or "" when undetermined.
func LanguageHint(tag language.Tag) string {
	if tag == language.Und {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No || base.String() == "und" {
		return ""
	}
	return base.String()
}

// ParseLocale parses a BCP 47 tag; empty or invalid input yields language.Und.
func ParseLocale(s string) language.Tag {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.Und
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und
	}
	return tag
}
