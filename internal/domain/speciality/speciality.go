// Package speciality normalizes free-text speciality titles published by the
// schedule source into a code, a clean display name and an education level.
package speciality

import (
	"regexp"
	"strings"
)

// Level is the education level of a speciality.
type Level string

const (
	LevelBachelor   Level = "bachelor"
	LevelSpecialist Level = "specialist"
	LevelMaster     Level = "master"
	LevelResidency  Level = "residency"
)

// IsValid checks if the level is one of the known values.
func (l Level) IsValid() bool {
	switch l {
	case LevelBachelor, LevelSpecialist, LevelMaster, LevelResidency:
		return true
	}
	return false
}

func (l Level) String() string { return string(l) }

// Parsed is the normalized form of a speciality title.
type Parsed struct {
	Code      string // "31.05.01" or empty
	CleanName string
	Level     Level
}

var codePattern = regexp.MustCompile(`^(\d{2}\.\d{2}\.\d{2})\s+`)

// Порядок важен: "уровень магистратуры" должен уйти раньше "магистр".
var levelIndicators = []string{
	"уровень магистратуры",
	"уровень специалитета",
	"уровень бакалавриата",
	"специалитет",
	"магистратуры",
	"магистр",
	"бакалавр",
	"ординатура",
	"резидент",
}

var formIndicators = []string{
	"форма обучения: очная",
	"форма обучения: очно-заочная",
	"форма обучения: заочная",
	"форма обучения:",
}

var (
	removalPatterns = compileRemovals(append(append([]string{}, levelIndicators...), formIndicators...))
	spacePattern    = regexp.MustCompile(`\s+`)
)

func compileRemovals(markers []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(markers))
	for _, m := range markers {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(m)))
	}
	return patterns
}

// Parse splits a title like
// "32.04.01 Общественное здравоохранение уровень магистратуры"
// into code "32.04.01", clean name "Общественное здравоохранение" and LevelMaster.
func Parse(fullName string) Parsed {
	code := ""
	if m := codePattern.FindStringSubmatch(fullName); m != nil {
		code = m[1]
	}

	name := fullName
	if code != "" {
		name = strings.TrimSpace(strings.ReplaceAll(fullName, code, ""))
	}

	clean := name
	for _, p := range removalPatterns {
		clean = p.ReplaceAllString(clean, "")
	}
	clean = spacePattern.ReplaceAllString(clean, " ")
	clean = strings.Trim(clean, " ,-()")

	return Parsed{
		Code:      code,
		CleanName: clean,
		Level:     DetectLevel(name),
	}
}

// DetectLevel returns the first matching level marker, bachelor by default.
func DetectLevel(name string) Level {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "магистр"):
		return LevelMaster
	case strings.Contains(lower, "специалитет"):
		return LevelSpecialist
	case strings.Contains(lower, "бакалавр"):
		return LevelBachelor
	case strings.Contains(lower, "ординатура"), strings.Contains(lower, "резидент"):
		return LevelResidency
	default:
		return LevelBachelor
	}
}
