package speciality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Parsed
	}{
		{
			name:  "specialist in parentheses",
			input: "31.05.01 лечебное дело (специалитет)",
			want:  Parsed{Code: "31.05.01", CleanName: "лечебное дело", Level: LevelSpecialist},
		},
		{
			name:  "master level suffix",
			input: "32.04.01 общественное здравоохранение уровень магистратуры",
			want:  Parsed{Code: "32.04.01", CleanName: "общественное здравоохранение", Level: LevelMaster},
		},
		{
			name:  "form of study removed",
			input: "34.03.01 сестринское дело, бакалавр, форма обучения: очная",
			want:  Parsed{Code: "34.03.01", CleanName: "сестринское дело", Level: LevelBachelor},
		},
		{
			name:  "residency",
			input: "31.08.01 акушерство и гинекология ординатура",
			want:  Parsed{Code: "31.08.01", CleanName: "акушерство и гинекология", Level: LevelResidency},
		},
		{
			name:  "no code defaults to bachelor",
			input: "Фармация",
			want:  Parsed{Code: "", CleanName: "Фармация", Level: LevelBachelor},
		},
		{
			name:  "code without trailing space is not a code",
			input: "31.05.01",
			want:  Parsed{Code: "", CleanName: "31.05.01", Level: LevelBachelor},
		},
		{
			name:  "capitalized markers are stripped",
			input: "33.05.01 Фармация (Специалитет)   Форма обучения: очно-заочная",
			want:  Parsed{Code: "33.05.01", CleanName: "Фармация", Level: LevelSpecialist},
		},
		{
			name:  "empty",
			input: "",
			want:  Parsed{Level: LevelBachelor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestDetectLevel_Order(t *testing.T) {
	// "магистр" wins over everything that follows it
	assert.Equal(t, LevelMaster, DetectLevel("бакалавр магистр"))
	assert.Equal(t, LevelSpecialist, DetectLevel("специалитет бакалавр"))
	assert.Equal(t, LevelResidency, DetectLevel("Резидентура"))
}

func TestLevel_IsValid(t *testing.T) {
	assert.True(t, LevelMaster.IsValid())
	assert.False(t, Level("phd").IsValid())
}
