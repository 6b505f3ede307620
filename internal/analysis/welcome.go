package analysis

import (
	"math/rand/v2"
	"strings"
)

// Picker chooses an index in [0, n). Tests pass a fixed picker.
type Picker interface {
	IntN(n int) int
}

type randomPicker struct{}

func (randomPicker) IntN(n int) int {
	return rand.IntN(n)
}

// RandomPicker draws from the process-wide generator.
func RandomPicker() Picker {
	return randomPicker{}
}

// Welcome builds the age-appropriate opening message: a greeting, a blank
// line and a question. Ages outside every band use the last band.
func (a *Analyzer) Welcome(name string, age int, picker Picker) string {
	if len(a.welcome) == 0 {
		return "Hoi " + name + "!"
	}
	if picker == nil {
		picker = RandomPicker()
	}
	band := a.welcome[len(a.welcome)-1]
	for _, candidate := range a.welcome {
		if age >= candidate.minAge && age <= candidate.maxAge {
			band = candidate
			break
		}
	}
	greeting := strings.ReplaceAll(pick(band.greetings, picker), "{name}", name)
	return greeting + "\n\n" + pick(band.questions, picker)
}

func pick(options []string, picker Picker) string {
	idx := picker.IntN(len(options))
	if idx < 0 || idx >= len(options) {
		idx = 0
	}
	return options[idx]
}
