package calls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeForCompare(t *testing.T) {
	cases := map[string]string{
		"  João   da  Silva ": "JOAO DA SILVA",
		"Conceição":           "CONCEICAO",
		"ana\tsilva\n":        "ANA SILVA",
		"":                    "",
		"   ":                 "",
		"Sala 2":              "SALA 2",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeForCompare(in), "input %q", in)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Ana Silva":         "ANA_SILVA",
		"José  D'Ávila":     "JOSE_DAVILA",
		"Sala 2 (térreo)":   "SALA_2_TERREO",
		"Raio-X":            "RAIOX",
		"":                  "",
		"!!!":               "",
		" consultório  03 ": "CONSULTORIO_03",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestSlugifyNeverProducesIDSeparator(t *testing.T) {
	for _, in := range []string{"a:b", "::", "MATRIZ: SALA"} {
		assert.NotContains(t, Slugify(in), idSeparator)
	}
}

func TestAnnotationsStrip(t *testing.T) {
	a := DefaultAnnotations()
	cases := map[string]string{
		"*MARIA SOUZA*":        "MARIA SOUZA",
		"MARIA SOUZA ASSINA ✅": "MARIA SOUZA",
		"MARIA SOUZA ASSINAR":  "MARIA SOUZA",
		"MARIA SOUZA✅":         "MARIA SOUZA",
		"CASSINA":              "CASSINA",
		"🔔 - Matriz - Sala 1":  "Matriz - Sala 1",
		"Matriz - Sala 1":      "Matriz - Sala 1",
		"  ":                   "",
		"ASSINA":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, a.Strip(in), "input %q", in)
	}
}

func TestAnnotationsStripCustomTokens(t *testing.T) {
	a := Annotations{Markers: []string{"#"}, Trailing: []string{"(VIP)"}}
	assert.Equal(t, "PEDRO", a.Strip("#PEDRO (VIP)"))
	assert.Equal(t, "PEDRO*", a.Strip("PEDRO*"))
}
