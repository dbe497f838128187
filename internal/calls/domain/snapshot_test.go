package calls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		{Patient: "Ana Silva", Provider: "Dr. A", Room: "Sala 2", Branch: "matriz"},
		{Patient: "Bia Souza", Provider: "Dr. B", Room: "Audiometria", Branch: "matriz"},
		{Patient: "Caio Lima", Provider: "", Room: "Sala 1", Branch: "filial"},
	}
}

func TestDiffFirstCycleReturnsEverything(t *testing.T) {
	current := sampleSnapshot()

	assert.Equal(t, current, Diff(nil, current))
	assert.Equal(t, current, Diff(Snapshot{}, current))
}

func TestDiffAgainstItselfIsEmpty(t *testing.T) {
	prev := sampleSnapshot()

	assert.Empty(t, Diff(prev, prev))
	assert.Empty(t, Diff(nil, nil))
}

func TestDiffIgnoresProviderAndPatientFormatting(t *testing.T) {
	prev := Snapshot{{Patient: "Ana Silva", Provider: "Dr. A", Room: "Sala 2", Branch: "matriz"}}
	current := Snapshot{{Patient: "  ANA   SÍLVA ", Provider: "Dr. Z", Room: "Sala 2", Branch: "matriz"}}

	assert.Empty(t, Diff(prev, current))
}

func TestDiffReportsRoomOrBranchChanges(t *testing.T) {
	prev := Snapshot{{Patient: "Ana Silva", Room: "Sala 2", Branch: "matriz"}}
	current := Snapshot{
		{Patient: "Ana Silva", Room: "Sala 3", Branch: "matriz"},
		{Patient: "Ana Silva", Room: "Sala 2", Branch: "filial"},
		{Patient: "Ana Silva", Room: "Sala 2", Branch: "matriz"},
	}

	assert.Equal(t, current[:2], Diff(prev, current))
}

func TestDiffPreservesCurrentOrder(t *testing.T) {
	all := sampleSnapshot()
	prev := Snapshot{all[1]}
	current := Snapshot{all[2], all[1], all[0]}

	assert.Equal(t, Snapshot{all[2], all[0]}, Diff(prev, current))
}
