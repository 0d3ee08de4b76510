package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultSeverity(t *testing.T) {
	assert.Equal(t, Warning, New(MissingBase, "1", "base", "x").Severity)
	assert.Equal(t, Info, New(SlotFallback, "1", "value_1", "x").Severity)
	assert.Equal(t, Error, New(BadIdentifier, "k", "id", "x").Severity)
}

func TestDiagnostic_String(t *testing.T) {
	d := New(UnmappedAttribute, "42", "attribute_2", "attribute %q has no destination", "mystery")
	assert.Equal(t, `warning [unmapped_attribute] id=42 field=attribute_2: attribute "mystery" has no destination`, d.String())
}

func TestDiagnostics_CountsAndSummary(t *testing.T) {
	var all Diagnostics
	assert.Equal(t, "none", all.Summary())

	var stage Diagnostics
	stage.Add(New(DamageParse, "1", "damage", "bad"), New(DamageParse, "2", "damage", "bad"))
	all.Add(New(CyclicBase, "3", "base", "loop"))
	all.Merge(stage)

	require.Equal(t, 3, all.Len())
	assert.Equal(t, map[Kind]int{DamageParse: 2, CyclicBase: 1}, all.ByKind())
	assert.Equal(t, "cyclic_base=1 damage_parse=2", all.Summary())
	assert.Equal(t, CyclicBase, all.Items()[0].Kind)
}
