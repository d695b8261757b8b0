package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanVariableRefs_AllThreeSyntaxes(t *testing.T) {
	s := `{"prompt": "Hi {{user.name}}, order ${order.id} ships to {address}"}`

	refs := ScanVariableRefs(s)
	assert.Equal(t, []string{"user.name", "order.id", "address"}, refs)
}

func TestScanVariableRefs_Dedup(t *testing.T) {
	s := `{{fetch.output}} and ${fetch.output} and {fetch.output}`
	assert.Equal(t, []string{"fetch.output"}, ScanVariableRefs(s))
}

func TestScanVariableRefs_IgnoresJSONStructure(t *testing.T) {
	s := `{"a": {"b": 1}, "c": [1, 2], "d": ""}`
	assert.Empty(t, ScanVariableRefs(s))
}

func TestScanVariableRefs_DoubleBraceNotReportedAsSingle(t *testing.T) {
	refs := ScanVariableRefs(`{{x}}`)
	assert.Equal(t, []string{"x"}, refs)
}

func TestScanVariableRefs_NoBraces(t *testing.T) {
	assert.Nil(t, ScanVariableRefs("plain text"))
}

func TestRefRoot(t *testing.T) {
	assert.Equal(t, "fetch", RefRoot("fetch.output.url"))
	assert.Equal(t, "solo", RefRoot("solo"))
}
