package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
)

func verdicts() []audit.MaterialVerdict {
	return []audit.MaterialVerdict{
		{ClaimedTypeID: 298, Status: audit.StatusApprove, Confidence: 0.93, Code: audit.CodeLC,
			Severity: audit.SeverityMinor, DetectedTypeID: "298", WrongItems: []string{"light stain on bottle label"}},
		{ClaimedTypeID: 94, Status: audit.StatusApprove, Confidence: 1, Code: audit.CodeCC,
			Severity: audit.SeverityInfo, DetectedTypeID: "94", WrongItems: []string{}},
		{ClaimedTypeID: 94, Status: audit.StatusReject, Confidence: 0.91, Code: audit.CodeWC,
			Severity: audit.SeverityCritical, DetectedTypeID: "77", WrongItems: []string{"banana peel", "rice"}},
		{ClaimedTypeID: 113, Status: audit.StatusReject, Confidence: 0, Code: audit.CodeIE,
			Severity: audit.SeverityCritical, DetectedTypeID: "0", WrongItems: []string{"evidence image could not be loaded"}},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, v := range verdicts() {
		t.Run(string(v.Code), func(t *testing.T) {
			got, err := Decode(Encode(v))
			require.NoError(t, err)
			if diff := cmp.Diff(v, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			data, err := Marshal(v)
			require.NoError(t, err)
			got, err = Unmarshal(data)
			require.NoError(t, err)
			if diff := cmp.Diff(v, got); diff != "" {
				t.Errorf("JSON round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMarshal_FieldNames(t *testing.T) {
	data, err := Marshal(verdicts()[0])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"ct":298,"as":"a","cs":0.93,"rm":{"co":"lc","sv":"m","de":{"dt":"298","wi":["light stain on bottle label"]}}}`,
		string(data))
}

func TestMarshal_EmptyItemsIsArray(t *testing.T) {
	v := verdicts()[1]
	v.WrongItems = nil
	data, err := Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"wi":[]`)
}

func TestDecode_Rejects(t *testing.T) {
	valid := Encode(verdicts()[0])

	badStatus := valid
	badStatus.Status = "x"
	_, err := Decode(badStatus)
	assert.Error(t, err)

	badSeverity := valid
	badSeverity.Result.Severity = "critical"
	_, err = Decode(badSeverity)
	assert.Error(t, err)

	badCode := valid
	badCode.Result.Code = "zz"
	_, err = Decode(badCode)
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"ct":"x"}`))
	assert.Error(t, err)
}
