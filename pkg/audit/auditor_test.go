package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

func frac(f float64) *float64 { return &f }

func TestAuditor_Scenarios(t *testing.T) {
	a := NewAuditor(materials.Default())

	tests := []struct {
		name       string
		judgment   Judgment
		wantCT     int
		wantStatus Status
		wantCode   Code
		wantSev    Severity
		wantDT     string
		wantItems  []string
	}{
		{
			name: "clean recyclable with light stain",
			judgment: Judgment{
				Claimed: materials.Recyclable, Detected: materials.Recyclable,
				Confidence: 0.934, ImageQualityOK: true, Contamination: frac(0.1),
				Items: map[Code][]string{CodeLC: {"light stain on bottle label"}},
			},
			wantCT: 298, wantStatus: StatusApprove, wantCode: CodeLC, wantSev: SeverityMinor,
			wantDT: "298", wantItems: []string{"light stain on bottle label"},
		},
		{
			name: "contaminated hazardous",
			judgment: Judgment{
				Claimed: materials.Hazardous, Detected: materials.Hazardous,
				Confidence: 0.8, ImageQualityOK: true, Contamination: frac(0.7),
				Items: map[Code][]string{CodeHC: {"leaking battery acid"}},
			},
			wantCT: 113, wantStatus: StatusReject, wantCode: CodeHC, wantSev: SeverityCritical,
			wantDT: "113", wantItems: []string{"leaking battery acid"},
		},
		{
			name: "organic submitted as general",
			judgment: Judgment{
				Claimed: materials.General, Detected: materials.Organic,
				Confidence: 0.91, ImageQualityOK: true,
				Items: map[Code][]string{CodeWC: {"banana peel"}},
			},
			wantCT: 94, wantStatus: StatusReject, wantCode: CodeWC, wantSev: SeverityCritical,
			wantDT: "77", wantItems: []string{"banana peel"},
		},
		{
			name: "correct general",
			judgment: Judgment{
				Claimed: materials.General, Detected: materials.General,
				Confidence: 0.99, ImageQualityOK: true,
			},
			wantCT: 94, wantStatus: StatusApprove, wantCode: CodeCC, wantSev: SeverityInfo,
			wantDT: "94", wantItems: []string{},
		},
		{
			name: "blurry photo",
			judgment: Judgment{
				Claimed: materials.Organic, Detected: materials.Organic,
				Confidence: 0.4, ImageQualityOK: false,
				Items: map[Code][]string{CodeUI: {"photo out of focus"}},
			},
			wantCT: 77, wantStatus: StatusReject, wantCode: CodeUI, wantSev: SeverityCritical,
			wantDT: "77", wantItems: []string{"photo out of focus"},
		},
		{
			name: "undetermined detection is unclear image",
			judgment: Judgment{
				Claimed: materials.Recyclable, Detected: materials.Unknown,
				Confidence: 0.2, ImageQualityOK: true,
			},
			wantCT: 298, wantStatus: StatusReject, wantCode: CodeUI, wantSev: SeverityCritical,
			wantDT: "0", wantItems: []string{"image too unclear to judge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := a.Audit(tt.judgment, "en")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCT, v.ClaimedTypeID)
			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantCode, v.Code)
			assert.Equal(t, tt.wantSev, v.Severity)
			assert.Equal(t, tt.wantDT, v.DetectedTypeID)
			assert.Equal(t, tt.wantItems, v.WrongItems)
			assert.NoError(t, v.Validate())
		})
	}
}

func TestAuditor_SeverityMonotonicity(t *testing.T) {
	a := NewAuditor(nil)
	v, err := a.Audit(Judgment{
		Claimed: materials.Recyclable, Detected: materials.General,
		Confidence: 0.7, ImageQualityOK: true, Contamination: frac(0.3),
	}, "en")
	require.NoError(t, err)
	assert.Equal(t, CodeWC, v.Code)
	assert.Equal(t, SeverityCritical, v.Severity)
}

func TestAuditor_ItemIsolation(t *testing.T) {
	a := NewAuditor(nil)
	v, err := a.Audit(Judgment{
		Claimed: materials.Recyclable, Detected: materials.General,
		Confidence: 0.7, ImageQualityOK: true, Contamination: frac(0.3),
		Items: map[Code][]string{CodeWC: {"A"}, CodeLC: {"B"}},
	}, "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, v.WrongItems)
}

func TestAuditor_ContaminationExemption(t *testing.T) {
	a := NewAuditor(nil)
	for _, key := range []materials.Key{materials.General, materials.Organic} {
		for _, f := range []float64{0.05, 0.5, 0.99} {
			v, err := a.Audit(Judgment{
				Claimed: key, Detected: key, Confidence: 0.9,
				ImageQualityOK: true, Contamination: frac(f),
				Items: map[Code][]string{CodeHC: {"residue"}, CodeLC: {"stain"}},
			}, "en")
			require.NoError(t, err)
			assert.Equal(t, CodeCC, v.Code, "%s at %.2f", key, f)
			assert.Empty(t, v.WrongItems)
		}
	}
}

func TestAuditor_ContaminationBoundaries(t *testing.T) {
	a := NewAuditor(nil)
	tests := []struct {
		fraction *float64
		want     Code
	}{
		{nil, CodeCC},
		{frac(0), CodeCC},
		{frac(0.01), CodeLC},
		{frac(0.5), CodeLC},
		{frac(0.51), CodeHC},
		{frac(1), CodeHC},
	}
	for _, tt := range tests {
		v, err := a.Audit(Judgment{
			Claimed: materials.Recyclable, Detected: materials.Recyclable,
			Confidence: 0.9, ImageQualityOK: true, Contamination: tt.fraction,
		}, "en")
		require.NoError(t, err)
		assert.Equal(t, tt.want, v.Code)
	}
}

func TestAuditor_FallbackItems(t *testing.T) {
	a := NewAuditor(nil)

	v, err := a.Audit(Judgment{
		Claimed: materials.General, Detected: materials.Organic,
		Confidence: 0.9, ImageQualityOK: true,
	}, "ko")
	require.NoError(t, err)
	assert.Equal(t, []string{"음식물쓰레기"}, v.WrongItems)

	v, err = a.Audit(Judgment{
		Claimed: materials.Hazardous, Detected: materials.Hazardous,
		Confidence: 0.9, ImageQualityOK: true, Contamination: frac(0.9),
	}, "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"heavy contamination"}, v.WrongItems)
}

func TestAuditor_ExactlyOneCode(t *testing.T) {
	a := NewAuditor(nil)
	detected := []materials.Key{materials.Unknown, materials.General, materials.Recyclable}
	fractions := []*float64{nil, frac(0.2), frac(0.8)}

	for _, d := range detected {
		for _, ok := range []bool{true, false} {
			for _, f := range fractions {
				j := Judgment{Claimed: materials.Recyclable, Detected: d, Confidence: 0.5, ImageQualityOK: ok, Contamination: f}
				v, err := a.Audit(j, "en")
				require.NoError(t, err)
				assert.True(t, v.Code.Valid())
				assert.NoError(t, v.Validate())
			}
		}
	}
}

func TestAuditor_UnknownClaimed(t *testing.T) {
	a := NewAuditor(nil)
	_, err := a.Audit(Judgment{Claimed: "glass"}, "en")
	assert.Error(t, err)
	_, err = a.Candidates(Judgment{Claimed: "glass"})
	assert.Error(t, err)
}

func TestAuditor_CandidatesEnumeratesAllIssues(t *testing.T) {
	a := NewAuditor(nil)
	cands, err := a.Candidates(Judgment{
		Claimed: materials.Recyclable, Detected: materials.General,
		ImageQualityOK: false, Contamination: frac(0.9),
	})
	require.NoError(t, err)

	var codes []Code
	for _, c := range cands {
		codes = append(codes, c.Code)
	}
	assert.ElementsMatch(t, []Code{CodeWC, CodeUI, CodeHC}, codes)
}
