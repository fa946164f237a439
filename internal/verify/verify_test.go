package verify

import (
	"testing"

	"github.com/fieldproof/fieldproof/internal/model"
)

func cand(t *testing.T, key model.FieldKey, value, quoted string) model.Candidate {
	t.Helper()
	ev, err := model.NewEvidence("doc_001", 1, quoted)
	if err != nil {
		t.Fatal(err)
	}
	c, err := model.NewCandidate(key, value, value, []model.Evidence{ev}, model.MethodHeuristic, nil, model.CandidateScores{})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDateSupported(t *testing.T) {
	cases := []struct {
		name   string
		quoted string
		want   bool
	}{
		{"iso padded", "DOB: 1985-03-07", true},
		{"iso slashes", "DOB: 1985/03/07", true},
		{"iso unpadded", "DOB: 1985-3-7", true},
		{"mdy padded", "Born 03/07/1985", true},
		{"mdy unpadded", "Born 3/7/1985", true},
		{"mixed separators ymd", "DOB: 1985-03/07", true},
		{"mixed separators mdy", "Born 03-07/1985", true},
		{"month name", "Born on March 7, 1985", true},
		{"month abbrev", "DOB: Mar 7 1985", true},
		{"wrong date", "DOB: 1990-01-01", false},
		{"year only", "Copyright 1985", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cand(t, model.KeyDOB, "1985-03-07", tc.quoted)
			if got := Supported(c, model.TypeDate); got != tc.want {
				t.Errorf("Supported(%q against %q) = %v, want %v", c.NormalizedValue, tc.quoted, got, tc.want)
			}
		})
	}
}

func TestDateRequiresCanonicalValue(t *testing.T) {
	c := cand(t, model.KeyDOB, "March 7, 1985", "Born on March 7, 1985")
	if Supported(c, model.TypeDate) {
		t.Error("non-canonical date value should not verify")
	}
}

func TestPhoneSupported(t *testing.T) {
	cases := []struct {
		name   string
		value  string
		quoted string
		want   bool
	}{
		{"exact digits", "15551234567", "Call 1-555-123-4567", true},
		{"assumed country code", "15551234567", "Phone: (555) 123-4567", true},
		{"different number", "15551234567", "Phone: (555) 999-0000", false},
		{"too short", "555", "Call 555", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cand(t, model.KeyPhone, tc.value, tc.quoted)
			if got := Supported(c, model.TypePhone); got != tc.want {
				t.Errorf("Supported = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStringSupported(t *testing.T) {
	c := cand(t, model.KeyFullName, "jane doe", "Patient Name: Jane DOE")
	if !Supported(c, model.TypeString) {
		t.Error("normalized substring should verify")
	}
	c = cand(t, model.KeyFullName, "john smith", "Patient Name: Jane Doe")
	if Supported(c, model.TypeString) {
		t.Error("absent value should not verify")
	}
}

func TestStringOrListSupported(t *testing.T) {
	quoted := "Allergies: penicillin, sulfa drugs"
	c := cand(t, model.KeyAllergies, "penicillin, sulfa drugs", quoted)
	if !Supported(c, model.TypeStringOrList) {
		t.Error("all items present should verify")
	}
	c = cand(t, model.KeyAllergies, "penicillin, latex", quoted)
	if Supported(c, model.TypeStringOrList) {
		t.Error("missing item should fail the whole list")
	}
	c = cand(t, model.KeyAllergies, "penicillin", quoted)
	if !Supported(c, model.TypeStringOrList) {
		t.Error("single value should fall back to string rule")
	}
	c = cand(t, model.KeyAllergies, ",;", quoted)
	if Supported(c, model.TypeStringOrList) {
		t.Error("separators with no items should not verify")
	}
}

func TestStringOrListCombinesEvidence(t *testing.T) {
	ev1, _ := model.NewEvidence("doc_001", 1, "Allergies: penicillin")
	ev2, _ := model.NewEvidence("doc_001", 2, "Also allergic to latex")
	c, err := model.NewCandidate(model.KeyAllergies, "penicillin, latex", "penicillin, latex",
		[]model.Evidence{ev1, ev2}, model.MethodLLM, nil, model.CandidateScores{})
	if err != nil {
		t.Fatal(err)
	}
	if !Supported(c, model.TypeStringOrList) {
		t.Error("items spread across evidence entries should verify")
	}
}

func TestSupportedRejectsBadEvidence(t *testing.T) {
	c := cand(t, model.KeyFullName, "jane doe", "Jane Doe")
	c.Evidence = nil
	if Supported(c, model.TypeString) {
		t.Error("no evidence should not verify")
	}
	c = cand(t, model.KeyFullName, "jane doe", "Jane Doe")
	c.Evidence[0].Page = 0
	if Supported(c, model.TypeString) {
		t.Error("invalid page should not verify")
	}
}

func TestApply(t *testing.T) {
	good := cand(t, model.KeyFullName, "jane doe", "Name: Jane Doe")
	bad := cand(t, model.KeyFullName, "john smith", "Name: Jane Doe")
	out := Apply([]model.Candidate{good, bad}, model.TypeString)
	if len(out) != 2 {
		t.Fatalf("Apply must keep all candidates, got %d", len(out))
	}
	if !out[0].IsAccepted() {
		t.Errorf("good candidate rejected: %v", out[0].RejectedReasons)
	}
	if out[1].IsAccepted() {
		t.Error("bad candidate not rejected")
	}
	if len(out[1].RejectedReasons) != 1 || out[1].RejectedReasons[0] != ReasonUnsupported {
		t.Errorf("rejected_reasons = %v", out[1].RejectedReasons)
	}
}
