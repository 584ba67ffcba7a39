package types

import "testing"

func TestParseScopeType(t *testing.T) {
	if v, err := ParseScopeType(" school "); err != nil || v != ScopeTypeSchool {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if _, err := ParseScopeType("campus"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParsePlanType(t *testing.T) {
	if v, err := ParsePlanType("iep", false); err != nil || v != PlanTypeIEP {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if v, err := ParsePlanType("ALL", true); err != nil || v != PlanTypeAll {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if _, err := ParsePlanType("ALL", false); err == nil {
		t.Fatal("expected error for ALL where wildcard is not allowed")
	}
	if _, err := ParsePlanType("IEP2", true); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlanTypeMatches(t *testing.T) {
	if !PlanTypeAll.Matches(PlanTypeIEP) {
		t.Fatal("ALL should match IEP")
	}
	if !PlanType504.Matches(PlanType504) {
		t.Fatal("exact match should hold")
	}
	if PlanTypeIEP.Matches(PlanType504) {
		t.Fatal("IEP should not match PLAN_504")
	}
}

func TestFallbackChain_School(t *testing.T) {
	q := ScopeQuery{Type: ScopeTypeSchool, ID: "HCPSS-001", StateCode: "MD"}
	chain, err := q.FallbackChain()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := []ScopeRef{
		{Type: ScopeTypeSchool, ID: "HCPSS-001"},
		{Type: ScopeTypeDistrict, ID: "HCPSS"},
		{Type: ScopeTypeState, ID: "MD"},
	}
	if len(chain) != len(want) {
		t.Fatalf("chain=%v", chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain[%d]=%v want=%v", i, chain[i], want[i])
		}
	}
}

func TestFallbackChain_SchoolDerivedState(t *testing.T) {
	chain, err := ScopeQuery{Type: ScopeTypeSchool, ID: "md-east-042"}.FallbackChain()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if chain[1].ID != "md-east" {
		t.Fatalf("district=%q", chain[1].ID)
	}
	if chain[2].ID != "MD" {
		t.Fatalf("state=%q", chain[2].ID)
	}
}

func TestFallbackChain_District(t *testing.T) {
	chain, err := ScopeQuery{Type: ScopeTypeDistrict, ID: "HCPSS", StateCode: "md"}.FallbackChain()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain=%v", chain)
	}
	if chain[0] != (ScopeRef{Type: ScopeTypeDistrict, ID: "HCPSS"}) {
		t.Fatalf("chain[0]=%v", chain[0])
	}
	if chain[1] != (ScopeRef{Type: ScopeTypeState, ID: "MD"}) {
		t.Fatalf("chain[1]=%v", chain[1])
	}
}

func TestFallbackChain_State(t *testing.T) {
	chain, err := ScopeQuery{Type: ScopeTypeState, ID: "md"}.FallbackChain()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(chain) != 1 || chain[0] != (ScopeRef{Type: ScopeTypeState, ID: "MD"}) {
		t.Fatalf("chain=%v", chain)
	}
}

func TestFallbackChain_Invalid(t *testing.T) {
	if _, err := (ScopeQuery{Type: ScopeTypeSchool, ID: ""}).FallbackChain(); err == nil {
		t.Fatal("expected error for empty scope id")
	}
	if _, err := (ScopeQuery{Type: ScopeTypeSchool, ID: "x"}).FallbackChain(); err == nil {
		t.Fatal("expected error for one-character scope id")
	}
	if _, err := (ScopeQuery{Type: ScopeType("REGION"), ID: "ab"}).FallbackChain(); err == nil {
		t.Fatal("expected error for unknown scope type")
	}
}
