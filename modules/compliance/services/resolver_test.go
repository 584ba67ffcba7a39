package services

import (
	"context"
	"errors"
	"testing"

	"github.com/harpervoss/caseplan/modules/compliance/domain/types"
)

type fakeFinder struct {
	packs map[types.ScopeRef]types.RulePack
	err   error
	calls []types.ScopeRef
}

func (f *fakeFinder) FindActivePack(_ context.Context, scope types.ScopeRef, _ types.PlanType, _ string) (types.RulePack, bool, error) {
	f.calls = append(f.calls, scope)
	if f.err != nil {
		return types.RulePack{}, false, f.err
	}
	p, ok := f.packs[scope]
	return p, ok, nil
}

func TestResolveActivePack_PrefersMostSpecific(t *testing.T) {
	f := &fakeFinder{packs: map[types.ScopeRef]types.RulePack{
		{Type: types.ScopeTypeSchool, ID: "HCPSS-001"}: {ID: "p-school"},
		{Type: types.ScopeTypeDistrict, ID: "HCPSS"}:   {ID: "p-district"},
		{Type: types.ScopeTypeState, ID: "MD"}:         {ID: "p-state"},
	}}

	q := types.ScopeQuery{Type: types.ScopeTypeSchool, ID: "HCPSS-001", StateCode: "MD"}
	res, ok, err := ResolveActivePack(context.Background(), f, q, types.PlanTypeIEP, "2026-08-24")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if res.Pack.ID != "p-school" || res.MatchedLevel != types.ScopeTypeSchool {
		t.Fatalf("res=%+v", res)
	}
	if len(f.calls) != 1 {
		t.Fatalf("resolution should stop at the first match, calls=%v", f.calls)
	}
}

func TestResolveActivePack_FallsBackToState(t *testing.T) {
	f := &fakeFinder{packs: map[types.ScopeRef]types.RulePack{
		{Type: types.ScopeTypeState, ID: "MD"}: {ID: "p-state", Version: 2},
	}}

	q := types.ScopeQuery{Type: types.ScopeTypeSchool, ID: "HCPSS-001", StateCode: "MD"}
	res, ok, err := ResolveActivePack(context.Background(), f, q, types.PlanTypeIEP, "2026-08-24")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if res.Pack.ID != "p-state" || res.MatchedLevel != types.ScopeTypeState {
		t.Fatalf("res=%+v", res)
	}
	if len(f.calls) != 3 {
		t.Fatalf("calls=%v", f.calls)
	}
}

func TestResolveActivePack_AbsenceIsNotAnError(t *testing.T) {
	f := &fakeFinder{}
	q := types.ScopeQuery{Type: types.ScopeTypeDistrict, ID: "HCPSS", StateCode: "MD"}
	_, ok, err := ResolveActivePack(context.Background(), f, q, types.PlanType504, "2026-08-24")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}

func TestResolveActivePack_StoreError(t *testing.T) {
	f := &fakeFinder{err: errors.New("boom")}
	q := types.ScopeQuery{Type: types.ScopeTypeState, ID: "MD"}
	_, _, err := ResolveActivePack(context.Background(), f, q, types.PlanTypeIEP, "2026-08-24")
	if err == nil {
		t.Fatal("expected error")
	}
}
