package model_test

import (
	"errors"
	"testing"

	"github.com/verdandi-labs/reverie/pkg/model"
)

// TestValidCombination_Table exercises the full validity matrix from the
// design: Semantic is reserved for embeddable types, voice samples are never
// manual, quotes and voice samples never trigger.
func TestValidCombination_Table(t *testing.T) {
	type row struct {
		typ  model.DataType
		ok   []model.Availability
		bad  []model.Availability
	}
	all := []model.Availability{
		model.AvailAlwaysOn, model.AvailManual, model.AvailSemantic,
		model.AvailTrigger, model.AvailArchive,
	}
	rows := []row{
		{
			typ: model.TypeQuote,
			bad: []model.Availability{model.AvailTrigger},
		},
		{
			typ: model.TypePersonaVoiceSample,
			bad: []model.Availability{model.AvailManual, model.AvailTrigger},
		},
		{typ: model.TypeMemory},
		{typ: model.TypeInsight},
		{
			typ: model.TypeCharacterProfile,
			bad: []model.Availability{model.AvailSemantic},
		},
		{
			typ: model.TypeGeneric,
			bad: []model.Availability{model.AvailSemantic},
		},
	}

	for _, r := range rows {
		forbidden := make(map[model.Availability]bool)
		for _, a := range r.bad {
			forbidden[a] = true
		}
		for _, a := range all {
			got := model.ValidCombination(r.typ, a)
			want := !forbidden[a]
			if got != want {
				t.Errorf("ValidCombination(%s, %s) = %v, want %v", r.typ, a, got, want)
			}
		}
	}
}

func TestValidCombination_UnknownValues(t *testing.T) {
	if model.ValidCombination("ballad", model.AvailAlwaysOn) {
		t.Error("unknown type should be invalid")
	}
	if model.ValidCombination(model.TypeMemory, "psychic") {
		t.Error("unknown availability should be invalid")
	}
}

func TestValidateCombination_Error(t *testing.T) {
	err := model.ValidateCombination(model.TypeQuote, model.AvailTrigger)
	if !errors.Is(err, model.ErrInvalidCombination) {
		t.Fatalf("error = %v, want ErrInvalidCombination", err)
	}
	if err := model.ValidateCombination(model.TypeMemory, model.AvailTrigger); err != nil {
		t.Fatalf("valid combination returned error: %v", err)
	}
}

func TestDisplayText_Selection(t *testing.T) {
	d := model.ContextData{
		Content:   "full body",
		Summary:   "short",
		CoreFacts: "facts",
	}

	d.Display = model.DisplayContent
	if got := d.DisplayText(); got != "full body" {
		t.Errorf("content display = %q", got)
	}

	d.Display = model.DisplaySummary
	if got := d.DisplayText(); got != "short" {
		t.Errorf("summary display = %q", got)
	}

	d.Display = model.DisplayCoreFacts
	if got := d.DisplayText(); got != "facts" {
		t.Errorf("core facts display = %q", got)
	}

	// Fallback to content when the condensed body is missing.
	d.Summary = ""
	d.Display = model.DisplaySummary
	if got := d.DisplayText(); got != "full body" {
		t.Errorf("summary fallback = %q", got)
	}
}

func TestKeywordList(t *testing.T) {
	d := model.ContextData{TriggerKeywords: " Weather, temperature ,, RAIN "}
	got := d.KeywordList()
	want := []string{"weather", "temperature", "rain"}
	if len(got) != len(want) {
		t.Fatalf("KeywordList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	empty := model.ContextData{}
	if kw := empty.KeywordList(); len(kw) != 0 {
		t.Errorf("empty keywords produced %v", kw)
	}
}

func TestIsOnCooldown(t *testing.T) {
	d := model.ContextData{CooldownTurns: 5, UsedLastOnTurnID: 100}

	if !d.IsOnCooldown(102) {
		t.Error("turn 102 should still be on cooldown")
	}
	if d.IsOnCooldown(105) {
		t.Error("turn 105 should be off cooldown")
	}

	fresh := model.ContextData{CooldownTurns: 5}
	if fresh.IsOnCooldown(1) {
		t.Error("never-used record should not be on cooldown")
	}
	noCD := model.ContextData{UsedLastOnTurnID: 100}
	if noCD.IsOnCooldown(101) {
		t.Error("zero cooldown should never gate")
	}
}

func TestVectorPointID(t *testing.T) {
	d := model.ContextData{ID: 42, Type: model.TypeMemory}
	if got := d.VectorPointID(); got != "memory#42#full" {
		t.Errorf("VectorPointID() = %q", got)
	}
}
