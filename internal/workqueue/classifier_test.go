package workqueue

import "testing"

func intp(v int) *int { return &v }

func testRules() RuleSet {
	return NewRuleSet(23150003, []Rule{
		{ServiceName: "Aposentadoria por Idade Urbana", UnitCode: intp(23150521), QueueType: "CEABRD-23150521", Priority: 10, Active: true},
		{ServiceName: "Aposentadoria por Idade Urbana", QueueType: "CEABRD-GERAL", Priority: 20, Active: true},
		{ServiceName: "Auxílio-Doença - Urbano", UnitCode: intp(23150521), QueueType: "CEAB-BI-23150521", Priority: 10, Active: true},
		{ServiceName: "Revisão", UnitCode: intp(23150521), QueueType: "CEAB-RECURSO-23150521", Priority: 5, Active: true},
		{ServiceName: "Revisão", UnitCode: intp(23150521), QueueType: "CEABRD-23150521", Priority: 10, Active: true},
		{ServiceName: "Serviço Desativado", QueueType: "CEAB-MOB-23150521", Priority: 10, Active: false},
	})
}

func TestPGBUnitOverridesEverything(t *testing.T) {
	rs := testRules()
	got := rs.Classify("Aposentadoria por Idade Urbana", 23150003)
	if got != QueuePGB {
		t.Fatalf("PGB unit must always classify as PGB, got %s", got)
	}
}

func TestExactUnitMatch(t *testing.T) {
	rs := testRules()
	got := rs.Classify("Aposentadoria por Idade Urbana", 23150521)
	if got != "CEABRD-23150521" {
		t.Fatalf("expected CEABRD-23150521 got %s", got)
	}
}

func TestServiceOnlyFallback(t *testing.T) {
	rs := testRules()
	// Unknown unit falls back to the unit-less rule for the same service.
	got := rs.Classify("Aposentadoria por Idade Urbana", 99999)
	if got != "CEABRD-GERAL" {
		t.Fatalf("expected service-only fallback, got %s", got)
	}
}

func TestPriorityResolvesConflicts(t *testing.T) {
	rs := testRules()
	got := rs.Classify("Revisão", 23150521)
	if got != "CEAB-RECURSO-23150521" {
		t.Fatalf("lowest priority value must win, got %s", got)
	}
}

func TestUnmatchedServiceGoesToOthers(t *testing.T) {
	rs := testRules()
	if got := rs.Classify("Serviço Inexistente", 12345); got != QueueOthers {
		t.Fatalf("expected OUTROS got %s", got)
	}
}

func TestInactiveRulesIgnored(t *testing.T) {
	rs := testRules()
	if got := rs.Classify("Serviço Desativado", 12345); got != QueueOthers {
		t.Fatalf("inactive rule must not route, got %s", got)
	}
}

func TestClassifyIsCaseInsensitiveOnService(t *testing.T) {
	rs := testRules()
	if got := rs.Classify("  aposentadoria POR idade urbana ", 23150521); got != "CEABRD-23150521" {
		t.Fatalf("normalization failed, got %s", got)
	}
}
