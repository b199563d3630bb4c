package importer

import (
	"strings"
	"testing"
	"time"
)

const header = "protocolo,subtarefas,unidade,servico,status,cumprimento,siape,cpf,nome,codigo_gex,nome_gex,dist,atualizacao,prazo,inicio_exig,fim_exig,reaberta,tempo_ult_exig,tempo_pend,tempo_exig,tempo_dist,processamento\n"

func row(protocol string) string {
	return protocol + `,0,23150521,"Aposentadoria por Idade Urbana",Pendente,"Nunca entrou em exigência",1234567,111.222.333-44,"MARIA DA SILVA",04001,"GEX CAMPINAS",01092025,20102025,0,0,0,0,0,20,0,12,20251021032919281414` + "\n"
}

func TestReadParsesRowsAndSkipsHeader(t *testing.T) {
	tasks, skipped, err := NewParser().Read(strings.NewReader(header + row("123") + row("456")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skips got %d", skipped)
	}
	if len(tasks) != 2 || tasks[0].Protocol != "123" || tasks[1].Protocol != "456" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestParseRowFieldMapping(t *testing.T) {
	tasks, _, err := NewParser().Read(strings.NewReader(header + row("987654")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := tasks[0]

	if got.UnitCode != 23150521 {
		t.Fatalf("unit code: got %d", got.UnitCode)
	}
	if got.ServiceName != "Aposentadoria por Idade Urbana" {
		t.Fatalf("service: got %q", got.ServiceName)
	}
	if got.AssigneeSIAPE == nil || *got.AssigneeSIAPE != "1234567" {
		t.Fatalf("siape: got %v", got.AssigneeSIAPE)
	}
	want := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	if got.DistributionDate == nil || !got.DistributionDate.Equal(want) {
		t.Fatalf("distribution date: got %v", got.DistributionDate)
	}
	if got.DeadlineDate != nil || got.RequirementStart != nil || got.RequirementEnd != nil {
		t.Fatalf("zero-encoded dates must be nil")
	}
	if got.DaysPending != 20 || got.DaysToLastDistribution != 12 {
		t.Fatalf("day counters: got %d/%d", got.DaysPending, got.DaysToLastDistribution)
	}
	if got.ProcessedAt == nil || got.ProcessedAt.Year() != 2025 || got.ProcessedAt.Hour() != 3 {
		t.Fatalf("processed at: got %v", got.ProcessedAt)
	}
	if !got.Active {
		t.Fatalf("imported tasks start active")
	}
}

func TestRowsWithoutProtocolAreSkipped(t *testing.T) {
	blank := `,0,1,svc,Pendente,,,,,,,0,0,0,0,0,0,0,0,0,0,0` + "\n"
	tasks, skipped, err := NewParser().Read(strings.NewReader(header + blank + row("42")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if skipped != 1 || len(tasks) != 1 {
		t.Fatalf("expected 1 skip and 1 task, got %d/%d", skipped, len(tasks))
	}
}

func TestMalformedDatesDegradeToNil(t *testing.T) {
	bad := `77,0,1,svc,Pendente,,,,,,,99999999,31132025,abc,0,0,0,0,5,0,2,notatimestamp` + "\n"
	tasks, skipped, err := NewParser().Read(strings.NewReader(header + bad))
	if err != nil || skipped != 0 {
		t.Fatalf("malformed dates must not reject the row: err=%v skipped=%d", err, skipped)
	}
	got := tasks[0]
	if got.DistributionDate != nil || got.LastUpdateDate != nil || got.DeadlineDate != nil || got.ProcessedAt != nil {
		t.Fatalf("malformed dates must parse to nil: %+v", got)
	}
}

func TestSemicolonDelimiter(t *testing.T) {
	p := &Parser{Delimiter: ';'}
	data := strings.ReplaceAll(header, ",", ";") +
		`55;0;1;"Serviço; com ponto e vírgula";Pendente;;;;;;;01012025;0;0;0;0;0;0;3;0;1;0` + "\n"
	tasks, skipped, err := p.Read(strings.NewReader(data))
	if err != nil || skipped != 0 || len(tasks) != 1 {
		t.Fatalf("semicolon read failed: err=%v skipped=%d n=%d", err, skipped, len(tasks))
	}
	if tasks[0].ServiceName != "Serviço; com ponto e vírgula" {
		t.Fatalf("quoted delimiter mishandled: %q", tasks[0].ServiceName)
	}
}

func TestDuplicateDecimalCounters(t *testing.T) {
	if safeInt("3.0") != 3 || safeInt("") != 0 || safeInt("x") != 0 {
		t.Fatalf("safeInt tolerance broken")
	}
}
