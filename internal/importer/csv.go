// Package importer turns the daily task export into idempotent database
// state: upserted tasks, auto-provisioned accounts, history snapshots, and
// archival of tasks missing from the newest file.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"inss-case-tracker/internal/models"
)

// The export carries exactly these positional columns.
const ExpectedColumns = 22

const (
	colProtocol = iota
	colPendingSubtasks
	colUnitCode
	colServiceName
	colStatus
	colCompliance
	colSIAPE
	colCPF
	colAssigneeName
	colAssigneeUnitCode
	colAssigneeUnitName
	colDistributionDate
	colLastUpdateDate
	colDeadlineDate
	colRequirementStart
	colRequirementEnd
	colReopened
	colDaysLastRequirement
	colDaysPending
	colDaysInRequirement
	colDaysToLastDistribution
	colProcessedAt
)

// Parser reads export rows. The delimiter is configurable because both
// comma- and semicolon-separated files exist in the wild.
type Parser struct {
	Delimiter rune
}

// NewParser defaults to comma separation.
func NewParser() *Parser {
	return &Parser{Delimiter: ','}
}

// Read consumes the whole stream, skipping the header line, and returns one
// Task per parseable row. Rows without a protocol are dropped and counted in
// skipped; they never abort the import.
func (p *Parser) Read(r io.Reader) (tasks []models.Task, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.Comma = p.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A structurally broken line is skipped, not fatal.
			skipped++
			continue
		}
		task, ok := p.ParseRow(record)
		if !ok {
			skipped++
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, skipped, nil
}

// ParseRow maps one record onto a Task. Absent or malformed dates and
// integers degrade to zero values; only a missing protocol rejects the row.
func (p *Parser) ParseRow(record []string) (models.Task, bool) {
	fields := make([]string, ExpectedColumns)
	for i := 0; i < ExpectedColumns && i < len(record); i++ {
		fields[i] = clean(record[i])
	}

	protocol := fields[colProtocol]
	if protocol == "" {
		return models.Task{}, false
	}

	t := models.Task{
		Protocol:               protocol,
		PendingSubtasks:        safeInt(fields[colPendingSubtasks]),
		UnitCode:               safeInt(fields[colUnitCode]),
		ServiceName:            fields[colServiceName],
		Status:                 fields[colStatus],
		ComplianceDescription:  fields[colCompliance],
		AssigneeSIAPE:          optional(fields[colSIAPE]),
		AssigneeCPF:            optional(fields[colCPF]),
		AssigneeName:           optional(fields[colAssigneeName]),
		AssigneeUnitCode:       optional(fields[colAssigneeUnitCode]),
		AssigneeUnitName:       optional(fields[colAssigneeUnitName]),
		DistributionDate:       parseDate(fields[colDistributionDate]),
		LastUpdateDate:         parseDate(fields[colLastUpdateDate]),
		DeadlineDate:           parseDate(fields[colDeadlineDate]),
		RequirementStart:       parseDate(fields[colRequirementStart]),
		RequirementEnd:         parseDate(fields[colRequirementEnd]),
		Reopened:               safeInt(fields[colReopened]),
		DaysPending:            safeInt(fields[colDaysPending]),
		DaysInRequirement:      safeInt(fields[colDaysInRequirement]),
		DaysToLastDistribution: safeInt(fields[colDaysToLastDistribution]),
		ProcessedAt:            parseTimestamp(fields[colProcessedAt]),
		Active:                 true,
	}
	if v := fields[colDaysLastRequirement]; v != "" && v != "0" {
		n := safeInt(v)
		t.DaysLastRequirement = &n
	}
	return t, true
}

func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// safeInt tolerates blanks and decimal notation ("3.0").
func safeInt(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// parseDate reads the export's DDMMYYYY encoding. "0" and malformed values
// mean the date is absent.
func parseDate(s string) *time.Time {
	if s == "" || s == "0" {
		return nil
	}
	t, err := time.ParseInLocation("02012006", s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func pad6(s string) string {
	if len(s) > 6 {
		return s[:6]
	}
	return s + strings.Repeat("0", 6-len(s))
}

// parseTimestamp reads the export's YYYYMMDDHHMMSSffffff encoding.
func parseTimestamp(s string) *time.Time {
	if len(s) < 14 || s == "0" {
		return nil
	}
	t, err := time.ParseInLocation("20060102150405.000000", s[:14]+"."+pad6(s[14:]), time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
