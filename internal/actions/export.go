// Package actions generates the fixed-format robot files coordinators feed
// into the legacy processing system for bulk operations on a queue.
package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inss-case-tracker/internal/models"
	"inss-case-tracker/internal/store"
)

// File formats. The numeric header on the first line tells the robot which
// operation to run.
const (
	FormatRemoveAssignee = "14"
	FormatTransfer       = "12"
)

// Selection modes.
const (
	SelectAll       = "all"
	SelectByService = "service"
	SelectByCount   = "count"
	SelectProtocols = "protocols"
)

var (
	ErrNoTasksSelected  = errors.New("selection matched no tasks")
	ErrInvalidSelection = errors.New("invalid selection")
)

// Request describes one bulk-action export.
type Request struct {
	Format        string   `json:"format"`
	QueueType     string   `json:"queue_type"`
	AssigneeSIAPE string   `json:"assignee_siape"`
	Mode          string   `json:"mode"`
	ServiceName   string   `json:"service_name,omitempty"`
	Count         int      `json:"count,omitempty"`
	Protocols     []string `json:"protocols,omitempty"`

	// Transfer format only.
	DestinationUnit string `json:"destination_unit,omitempty"`
	DispatchText    string `json:"dispatch_text,omitempty"`
}

// TaskLister is the store slice the exporter reads from.
type TaskLister interface {
	ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error)
}

// Exporter resolves a selection against active tasks and renders the file.
type Exporter struct {
	store TaskLister
}

func NewExporter(st TaskLister) *Exporter {
	return &Exporter{store: st}
}

// Export returns the file body and a suggested filename.
func (e *Exporter) Export(ctx context.Context, req Request) ([]byte, string, error) {
	if err := validate(req); err != nil {
		return nil, "", err
	}

	protocols, err := e.selectProtocols(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if len(protocols) == 0 {
		return nil, "", ErrNoTasksSelected
	}

	var body []byte
	switch req.Format {
	case FormatRemoveAssignee:
		body = renderRemove(protocols)
	case FormatTransfer:
		body = renderTransfer(protocols, req.DestinationUnit, req.DispatchText)
	}

	name := fmt.Sprintf("acao_%s_%s_%s.csv", req.Format, req.QueueType, time.Now().Format("20060102_150405"))
	return body, name, nil
}

func validate(req Request) error {
	switch req.Format {
	case FormatRemoveAssignee, FormatTransfer:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidSelection, req.Format)
	}
	switch req.Mode {
	case SelectAll:
	case SelectByService:
		if req.ServiceName == "" {
			return fmt.Errorf("%w: service mode requires service_name", ErrInvalidSelection)
		}
	case SelectByCount:
		if req.Count <= 0 {
			return fmt.Errorf("%w: count mode requires a positive count", ErrInvalidSelection)
		}
	case SelectProtocols:
		if len(req.Protocols) == 0 {
			return fmt.Errorf("%w: protocols mode requires a protocol list", ErrInvalidSelection)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSelection, req.Mode)
	}
	if req.Format == FormatTransfer && req.DestinationUnit == "" {
		return fmt.Errorf("%w: transfer requires destination_unit", ErrInvalidSelection)
	}
	return nil
}

func (e *Exporter) selectProtocols(ctx context.Context, req Request) ([]string, error) {
	if req.Mode == SelectProtocols {
		return req.Protocols, nil
	}

	filter := store.TaskFilter{
		QueueType:     req.QueueType,
		AssigneeSIAPE: req.AssigneeSIAPE,
	}
	if req.Mode == SelectByService {
		filter.ServiceName = req.ServiceName
	}
	if req.Mode == SelectByCount {
		filter.Limit = req.Count
	}

	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	protocols := make([]string, len(tasks))
	for i, t := range tasks {
		protocols[i] = t.Protocol
	}
	return protocols, nil
}

// renderRemove emits the "remove responsible" layout: the literal header 14,
// then one quoted protocol per line.
func renderRemove(protocols []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(FormatRemoveAssignee + "\r\n")
	for _, p := range protocols {
		buf.WriteString(quote(p) + "\r\n")
	}
	return buf.Bytes()
}

// renderTransfer emits the "transfer" layout: the literal header 12, then one
// quoted protocol;destination;dispatch record per line.
func renderTransfer(protocols []string, destinationUnit, dispatchText string) []byte {
	var buf bytes.Buffer
	buf.WriteString(FormatTransfer + "\r\n")
	for _, p := range protocols {
		record := p + ";" + destinationUnit + ";" + dispatchText
		buf.WriteString(quote(record) + "\r\n")
	}
	return buf.Bytes()
}

// quote wraps a value in double quotes, doubling embedded quotes.
func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
