package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// ErrInvalidReport is returned for unknown fields or formats.
var ErrInvalidReport = errors.New("invalid report request")

// Report formats.
const (
	ReportFormatCSV  = "csv"
	ReportFormatJSON = "json"
	ReportFormatYAML = "yaml"
)

// NodeCountField is the optional column counting referencing nodes.
const NodeCountField = "node_count"

// ReportRequest selects rows, columns and encoding of a report.
type ReportRequest struct {
	Criteria         *search.Criteria
	Fields           []string
	IncludeNodeCount bool
	Format           string
}

// Report is an encoded report ready to be written to a client.
type Report struct {
	ContentType string
	Body        []byte
	Rows        int
}

// ReportService renders metric names as tabular reports.
type ReportService interface {
	Generate(ctx context.Context, req ReportRequest) (*Report, error)
}

type reportService struct {
	repo     repositories.MetricNameRepository
	nodeRepo repositories.NodeRepository
	authz    auth.Authorizer
	logger   *zap.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(
	repo repositories.MetricNameRepository,
	nodeRepo repositories.NodeRepository,
	authz auth.Authorizer,
	logger *zap.Logger,
) ReportService {
	return &reportService{
		repo:     repo,
		nodeRepo: nodeRepo,
		authz:    authz,
		logger:   logger.Named("report-service"),
	}
}

var _ ReportService = (*reportService)(nil)

func (s *reportService) Generate(ctx context.Context, req ReportRequest) (*Report, error) {
	if err := s.authz.Authorize(ctx, auth.ActionRead, nil); err != nil {
		return nil, err
	}

	md := models.MetricNameMetadata
	fields := req.Fields
	if len(fields) == 0 {
		fields = md.ReportableFields
	}
	for _, f := range fields {
		if !md.IsReportable(f) {
			return nil, fmt.Errorf("%w: field %q is not reportable", ErrInvalidReport, f)
		}
	}

	format := req.Format
	if format == "" {
		format = ReportFormatCSV
	}
	switch format {
	case ReportFormatCSV, ReportFormatJSON, ReportFormatYAML:
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidReport, format)
	}

	criteria := req.Criteria
	if criteria == nil {
		criteria = search.NewCriteria()
	}
	names, err := s.repo.Search(ctx, criteria)
	if err != nil {
		return nil, err
	}

	columns := fields
	var counts map[uuid.UUID]int
	if req.IncludeNodeCount {
		columns = append(append([]string{}, fields...), NodeCountField)
		ids := make([]uuid.UUID, len(names))
		for i, m := range names {
			ids[i] = m.ID
		}
		if len(ids) > 0 {
			if counts, err = s.nodeRepo.CountByMetricNames(ctx, ids); err != nil {
				return nil, err
			}
		}
	}

	rows := make([]map[string]any, 0, len(names))
	for _, m := range names {
		row := m.ReportRow(fields)
		if req.IncludeNodeCount {
			row[NodeCountField] = counts[m.ID]
		}
		rows = append(rows, row)
	}

	report := &Report{Rows: len(rows)}
	switch format {
	case ReportFormatJSON:
		report.ContentType = "application/json"
		report.Body, err = json.Marshal(rows)
	case ReportFormatYAML:
		report.ContentType = "application/yaml"
		report.Body, err = yaml.Marshal(rows)
	default:
		report.ContentType = "text/csv"
		report.Body, err = encodeCSV(columns, rows)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s report: %w", format, err)
	}

	s.logger.Debug("Generated report", zap.String("format", format), zap.Int("rows", report.Rows))
	return report, nil
}

func encodeCSV(columns []string, rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, c := range columns {
			record[i] = fmt.Sprint(row[c])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
