package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekaya-inc/utilization-registry/pkg/audit"
	"github.com/ekaya-inc/utilization-registry/pkg/sql"
)

// ErrRejectedInput is returned when a search value looks like SQL injection.
var ErrRejectedInput = errors.New("search value rejected")

// Screener checks criteria values with libinjection before they reach the
// query layer. Hits are reported to the security auditor.
type Screener struct {
	auditor  *audit.SecurityAuditor
	resource string
}

// NewScreener creates a Screener that reports under resource.
func NewScreener(auditor *audit.SecurityAuditor, resource string) *Screener {
	return &Screener{auditor: auditor, resource: resource}
}

// Screen returns ErrRejectedInput for the first flagged value.
func (s *Screener) Screen(ctx context.Context, c *Criteria, clientIP string) error {
	params := make([]sql.Param, 0, len(c.Conditions))
	for _, p := range c.Params() {
		params = append(params, sql.Param{Name: p.Name, Value: p.Value})
	}

	results := sql.CheckAllParameters(params)
	if len(results) == 0 {
		return nil
	}

	for _, r := range results {
		s.auditor.LogInjectionAttempt(ctx, s.resource, audit.SQLInjectionDetails{
			ParamName:   r.ParamName,
			ParamValue:  r.ParamValue,
			Fingerprint: r.Fingerprint,
		}, clientIP)
	}
	return fmt.Errorf("%w: %s", ErrRejectedInput, results[0].ParamName)
}

// ReportInvalid logs a criteria parse failure.
func (s *Screener) ReportInvalid(ctx context.Context, err error, clientIP string) {
	s.auditor.LogSearchValidation(ctx, s.resource, err.Error(), clientIP)
}
