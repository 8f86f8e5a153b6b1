// Package sql screens user-supplied search values before they reach a query.
package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	ParamValue  string // The value that was checked
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a search parameter value.
//
// Returns nil if no injection is detected, or an InjectionCheckResult with
// details about the detected pattern.
//
// Example:
//
//	result := CheckParameterForInjection("exact_name", "cpu_usage")
//	// result == nil
//
//	result := CheckParameterForInjection("name", "'; DROP TABLE nodes--")
//	// result.IsSQLi == true
func CheckParameterForInjection(paramName, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// Param is a single named search value.
type Param struct {
	Name  string
	Value string
}

// CheckAllParameters returns one result per parameter that failed the check,
// in input order. Returns an empty slice if all parameters are clean.
func CheckAllParameters(params []Param) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, p := range params {
		if result := CheckParameterForInjection(p.Name, p.Value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
