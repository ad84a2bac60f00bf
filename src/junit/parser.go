// Package junit reads JUnit XML reports, as written by pytest --junitxml,
// and extracts the failing test cases.
package junit

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TestSuites is the root element for multiple test suites.
type TestSuites struct {
	XMLName    xml.Name    `xml:"testsuites"`
	TestSuites []TestSuite `xml:"testsuite"`
}

// TestSuite represents a <testsuite> element.
type TestSuite struct {
	Name      string     `xml:"name,attr"`
	Tests     int        `xml:"tests,attr"`
	Failures  int        `xml:"failures,attr"`
	Errors    int        `xml:"errors,attr"`
	Skipped   int        `xml:"skipped,attr"`
	Time      float64    `xml:"time,attr"`
	TestCases []TestCase `xml:"testcase"`
}

// TestCase represents a <testcase> element.
type TestCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	File      string   `xml:"file,attr"`
	Time      float64  `xml:"time,attr"`
	Failure   *Outcome `xml:"failure"`
	Error     *Outcome `xml:"error"`
	Skipped   *Outcome `xml:"skipped"`
}

// Outcome is the body of a <failure>, <error> or <skipped> element.
type Outcome struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// Kind distinguishes assertion failures from errors raised outside assertions.
type Kind string

const (
	KindFailure Kind = "failure"
	KindError   Kind = "error"
)

// TestFailure is one failing test case.
type TestFailure struct {
	Suite     string  `json:"suite,omitempty"`
	ClassName string  `json:"classname,omitempty"`
	Name      string  `json:"name"`
	Kind      Kind    `json:"kind"`
	Message   string  `json:"message,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Duration  float64 `json:"duration"`
}

// Summary counts test cases across all suites of a report.
type Summary struct {
	Tests    int
	Failures int
	Errors   int
	Skipped  int
}

// Report is a parsed JUnit document.
type Report struct {
	Suites []TestSuite
}

// ErrNoReport is returned by ParseFile when the report file does not exist,
// which happens when the test runner died before writing it.
var ErrNoReport = errors.New("junit report not found")

// Decode parses JUnit XML with either a <testsuites> or a <testsuite> root.
func Decode(data []byte) (*Report, error) {
	var suites TestSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.TestSuites) > 0 {
		return &Report{Suites: suites.TestSuites}, nil
	}

	var suite TestSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
	}
	return &Report{Suites: []TestSuite{suite}}, nil
}

// Parse returns only the failures and errors in data.
// Returns an empty slice if all tests passed.
func Parse(data []byte) ([]TestFailure, error) {
	report, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return report.Failures(), nil
}

// ParseFile is Parse for a report on disk.
func ParseFile(path string) ([]TestFailure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoReport, path)
		}
		return nil, fmt.Errorf("read junit report: %w", err)
	}
	return Parse(data)
}

// Failures lists failing and erroring cases in document order.
func (r *Report) Failures() []TestFailure {
	failures := []TestFailure{}
	for _, suite := range r.Suites {
		for _, tc := range suite.TestCases {
			if tc.Failure != nil {
				failures = append(failures, newFailure(suite, tc, KindFailure, tc.Failure))
			}
			if tc.Error != nil {
				failures = append(failures, newFailure(suite, tc, KindError, tc.Error))
			}
		}
	}
	return failures
}

// Summary counts the cases in the report. Counts come from the test cases
// themselves rather than suite attributes, which some writers leave out.
func (r *Report) Summary() Summary {
	var s Summary
	for _, suite := range r.Suites {
		for _, tc := range suite.TestCases {
			s.Tests++
			switch {
			case tc.Error != nil:
				s.Errors++
			case tc.Failure != nil:
				s.Failures++
			case tc.Skipped != nil:
				s.Skipped++
			}
		}
	}
	return s
}

func newFailure(suite TestSuite, tc TestCase, kind Kind, o *Outcome) TestFailure {
	return TestFailure{
		Suite:     suite.Name,
		ClassName: tc.ClassName,
		Name:      tc.Name,
		Kind:      kind,
		Message:   o.Message,
		Detail:    strings.TrimSpace(o.Content),
		Duration:  tc.Time,
	}
}

// ID returns the pytest-style node id, e.g. tests.test_api::test_upload.
func (tf TestFailure) ID() string {
	if tf.ClassName != "" {
		return tf.ClassName + "::" + tf.Name
	}
	return tf.Name
}

func (tf TestFailure) String() string {
	if tf.Message != "" {
		return fmt.Sprintf("[%s] %s: %s", tf.Kind, tf.ID(), firstLine(tf.Message))
	}
	return fmt.Sprintf("[%s] %s", tf.Kind, tf.ID())
}

// DetailLines returns up to maxLines lines of the failure detail.
func (tf TestFailure) DetailLines(maxLines int) []string {
	if tf.Detail == "" {
		return []string{}
	}
	lines := strings.Split(tf.Detail, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
