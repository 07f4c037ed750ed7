package models

import "fmt"

// Harness statuses. CRASH is assigned by the runner when the session dies
// mid-run, never by the page.
const (
	HarnessOK      = "OK"
	HarnessError   = "ERROR"
	HarnessTimeout = "TIMEOUT"
	HarnessCrash   = "CRASH"
)

// Reftest statuses. Reftests also end in TIMEOUT or CRASH.
const (
	ReftestPass = "PASS"
	ReftestFail = "FAIL"
)

// Subtest statuses.
const (
	SubtestPass    = "PASS"
	SubtestFail    = "FAIL"
	SubtestTimeout = "TIMEOUT"
	SubtestNotRun  = "NOTRUN"
)

var harnessCodes = map[int]string{
	0: HarnessOK,
	1: HarnessError,
	2: HarnessTimeout,
}

var subtestCodes = map[int]string{
	0: SubtestPass,
	1: SubtestFail,
	2: SubtestTimeout,
	3: SubtestNotRun,
}

// HarnessReport is the JSON a testharness report script publishes.
type HarnessReport struct {
	Test    string          `json:"test"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Stack   string          `json:"stack,omitempty"`
	Tests   []SubtestReport `json:"tests"`
}

// SubtestReport is one entry of HarnessReport.Tests.
type SubtestReport struct {
	Name    string `json:"name"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// TestResult is the converted outcome of one test page.
type TestResult struct {
	Test     string          `json:"test"`
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Stack    string          `json:"stack,omitempty"`
	Subtests []SubtestResult `json:"subtests"`

	// Screenshots holds the pair of renderings a failed reftest compared.
	Screenshots []ReftestScreenshot `json:"screenshots,omitempty"`
}

// ReftestScreenshot identifies one rendering by the SHA-1 of its image.
type ReftestScreenshot struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// SubtestResult is the converted outcome of one subtest.
type SubtestResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// TimeoutResult is the result reported when no report arrived in time.
func TimeoutResult(test string) *TestResult {
	return &TestResult{Test: test, Status: HarnessTimeout, Subtests: []SubtestResult{}}
}

// CrashResult is the result reported when the session failed before the
// page could report.
func CrashResult(test, message string) *TestResult {
	return &TestResult{Test: test, Status: HarnessCrash, Message: message, Subtests: []SubtestResult{}}
}

// Convert turns a report for test into a TestResult. The report must name
// the same test, compared after the caller has stripped both of their
// server part, and use known status codes.
func Convert(test string, r *HarnessReport) (*TestResult, error) {
	if r.Test != test {
		return nil, NewHarvestError(ErrCodeMismatch,
			fmt.Sprintf("got results from %s, expected %s", r.Test, test), nil)
	}

	status, ok := harnessCodes[r.Status]
	if !ok {
		return nil, NewHarvestError(ErrCodeInvalidResult,
			fmt.Sprintf("unknown harness status %d", r.Status), nil)
	}

	res := &TestResult{
		Test:     test,
		Status:   status,
		Message:  r.Message,
		Stack:    r.Stack,
		Subtests: make([]SubtestResult, 0, len(r.Tests)),
	}
	for _, st := range r.Tests {
		code, ok := subtestCodes[st.Status]
		if !ok {
			return nil, NewHarvestError(ErrCodeInvalidResult,
				fmt.Sprintf("unknown status %d for subtest %q", st.Status, st.Name), nil)
		}
		res.Subtests = append(res.Subtests, SubtestResult{
			Name:    st.Name,
			Status:  code,
			Message: st.Message,
		})
	}
	return res, nil
}
