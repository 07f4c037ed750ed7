package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	raw := `{
		"test": "/dom/nodes/Node-cloneNode.html",
		"status": 0,
		"message": null,
		"tests": [
			{"name": "clones", "status": 0, "message": null},
			{"name": "deep", "status": 1, "message": "assert_equals: expected 2 got 1"},
			{"name": "slow", "status": 2, "message": null},
			{"name": "skipped", "status": 3, "message": null}
		]
	}`
	var report HarnessReport
	require.NoError(t, json.Unmarshal([]byte(raw), &report))

	res, err := Convert("/dom/nodes/Node-cloneNode.html", &report)
	require.NoError(t, err)

	assert.Equal(t, HarnessOK, res.Status)
	assert.Empty(t, res.Message)
	require.Len(t, res.Subtests, 4)
	assert.Equal(t, SubtestResult{Name: "clones", Status: SubtestPass}, res.Subtests[0])
	assert.Equal(t, SubtestFail, res.Subtests[1].Status)
	assert.Equal(t, "assert_equals: expected 2 got 1", res.Subtests[1].Message)
	assert.Equal(t, SubtestTimeout, res.Subtests[2].Status)
	assert.Equal(t, SubtestNotRun, res.Subtests[3].Status)
}

func TestConvert_HarnessStatuses(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, HarnessOK},
		{1, HarnessError},
		{2, HarnessTimeout},
	}
	for _, tt := range tests {
		res, err := Convert("/a.html", &HarnessReport{Test: "/a.html", Status: tt.code})
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.Status)
		assert.NotNil(t, res.Subtests)
	}
}

func TestConvert_Mismatch(t *testing.T) {
	_, err := Convert("/a.html", &HarnessReport{Test: "/b.html"})
	require.Error(t, err)

	var he *HarvestError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, ErrCodeMismatch, he.Code)
	assert.Contains(t, he.Message, "/b.html")
}

func TestConvert_UnknownCodes(t *testing.T) {
	_, err := Convert("/a.html", &HarnessReport{Test: "/a.html", Status: 7})
	var he *HarvestError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, ErrCodeInvalidResult, he.Code)

	_, err = Convert("/a.html", &HarnessReport{
		Test:  "/a.html",
		Tests: []SubtestReport{{Name: "x", Status: 4}},
	})
	require.True(t, errors.As(err, &he))
	assert.Equal(t, ErrCodeInvalidResult, he.Code)
	assert.Contains(t, he.Message, `"x"`)
}

func TestTimeoutResult(t *testing.T) {
	res := TimeoutResult("/slow.html")
	assert.Equal(t, HarnessTimeout, res.Status)
	assert.Equal(t, "/slow.html", res.Test)
	assert.Empty(t, res.Subtests)
}

func TestCrashResult(t *testing.T) {
	res := CrashResult("/a.html", "target closed")
	assert.Equal(t, HarnessCrash, res.Status)
	assert.Equal(t, "target closed", res.Message)
	assert.Empty(t, res.Subtests)
}

func TestHarvestError(t *testing.T) {
	cause := errors.New("boom")
	err := NewHarvestError(ErrCodeNavigation, "navigation failed", cause)

	assert.Equal(t, "NAVIGATION_FAILED: navigation failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, &ErrorDetail{Code: ErrCodeNavigation, Message: "navigation failed"}, err.ToDetail())

	assert.Equal(t, "INTERNAL_ERROR: oops", NewHarvestError(ErrCodeInternal, "oops", nil).Error())
}

func TestRunRequest_Defaults(t *testing.T) {
	req := RunRequest{URL: "http://web-platform.test/a.html"}
	req.Defaults()
	assert.Equal(t, "callback", req.Strategy)
	assert.Zero(t, req.Timeout, "left to the configured default")

	req = RunRequest{Strategy: "direct", Timeout: 3}
	req.Defaults()
	assert.Equal(t, "direct", req.Strategy)
	assert.Equal(t, 3, req.Timeout)
}
