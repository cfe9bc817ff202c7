package buildinfo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func withVars(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	ov, oc, ob := Version, Commit, BuildTime
	Version, Commit, BuildTime = version, commit, buildTime
	t.Cleanup(func() { Version, Commit, BuildTime = ov, oc, ob })
}

func TestGet_Defaults(t *testing.T) {
	withBuildInfo(t, nil)

	info := Get("binaudit")
	assert.Equal(t, "binaudit", info.ServiceName)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, "dev (unknown, unknown)", String())
}

func TestGet_VCSStamp(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "4f1c2ab9d0e1"},
		{Key: "vcs.time", Value: "2026-10-01T09:00:00Z"},
	}})

	info := Get("worker")
	assert.Equal(t, "4f1c2ab", info.Commit)
	assert.Equal(t, "2026-10-01T09:00:00Z", info.BuildTime)
}

func TestGet_LdflagsWin(t *testing.T) {
	withVars(t, "v0.3.0", "abc1234", "2026-10-02T00:00:00Z")
	withBuildInfo(t, &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "ffffffffffff"},
	}})

	assert.Equal(t, "v0.3.0 (abc1234, 2026-10-02T00:00:00Z)", String())
}

func TestHandler(t *testing.T) {
	withBuildInfo(t, nil)

	rec := httptest.NewRecorder()
	Handler("worker")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "worker", info.ServiceName)
	assert.Equal(t, "dev", info.Version)
}
