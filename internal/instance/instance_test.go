package instance

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cheapskate/internal/catalog"
	"github.com/yairfalse/cheapskate/internal/gateway"
	"github.com/yairfalse/cheapskate/internal/policy"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse(strings.NewReader(`{
		"t3.micro.Linux": {"sku": "A", "terms": {"T": {"priceDimensions": {"R": {"pricePerUnit": {"USD": "0.0104"}}}}}},
		"m5.large.Windows": {"terms": {"pricePerUnit": {"USD": "0.188"}}}
	}`))
	require.NoError(t, err)
	return c
}

func testRecord() gateway.Record {
	return gateway.Record{
		ID:           "i-abc",
		InstanceType: "t3.micro",
		StateCode:    gateway.StateRunning,
		StateName:    "running",
		LaunchTime:   time.Date(2024, 3, 1, 8, 15, 42, 0, time.UTC),
		Tags: map[string]string{
			"Name":       "  build-box ",
			"cheapskate": "grp=0/user=alice/off=2024-03-01T18:00/req=2024-03-01T08:00",
		},
	}
}

func TestNew(t *testing.T) {
	s, err := New(testRecord(), testCatalog(t), "")
	require.NoError(t, err)

	assert.Equal(t, "i-abc", s.ID)
	assert.Equal(t, "build-box", s.Name)
	assert.True(t, s.Running())
	assert.False(t, s.Stopped())
	assert.InDelta(t, 0.0104, s.HourlyPrice, 1e-9)
	assert.Equal(t, policy.GroupDefaultOff, s.Policy.Group)
	assert.Equal(t, "alice", s.Policy.Requester)
	assert.NoError(t, s.PolicyErr)
}

func TestNew_CatalogMiss(t *testing.T) {
	rec := testRecord()
	rec.Platform = "windows"

	_, err := New(rec, testCatalog(t), "")
	require.ErrorIs(t, err, catalog.ErrCatalogMiss)
}

func TestNew_PlatformUsedForPrice(t *testing.T) {
	rec := testRecord()
	rec.InstanceType = "m5.large"
	rec.Platform = "windows"

	s, err := New(rec, testCatalog(t), "")
	require.NoError(t, err)
	assert.InDelta(t, 0.188, s.HourlyPrice, 1e-9)
}

func TestNew_MalformedPolicyFallsBackToDefaults(t *testing.T) {
	rec := testRecord()
	rec.Tags["cheapskate"] = "grp=0/broken"

	s, err := New(rec, testCatalog(t), "")
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), s.Policy)
	assert.ErrorIs(t, s.PolicyErr, policy.ErrMalformedEntry)
}

func TestNew_NoTags(t *testing.T) {
	rec := testRecord()
	rec.Tags = nil

	s, err := New(rec, testCatalog(t), "")
	require.NoError(t, err)
	assert.Empty(t, s.Name)
	assert.Equal(t, policy.Default(), s.Policy)
}

func TestNew_CustomTagKey(t *testing.T) {
	rec := testRecord()
	rec.Tags["sched"] = "grp=2"

	s, err := New(rec, testCatalog(t), "sched")
	require.NoError(t, err)
	assert.Equal(t, policy.GroupBusinessHours, s.Policy.Group)
}

func TestRecord(t *testing.T) {
	s, err := New(testRecord(), testCatalog(t), "")
	require.NoError(t, err)

	rec := s.Record()

	assert.Equal(t, "0", rec["grp"])
	assert.Equal(t, "alice", rec["user"])
	assert.Equal(t, "2024-03-01T18:00", rec["off"])
	assert.Equal(t, "2024-03-01T08:00", rec["req"])
	assert.Equal(t, "build-box", rec["name"])
	assert.Equal(t, "i-abc", rec["id"])
	assert.Equal(t, "running", rec["status"])
	assert.Equal(t, "t3.micro", rec["type"])
	assert.Equal(t, "2024-03-01T08:15", rec["launchtime"])
	assert.Equal(t, "0.010", rec["hourlycost"])

	product, ok := rec["product"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "A", product["sku"])
	assert.Len(t, rec, 11)
}

func TestString(t *testing.T) {
	s, err := New(testRecord(), testCatalog(t), "")
	require.NoError(t, err)
	assert.Equal(t, "i-abc (build-box)", s.String())
}

func TestEncodedPolicy(t *testing.T) {
	rec := testRecord()
	rec.Tags["cheapskate"] = "grp=2/extra=1"

	s, err := New(rec, testCatalog(t), "")
	require.NoError(t, err)
	assert.Equal(t, "grp=2/user=/off=/req=", s.EncodedPolicy())
}
