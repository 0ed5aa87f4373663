package tagging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cheapskate/internal/gateway"
	"github.com/yairfalse/cheapskate/internal/gateway/gatewaytest"
)

func setup() (*gatewaytest.Fake, gateway.Record) {
	rec := gateway.Record{
		ID:   "i-1",
		Tags: map[string]string{"CostCenter": "cc-42", "Name": "web"},
	}
	fake := gatewaytest.New(rec)
	fake.AttachVolume("i-1", gateway.Volume{ID: "vol-a"})
	fake.AttachVolume("i-1", gateway.Volume{ID: "vol-b"})
	fake.AttachVolume("i-other", gateway.Volume{ID: "vol-x"})
	fake.AddSnapshot(gateway.Snapshot{ID: "snap-1", VolumeID: "vol-a"}, map[string]string{"Managed": "true"})
	fake.AddSnapshot(gateway.Snapshot{ID: "snap-2", VolumeID: "vol-a"}, map[string]string{"Managed": "false"})
	fake.AddSnapshot(gateway.Snapshot{ID: "snap-3", VolumeID: "vol-b"}, map[string]string{"Managed": "true"})
	return fake, rec
}

func TestPropagate(t *testing.T) {
	fake, rec := setup()

	res, err := Propagate(context.Background(), fake, rec, "CostCenter")
	require.NoError(t, err)

	assert.Equal(t, "cc-42", res.Value)
	require.Len(t, res.Volumes, 2)
	assert.Equal(t, map[string]string{"snap-1": "tagged"}, res.Volumes[0].Snapshots)
	assert.Equal(t, map[string]string{"snap-3": "tagged"}, res.Volumes[1].Snapshots)

	assert.Equal(t, "cc-42", fake.ResourceTag("vol-a", "CostCenter"))
	assert.Equal(t, "cc-42", fake.ResourceTag("vol-b", "CostCenter"))
	assert.Equal(t, "cc-42", fake.ResourceTag("snap-1", "CostCenter"))
	assert.Empty(t, fake.ResourceTag("snap-2", "CostCenter"))
	assert.Empty(t, fake.ResourceTag("vol-x", "CostCenter"))
}

func TestPropagate_MissingTagWritesEmpty(t *testing.T) {
	fake, rec := setup()

	res, err := Propagate(context.Background(), fake, rec, "Owner")
	require.NoError(t, err)
	assert.Empty(t, res.Value)
	assert.Len(t, fake.CallsFor("tag"), 4)
}

func TestPropagate_ContinuesAfterVolumeFailure(t *testing.T) {
	fake, rec := setup()
	fake.Fail["tag:vol-a"] = errors.New("denied")

	res, err := Propagate(context.Background(), fake, rec, "CostCenter")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrProviderCall)

	require.Len(t, res.Volumes, 2)
	assert.Contains(t, res.Volumes[0].Err, "denied")
	assert.Equal(t, "cc-42", fake.ResourceTag("snap-3", "CostCenter"))
}

func TestPropagate_DescribeVolumesFails(t *testing.T) {
	fake, rec := setup()
	fake.Fail["volumes"] = errors.New("throttled")

	_, err := Propagate(context.Background(), fake, rec, "CostCenter")
	assert.ErrorIs(t, err, gateway.ErrProviderCall)
}
