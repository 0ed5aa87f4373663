// Package tagging copies an instance tag onto its volumes and their
// managed snapshots.
package tagging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cheapskate/internal/gateway"
)

// ManagedTag marks snapshots that are retagged. Only "true" matches.
const ManagedTag = "Managed"

// VolumeResult is what happened to one volume and its snapshots.
type VolumeResult struct {
	VolumeID  string            `json:"volume_id"`
	Err       string            `json:"error,omitempty"`
	Snapshots map[string]string `json:"snapshots,omitempty"`
}

// Result lists the volumes touched for one instance.
type Result struct {
	InstanceID string         `json:"instance_id"`
	Tag        string         `json:"tag"`
	Value      string         `json:"value"`
	Volumes    []VolumeResult `json:"volumes"`
}

// Propagate writes the instance's value for tag to every attached volume
// and to the managed snapshots of each volume. A failure on one resource
// is recorded and the rest are still attempted.
func Propagate(ctx context.Context, gw gateway.Gateway, rec gateway.Record, tag string) (Result, error) {
	res := Result{InstanceID: rec.ID, Tag: tag, Value: rec.Tag(tag)}

	volumes, err := gw.DescribeVolumes(ctx, gateway.Filter{
		Name:   "attachment.instance-id",
		Values: []string{rec.ID},
	})
	if err != nil {
		return res, fmt.Errorf("describe volumes for %s: %w", rec.ID, err)
	}

	var errs []error
	for _, v := range volumes {
		vr := VolumeResult{VolumeID: v.ID, Snapshots: make(map[string]string)}

		if err := gw.CreateTag(ctx, v.ID, tag, res.Value); err != nil {
			vr.Err = err.Error()
			errs = append(errs, err)
			res.Volumes = append(res.Volumes, vr)
			continue
		}

		snaps, err := gw.DescribeSnapshots(ctx,
			gateway.Filter{Name: "tag:" + ManagedTag, Values: []string{"true"}},
			gateway.Filter{Name: "volume-id", Values: []string{v.ID}},
		)
		if err != nil {
			vr.Err = err.Error()
			errs = append(errs, err)
			res.Volumes = append(res.Volumes, vr)
			continue
		}

		for _, s := range snaps {
			status := "tagged"
			if err := gw.CreateTag(ctx, s.ID, tag, res.Value); err != nil {
				status = err.Error()
				errs = append(errs, err)
			}
			vr.Snapshots[s.ID] = status
		}

		log.Info().
			Str("instance", rec.ID).
			Str("volume", v.ID).
			Int("snapshots", len(snaps)).
			Msg("propagated tag")
		res.Volumes = append(res.Volumes, vr)
	}

	return res, errors.Join(errs...)
}
