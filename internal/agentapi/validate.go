package agentapi

import (
	"context"
	"fmt"
)

// PodChecker describes a pod lookup. HTTPClient satisfies it; tests stub it.
type PodChecker interface {
	DetailPod(ctx context.Context, podID string) (PodInfo, error)
}

// PodInfo is the validated subset of a pod description.
type PodInfo struct {
	PodID     string
	ProductID string
	ImageID   string
}

func (c *HTTPClient) DetailPod(ctx context.Context, podID string) (PodInfo, error) {
	d, err := c.detailPod(ctx, podID)
	if err != nil {
		return PodInfo{}, err
	}
	return PodInfo{PodID: d.PodID, ProductID: d.ProductID, ImageID: d.ImageID}, nil
}

// ValidatePods confirms each configured pod exists and belongs to productID
// before any case is dispatched. A pod that echoes back a different id, a
// different product, or an empty image is treated as misconfigured.
func ValidatePods(ctx context.Context, checker PodChecker, productID string, podIDs []string) error {
	for _, id := range podIDs {
		info, err := checker.DetailPod(ctx, id)
		if err != nil {
			return fmt.Errorf("validate pod %s: %w", id, err)
		}
		if info.PodID != "" && info.PodID != id {
			return fmt.Errorf("validate pod %s: response describes pod %s", id, info.PodID)
		}
		if info.ProductID != "" && info.ProductID != productID {
			return fmt.Errorf("validate pod %s: belongs to product %s, not %s", id, info.ProductID, productID)
		}
		if info.PodID != "" && info.ImageID == "" {
			return fmt.Errorf("validate pod %s: pod has no image", id)
		}
	}
	return nil
}
