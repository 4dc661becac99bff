// internal/meraki/resolver.go
package meraki

import (
	"context"
	"time"
)

// SnapshotResolver liga o client a uma rede já resolvida na subida.
type SnapshotResolver struct {
	Client    *Client
	NetworkID string
}

func (r *SnapshotResolver) ResolveSnapshotURL(ctx context.Context, cameraID string, occurredAt time.Time) (string, error) {
	snap, err := r.Client.GenerateSnapshot(ctx, r.NetworkID, cameraID, occurredAt)
	if err != nil {
		return "", err
	}
	return snap.URL, nil
}

// ResolveNetwork faz org -> rede pelo nome. Qualquer erro aqui impede a subida.
func ResolveNetwork(ctx context.Context, c *Client, orgName, networkName string) (*Organization, *Network, error) {
	org, err := c.FindOrganization(ctx, orgName)
	if err != nil {
		return nil, nil, err
	}
	net, err := c.FindNetwork(ctx, org.ID, networkName)
	if err != nil {
		return org, nil, err
	}
	return org, net, nil
}
