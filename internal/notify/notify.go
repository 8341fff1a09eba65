// Package notify tells connected clients that a list changed so they fetch
// it again. Messages carry owner ids only, never list content.
package notify

import (
	"context"
	"log"

	"shoplist-sync-server/internal/websocket"
)

type Broadcaster interface {
	BroadcastToUsers(userIDs []string, message *websocket.Message) error
}

type MemberLister interface {
	Members(ctx context.Context, ownerID string) ([]string, error)
}

// HubNotifier delivers change messages to the owner and every collaborator
// connected to this instance.
type HubNotifier struct {
	members MemberLister
	hub     Broadcaster
}

func NewHubNotifier(members MemberLister, hub Broadcaster) *HubNotifier {
	return &HubNotifier{members: members, hub: hub}
}

func (n *HubNotifier) ListsChanged(ctx context.Context, ownerIDs ...string) {
	for _, owner := range ownerIDs {
		audience := []string{owner}
		members, err := n.members.Members(ctx, owner)
		if err != nil {
			log.Printf("[Notify] failed to load collaborators of %s: %v", owner, err)
		}
		audience = append(audience, members...)

		msg, err := websocket.NewMessage(websocket.TypeListsChanged, &websocket.ListsChangedPayload{OwnerID: owner})
		if err != nil {
			log.Printf("[Notify] failed to build message: %v", err)
			continue
		}
		if err := n.hub.BroadcastToUsers(audience, msg); err != nil {
			log.Printf("[Notify] broadcast for %s failed: %v", owner, err)
		}
	}
}
