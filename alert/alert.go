package alert

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/textileio/fleetwatch/fault"
)

// Handle identifies a dispatched message so it can be replied to later.
type Handle struct {
	ChannelID string
	MessageID string
}

// Channel is a human-facing destination for escalations.
type Channel interface {
	// Send posts content to the channel and returns a handle to the
	// posted message.
	Send(ctx context.Context, content string) (Handle, error)
	// Reply posts content as a threaded reply to the message h.
	Reply(ctx context.Context, h Handle, content string) (Handle, error)
}

// Retractions is the pool of messages posted when an escalated fault
// clears. Picking one at random keeps repeated retractions from reading
// like noise.
var Retractions = []string{
	"Oops, nvm, everything seems fine now!",
	"Forget that, everything is in order :)",
	"Oops, false alarm! Go back to doing nothing.",
	"Sorry, not sure what happened, but everything is fine now.",
	"I'm just a bot and can't fix anything, but the network is back up anyway.",
	"You should know better than to trust a bot, trust me.",
	"Must have been a bad dream, false alarm everyone!",
	"Never mind that one, it sorted itself out.",
	"Nvm that. Things look ok-ish, nothing to worry about... yet.",
}

// RandomRetraction returns a uniformly chosen message from Retractions.
func RandomRetraction(r *rand.Rand) string {
	return Retractions[r.Intn(len(Retractions))]
}

// EscalationText returns the broadcast message for a fault that has been
// active for too long in network.
func EscalationText(network string, f fault.Fault) string {
	return fmt.Sprintf("@everyone **[%s ERR]** code: %s, msg: %s\nPlease check the logs and make sure the %s is up, thanks! /Bot",
		strings.ToUpper(network), f.Kind, f.Detail, network)
}
